package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

// ErrNotConnected is returned by Send and Receive once the peer is gone.
var ErrNotConnected = errors.New("network: client not connected")

// tosLowDelay is the IPTOS_LOWDELAY type of service value.
const tosLowDelay = 0x10

// Default client timings.
const (
	DefaultReadPoll     = time.Millisecond
	DefaultWriteTimeout = 5 * time.Second
)

type clientOptions struct {
	bufferSize   int
	readPoll     time.Duration
	writeTimeout time.Duration
	lowDelayTOS  bool
	log          *logrus.Entry
}

// Client is one accepted TCP connection. Send and Receive are serialized.
type Client struct {
	id           uuid.UUID
	conn         *net.TCPConn
	raw          syscall.RawConn
	remote       string
	bufferSize   int
	readPoll     time.Duration
	writeTimeout time.Duration
	log          *logrus.Entry

	mu      sync.Mutex
	readBuf []byte

	alive  atomic.Bool
	closed atomic.Bool
}

func newClient(conn *net.TCPConn, opts clientOptions) *Client {
	c := &Client{
		id:           uuid.New(),
		conn:         conn,
		remote:       conn.RemoteAddr().String(),
		bufferSize:   opts.bufferSize,
		readPoll:     opts.readPoll,
		writeTimeout: opts.writeTimeout,
		readBuf:      make([]byte, opts.bufferSize),
	}
	c.log = opts.log.WithFields(logrus.Fields{
		"client": c.id.String(),
		"remote": c.remote,
	})
	c.alive.Store(true)

	if err := conn.SetNoDelay(true); err != nil {
		c.log.WithError(err).Debug("Failed to disable Nagle")
	}
	if err := conn.SetReadBuffer(c.bufferSize); err != nil {
		c.log.WithError(err).Debug("Failed to size receive buffer")
	}
	if err := conn.SetWriteBuffer(c.bufferSize); err != nil {
		c.log.WithError(err).Debug("Failed to size send buffer")
	}
	if opts.lowDelayTOS {
		if ra, ok := conn.RemoteAddr().(*net.TCPAddr); ok && ra.IP.To4() != nil {
			if err := ipv4.NewConn(conn).SetTOS(tosLowDelay); err != nil {
				c.log.WithError(err).Debug("Failed to set low delay TOS")
			}
		}
	}
	if raw, err := conn.SyscallConn(); err == nil {
		c.raw = raw
	}
	return c
}

// ID returns the session id assigned on accept.
func (c *Client) ID() uuid.UUID { return c.id }

// RemoteAddr returns the peer address.
func (c *Client) RemoteAddr() string { return c.remote }

// BufferSize returns the socket and read buffer size.
func (c *Client) BufferSize() int { return c.bufferSize }

// IsConnected reports whether the peer is still there.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected()
}

// connected must be called with mu held.
func (c *Client) connected() bool {
	if c.closed.Load() || !c.alive.Load() {
		return false
	}
	if c.raw == nil {
		return true
	}
	// An expired poll deadline left by Receive would fail the peek.
	_ = c.conn.SetReadDeadline(time.Time{})
	gone, err := peerClosed(c.raw)
	if gone || err != nil {
		c.alive.Store(false)
		return false
	}
	return true
}

// Send writes data in chunks no larger than the socket buffer. A failed
// write closes the client.
func (c *Client) Send(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected() {
		return c.fail("send", ErrNotConnected)
	}
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := data[:min(len(data), c.bufferSize)]
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		n, err := c.conn.Write(chunk)
		if err != nil {
			return c.fail("write", err)
		}
		data = data[n:]
	}
	return nil
}

// Receive drains whatever is readable right now, up to the buffer size.
// The returned slice is only valid until the next call. When the read
// fails the bytes already read are returned with the error and the client
// is closed.
func (c *Client) Receive(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected() {
		return nil, c.fail("receive", ErrNotConnected)
	}
	n := 0
	for n < len(c.readBuf) && ctx.Err() == nil {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readPoll))
		m, err := c.conn.Read(c.readBuf[n:])
		n += m
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				break
			}
			return c.readBuf[:n], c.fail("read", err)
		}
		if m == 0 {
			break
		}
	}
	return c.readBuf[:n], nil
}

func (c *Client) fail(op string, err error) error {
	c.alive.Store(false)
	if !c.closed.Load() {
		c.log.WithError(err).Warnf("Client %s failed", op)
	}
	c.Close()
	return fmt.Errorf("client %s: %s: %w", c.remote, op, err)
}

// Close closes the socket. It is safe to call more than once.
func (c *Client) Close() error {
	return c.shutdown(true)
}

// discard closes a client that was never admitted.
func (c *Client) discard() {
	_ = c.shutdown(false)
}

func (c *Client) shutdown(logDisconnect bool) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.alive.Store(false)
	err := c.conn.Close()
	if logDisconnect {
		c.log.Info("Client disconnected")
	}
	return err
}
