// Package network implements the TCP side of a connection: the listener,
// accepted clients, and the workers moving bytes between clients and the
// data bridge.
package network

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/irctrakz/ser2tcp/pkg/core"
	"github.com/irctrakz/ser2tcp/pkg/logging"
	"github.com/sirupsen/logrus"
)

// DefaultMaxClients is the number of clients accepted per connection.
const DefaultMaxClients = 1

// ServerOptions configures a Server.
type ServerOptions struct {
	Config       core.ConnectionConfig
	MaxClients   int
	ReadPoll     time.Duration
	WriteTimeout time.Duration
	LowDelayTOS  bool
	Logger       *logrus.Entry
}

// Server listens on the configured endpoint and keeps the set of live
// clients.
type Server struct {
	cfg  core.ConnectionConfig
	opts ServerOptions
	log  *logrus.Entry

	ready     chan struct{}
	readyOnce sync.Once

	mu      sync.Mutex
	addr    net.Addr
	clients []*Client
}

// NewServer creates a Server. Run starts it.
func NewServer(opts ServerOptions) *Server {
	if opts.MaxClients <= 0 {
		opts.MaxClients = DefaultMaxClients
	}
	if opts.ReadPoll <= 0 {
		opts.ReadPoll = DefaultReadPoll
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.ForConnection("listener", opts.Config.Index)
	}
	return &Server{
		cfg:   opts.Config,
		opts:  opts,
		log:   opts.Logger,
		ready: make(chan struct{}),
	}
}

// ConnectionIndex implements core.HasConnectionIndex.
func (s *Server) ConnectionIndex() int { return s.cfg.Index }

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Clients returns a snapshot of the live clients.
func (s *Server) Clients() []*Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.clients)
}

// ClientCount returns the number of live clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Disconnect removes c from the client set and closes it. Unknown or
// already removed clients are ignored.
func (s *Server) Disconnect(c *Client) {
	if c == nil {
		return
	}
	s.mu.Lock()
	n := len(s.clients)
	s.clients = slices.DeleteFunc(s.clients, func(x *Client) bool { return x == c })
	removed := len(s.clients) != n
	s.mu.Unlock()
	if removed {
		c.Close()
	}
}

// Run binds the listener and accepts clients until ctx is cancelled. Bind
// and accept failures are returned.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Address())
	if err != nil {
		s.log.WithError(err).WithField("address", s.cfg.Address()).Error("Listener failed")
		return fmt.Errorf("connection %d: listen on %s: %w", s.cfg.Index, s.cfg.Address(), err)
	}
	tcpLn := ln.(*net.TCPListener)
	log := s.log.WithField("address", ln.Addr().String())

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })
	log.Info("Listener started")

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer func() {
		stop()
		log.Info("Listener shutting down")
		ln.Close()
		s.closeAll()
	}()

	for {
		conn, err := tcpLn.AcceptTCP()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Error("Listener loop failed")
			return fmt.Errorf("connection %d: accept on %s: %w", s.cfg.Index, ln.Addr(), err)
		}
		s.admit(conn)
	}
}

func (s *Server) admit(conn *net.TCPConn) {
	c := newClient(conn, clientOptions{
		bufferSize:   s.cfg.SocketBufferSize(),
		readPoll:     s.opts.ReadPoll,
		writeTimeout: s.opts.WriteTimeout,
		lowDelayTOS:  s.opts.LowDelayTOS,
		log:          s.log,
	})
	if s.ClientCount() >= s.opts.MaxClients {
		c.log.WithField("max_clients", s.opts.MaxClients).Warn("Connection rejected: too many clients")
		c.discard()
		return
	}
	if !c.IsConnected() {
		c.log.Warn("Connection did not complete")
		c.discard()
		return
	}

	s.mu.Lock()
	s.clients = append(s.clients, c)
	s.mu.Unlock()
	c.log.Info("Client accepted")
}

func (s *Server) closeAll() {
	s.mu.Lock()
	clients := s.clients
	s.clients = nil
	s.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}
