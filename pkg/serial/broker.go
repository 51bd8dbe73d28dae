package serial

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irctrakz/ser2tcp/pkg/bridge"
	"github.com/irctrakz/ser2tcp/pkg/core"
	"github.com/irctrakz/ser2tcp/pkg/logging"
	"github.com/irctrakz/ser2tcp/pkg/stats"
	"github.com/sirupsen/logrus"
)

// Broker defaults.
const (
	DefaultChunkSize      = 4096
	DefaultIdleDelay      = time.Millisecond
	DefaultReconnectDelay = 500 * time.Millisecond
)

// State is the broker connection state.
type State int32

// Broker states.
const (
	StateDisconnected State = iota
	StateScanning
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for v := StateDisconnected; v <= StateConnected; v++ {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// BrokerOptions configures a Broker.
type BrokerOptions struct {
	Config   core.ConnectionConfig
	Bridge   *bridge.DataBridge
	Provider Provider

	// ChunkSize caps the bytes moved in each direction per tick.
	ChunkSize      int
	IdleDelay      time.Duration
	ReconnectDelay time.Duration

	// RX samples reads from the device, TX samples writes to it.
	RX          *stats.Collector[int]
	TX          *stats.Collector[int]
	ReportEvery int

	Logger *logrus.Entry
}

// Broker keeps one serial port open and exchanges bytes between it and
// the bridge. While no port is open, bytes queued for the device are
// discarded.
type Broker struct {
	cfg      core.ConnectionConfig
	bridge   *bridge.DataBridge
	provider Provider
	log      *logrus.Entry

	chunkSize      int
	idleDelay      time.Duration
	reconnectDelay time.Duration

	rx, tx             *stats.Collector[int]
	rxReport, txReport *stats.Reporter

	state    atomic.Int32
	mu       sync.Mutex
	portName string
}

// NewBroker creates a Broker.
func NewBroker(opts BrokerOptions) *Broker {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.IdleDelay <= 0 {
		opts.IdleDelay = DefaultIdleDelay
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.RX == nil {
		opts.RX = stats.NewCollector[int](stats.Options{IgnoreZeroes: true})
	}
	if opts.TX == nil {
		opts.TX = stats.NewCollector[int](stats.Options{IgnoreZeroes: true})
	}
	if opts.Logger == nil {
		opts.Logger = logging.ForConnection("broker", opts.Config.Index)
	}
	src := opts.Logger.WithField("source", "serial")
	return &Broker{
		cfg:            opts.Config,
		bridge:         opts.Bridge,
		provider:       opts.Provider,
		log:            opts.Logger,
		chunkSize:      opts.ChunkSize,
		idleDelay:      opts.IdleDelay,
		reconnectDelay: opts.ReconnectDelay,
		rx:             opts.RX,
		tx:             opts.TX,
		rxReport:       stats.NewReporter(src, opts.RX, stats.RX, opts.ReportEvery),
		txReport:       stats.NewReporter(src, opts.TX, stats.TX, opts.ReportEvery),
	}
}

// ConnectionIndex implements core.HasConnectionIndex.
func (b *Broker) ConnectionIndex() int { return b.cfg.Index }

// DataBridge implements core.HasDataBridge.
func (b *Broker) DataBridge() *bridge.DataBridge { return b.bridge }

// State returns the current connection state.
func (b *Broker) State() State { return State(b.state.Load()) }

// PortName returns the name of the open port, or "".
func (b *Broker) PortName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.portName
}

// RXStats returns the device read collector.
func (b *Broker) RXStats() *stats.Collector[int] { return b.rx }

// TXStats returns the device write collector.
func (b *Broker) TXStats() *stats.Collector[int] { return b.tx }

func (b *Broker) setState(s State) { b.state.Store(int32(s)) }

func (b *Broker) setPort(name string) {
	b.mu.Lock()
	b.portName = name
	b.mu.Unlock()
}

// Run ticks until ctx is cancelled. Port failures never end it.
func (b *Broker) Run(ctx context.Context) error {
	readBuf := make([]byte, b.chunkSize)
	writeBuf := make([]byte, b.chunkSize)

	var port Port
	backoff := false
	defer func() {
		if port != nil {
			b.release(port)
		}
		b.log.Info("Serial port broker stopped")
	}()

	for ctx.Err() == nil {
		// drained whether or not a port is open
		pending := b.bridge.ToDevice.Dequeue(writeBuf)

		if backoff {
			backoff = false
			if !core.Sleep(ctx, b.reconnectDelay) {
				break
			}
			continue
		}

		if port == nil {
			if port = b.connect(); port == nil {
				backoff = true
				continue
			}
		}

		read, err := b.transfer(port, readBuf, writeBuf[:pending])
		if err != nil {
			b.log.WithError(err).WithField("port", port.Name()).Info("Serial port disconnected")
			b.release(port)
			port = nil
			continue
		}

		if read == 0 && pending == 0 && b.bridge.ToDevice.Len() == 0 {
			if !core.Sleep(ctx, b.idleDelay) {
				break
			}
		}
	}
	return nil
}

func (b *Broker) connect() Port {
	b.setState(StateScanning)
	names, err := b.provider.PortNames()
	if err != nil {
		b.log.WithError(err).Debug("Serial port enumeration failed")
		b.setState(StateDisconnected)
		return nil
	}
	candidates := wantedPorts(names, b.cfg.PortName)
	if len(candidates) == 0 {
		b.setState(StateDisconnected)
		return nil
	}

	b.setState(StateConnecting)
	settings := b.cfg.Serial()
	for _, name := range candidates {
		log := b.log.WithField("port", name)
		log.Debug("Attempting serial port connection")
		port, err := b.provider.Open(name, settings)
		if err != nil {
			log.WithError(err).Debug("Serial port connection failed")
			continue
		}
		log.WithFields(logrus.Fields{
			"baud":      settings.BaudRate,
			"data_bits": settings.DataBits,
			"parity":    settings.Parity.String(),
			"stop_bits": settings.StopBits.String(),
		}).Info("Serial port connection established")
		b.setPort(name)
		b.setState(StateConnected)
		return port
	}
	b.setState(StateDisconnected)
	return nil
}

// transfer reads once from the port into the to-network queue, then
// writes pending to the port.
func (b *Broker) transfer(port Port, readBuf, pending []byte) (int, error) {
	rec := b.rx.BeginSample()
	n, err := port.Read(readBuf)
	if n > 0 {
		if qerr := b.bridge.ToNetwork.Enqueue(readBuf[:n]); qerr != nil {
			return n, qerr
		}
	}
	_ = rec.Record(n)
	b.rxReport.Report()
	if err != nil {
		return n, fmt.Errorf("read %s: %w", port.Name(), err)
	}

	if len(pending) > 0 {
		rec := b.tx.BeginSample()
		for written := 0; written < len(pending); {
			m, err := port.Write(pending[written:])
			if err == nil && m == 0 {
				err = io.ErrShortWrite
			}
			if err != nil {
				return n, fmt.Errorf("write %s: %w", port.Name(), err)
			}
			written += m
		}
		_ = rec.Record(len(pending))
		b.txReport.Report()
	}
	return n, nil
}

func (b *Broker) release(port Port) {
	_ = port.Close()
	b.setPort("")
	b.setState(StateDisconnected)
}
