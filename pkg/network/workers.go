package network

import (
	"context"
	"time"

	"github.com/irctrakz/ser2tcp/pkg/bridge"
	"github.com/irctrakz/ser2tcp/pkg/core"
	"github.com/irctrakz/ser2tcp/pkg/stats"
	"github.com/sirupsen/logrus"
)

// DefaultIdleDelay is the pause taken when a worker has nothing to do.
const DefaultIdleDelay = time.Millisecond

// WorkerOptions configures a Sender or Receiver.
type WorkerOptions struct {
	Server *Server
	Bridge *bridge.DataBridge
	// Stats receives one sample per client transfer. Optional.
	Stats       *stats.Collector[int]
	ReportEvery int
	IdleDelay   time.Duration
	Logger      *logrus.Entry
}

type worker struct {
	server   *Server
	bridge   *bridge.DataBridge
	stats    *stats.Collector[int]
	reporter *stats.Reporter
	idle     time.Duration
	log      *logrus.Entry
}

func newWorker(opts WorkerOptions, dir stats.Direction) worker {
	if opts.IdleDelay <= 0 {
		opts.IdleDelay = DefaultIdleDelay
	}
	if opts.Stats == nil {
		opts.Stats = stats.NewCollector[int](stats.Options{IgnoreZeroes: true})
	}
	if opts.Logger == nil {
		opts.Logger = opts.Server.log
	}
	return worker{
		server:   opts.Server,
		bridge:   opts.Bridge,
		stats:    opts.Stats,
		reporter: stats.NewReporter(opts.Logger.WithField("source", "network"), opts.Stats, dir, opts.ReportEvery),
		idle:     opts.IdleDelay,
		log:      opts.Logger,
	}
}

// ConnectionIndex implements core.HasConnectionIndex.
func (w *worker) ConnectionIndex() int { return w.server.ConnectionIndex() }

// DataBridge implements core.HasDataBridge.
func (w *worker) DataBridge() *bridge.DataBridge { return w.bridge }

// Stats returns the collector fed by this worker.
func (w *worker) Stats() *stats.Collector[int] { return w.stats }

// Sender drains the to-network queue and writes the bytes to every client.
type Sender struct {
	worker
}

// NewSender creates a Sender.
func NewSender(opts WorkerOptions) *Sender {
	return &Sender{worker: newWorker(opts, stats.TX)}
}

// Run loops until ctx is cancelled. Bytes drained while no client is
// connected are dropped.
func (s *Sender) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		clients := s.server.Clients()
		data := s.bridge.ToNetwork.DequeueAll()

		if len(clients) == 0 || len(data) == 0 {
			if !core.Sleep(ctx, s.idle) {
				break
			}
			continue
		}

		for _, c := range clients {
			rec := s.stats.BeginSample()
			if err := c.Send(ctx, data); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.server.Disconnect(c)
				continue
			}
			_ = rec.Record(len(data))
			s.reporter.Report()
		}
	}
	return nil
}

// Receiver reads from every client and queues the bytes for the device.
type Receiver struct {
	worker
}

// NewReceiver creates a Receiver.
func NewReceiver(opts WorkerOptions) *Receiver {
	return &Receiver{worker: newWorker(opts, stats.RX)}
}

// Run loops until ctx is cancelled.
func (r *Receiver) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		clients := r.server.Clients()
		received := 0

		for _, c := range clients {
			rec := r.stats.BeginSample()
			data, err := c.Receive(ctx)
			if len(data) > 0 {
				if qerr := r.bridge.ToDevice.Enqueue(data); qerr != nil {
					if ctx.Err() != nil {
						return nil
					}
					return qerr
				}
				received += len(data)
			}
			_ = rec.Record(len(data))
			r.reporter.Report()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.server.Disconnect(c)
			}
		}

		if received == 0 && !core.Sleep(ctx, r.idle) {
			break
		}
	}
	return nil
}
