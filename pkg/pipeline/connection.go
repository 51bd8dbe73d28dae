// Package pipeline assembles the workers of each serial to TCP pairing and
// supervises them.
package pipeline

import (
	"context"
	"fmt"

	"github.com/irctrakz/ser2tcp/pkg/bridge"
	"github.com/irctrakz/ser2tcp/pkg/config"
	"github.com/irctrakz/ser2tcp/pkg/core"
	"github.com/irctrakz/ser2tcp/pkg/logging"
	"github.com/irctrakz/ser2tcp/pkg/network"
	"github.com/irctrakz/ser2tcp/pkg/serial"
	"github.com/irctrakz/ser2tcp/pkg/stats"
	"github.com/irctrakz/ser2tcp/pkg/supervisor"
	"github.com/sirupsen/logrus"
)

// Options configures a Connection.
type Options struct {
	Config   core.ConnectionConfig
	Service  config.ServiceConfig
	Serial   config.SerialConfig
	Provider serial.Provider
	Logger   *logrus.Entry
}

// Connection is one pairing: a listener, a sender, a receiver and a serial
// broker sharing one data bridge. Any worker stopping stops the others.
type Connection struct {
	cfg    core.ConnectionConfig
	log    *logrus.Entry
	bridge *bridge.DataBridge

	server   *network.Server
	sender   *network.Sender
	receiver *network.Receiver
	broker   *serial.Broker
	group    *supervisor.Group
}

// NewConnection wires the workers of one pairing. Run starts them.
func NewConnection(opts Options) *Connection {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = logging.ForConnection("pipeline", cfg.Index)
	}
	svc := opts.Service
	window := stats.Options{Capacity: svc.StatsWindow, IgnoreZeroes: true}

	b := bridge.New(bridge.Options{Capacity: svc.BufferCapacity, Growth: svc.BufferGrowth})
	server := network.NewServer(network.ServerOptions{
		Config:       cfg,
		MaxClients:   svc.MaxClients,
		ReadPoll:     svc.ReadPoll.Std(),
		WriteTimeout: svc.WriteTimeout.Std(),
		LowDelayTOS:  svc.LowDelayTOS,
		Logger:       log.WithField("component", "listener"),
	})
	sender := network.NewSender(network.WorkerOptions{
		Server:      server,
		Bridge:      b,
		Stats:       stats.NewCollector[int](window),
		ReportEvery: svc.ReportEvery,
		IdleDelay:   svc.IdleDelay.Std(),
		Logger:      log.WithField("component", "sender"),
	})
	receiver := network.NewReceiver(network.WorkerOptions{
		Server:      server,
		Bridge:      b,
		Stats:       stats.NewCollector[int](window),
		ReportEvery: svc.ReportEvery,
		IdleDelay:   svc.IdleDelay.Std(),
		Logger:      log.WithField("component", "receiver"),
	})
	broker := serial.NewBroker(serial.BrokerOptions{
		Config:         cfg,
		Bridge:         b,
		Provider:       opts.Provider,
		ChunkSize:      opts.Serial.ChunkSize,
		IdleDelay:      svc.IdleDelay.Std(),
		ReconnectDelay: svc.ReconnectDelay.Std(),
		RX:             stats.NewCollector[int](window),
		TX:             stats.NewCollector[int](window),
		ReportEvery:    svc.ReportEvery,
		Logger:         log.WithField("component", "broker"),
	})

	group := supervisor.New(supervisor.Options{
		Policy: supervisor.FailFast,
		Grace:  svc.ShutdownGrace.Std(),
		Logger: log,
	},
		supervisor.Child{Name: "listener", Runnable: server},
		supervisor.Child{Name: "sender", Runnable: sender},
		supervisor.Child{Name: "receiver", Runnable: receiver},
		supervisor.Child{Name: "broker", Runnable: broker},
	)

	return &Connection{
		cfg:      cfg,
		log:      log,
		bridge:   b,
		server:   server,
		sender:   sender,
		receiver: receiver,
		broker:   broker,
		group:    group,
	}
}

// ConnectionIndex implements core.HasConnectionIndex.
func (c *Connection) ConnectionIndex() int { return c.cfg.Index }

// DataBridge implements core.HasDataBridge.
func (c *Connection) DataBridge() *bridge.DataBridge { return c.bridge }

// Config returns the pairing configuration.
func (c *Connection) Config() core.ConnectionConfig { return c.cfg }

// Server returns the TCP listener.
func (c *Connection) Server() *network.Server { return c.server }

// Broker returns the serial broker.
func (c *Connection) Broker() *serial.Broker { return c.broker }

// State returns the supervision state.
func (c *Connection) State() supervisor.State { return c.group.State() }

// Run runs the workers until ctx is cancelled or one of them stops. The
// bridge is closed afterwards.
func (c *Connection) Run(ctx context.Context) error {
	c.log.WithFields(logrus.Fields{
		"address":   c.cfg.Address(),
		"port_name": c.cfg.PortName,
		"baud":      c.cfg.BaudRate,
		"data_bits": c.cfg.DataBits,
		"parity":    c.cfg.Parity.String(),
		"stop_bits": c.cfg.StopBits.String(),
	}).Info("Connection pipeline starting")

	err := c.group.Run(ctx)
	if cerr := c.bridge.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("connection %d: close bridge: %w", c.cfg.Index, cerr)
	}
	c.log.Info("Connection pipeline stopped")
	return err
}

// Throughput summarizes one direction of one side of a pairing.
type Throughput struct {
	Samples  int64   `json:"samples"`
	Bytes    float64 `json:"bytes"`
	Rate     float64 `json:"rate"`
	RateOK   bool    `json:"rateOK"`
	PeakRate float64 `json:"peakRate"`
}

func throughput(src stats.Source) Throughput {
	s := src.Snapshot()
	t := Throughput{
		Samples: src.LifetimeCount(),
		Bytes:   src.LifetimeSum(),
	}
	if s.OK() {
		t.Rate, t.RateOK = s.NaturalRate, s.NaturalRateOK
		t.PeakRate = s.RateMax
	}
	return t
}

// Snapshot is a point in time view of a Connection.
type Snapshot struct {
	Index     int              `json:"index"`
	Address   string           `json:"address"`
	State     supervisor.State `json:"state"`
	Broker    serial.State     `json:"broker"`
	PortName  string           `json:"portName"`
	Clients   int              `json:"clients"`
	ToDevice  int              `json:"toDevice"`
	ToNetwork int              `json:"toNetwork"`

	// NetworkTX is bytes sent to clients, NetworkRX bytes received from
	// them. SerialRX is bytes read from the device, SerialTX bytes written.
	NetworkTX Throughput `json:"networkTX"`
	NetworkRX Throughput `json:"networkRX"`
	SerialRX  Throughput `json:"serialRX"`
	SerialTX  Throughput `json:"serialTX"`
}

// Snapshot captures the current state and throughput.
func (c *Connection) Snapshot() Snapshot {
	addr := c.cfg.Address()
	if a := c.server.Addr(); a != nil {
		addr = a.String()
	}
	return Snapshot{
		Index:     c.cfg.Index,
		Address:   addr,
		State:     c.group.State(),
		Broker:    c.broker.State(),
		PortName:  c.broker.PortName(),
		Clients:   c.server.ClientCount(),
		ToDevice:  c.bridge.ToDevice.Len(),
		ToNetwork: c.bridge.ToNetwork.Len(),
		NetworkTX: throughput(c.sender.Stats()),
		NetworkRX: throughput(c.receiver.Stats()),
		SerialRX:  throughput(c.broker.RXStats()),
		SerialTX:  throughput(c.broker.TXStats()),
	}
}
