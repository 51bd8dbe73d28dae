package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/irctrakz/ser2tcp/pkg/config"
	"github.com/irctrakz/ser2tcp/pkg/logging"
	"github.com/irctrakz/ser2tcp/pkg/serial"
	"github.com/irctrakz/ser2tcp/pkg/supervisor"
	"github.com/sirupsen/logrus"
)

// ErrNoConnections is returned by Root.Run when nothing is configured.
var ErrNoConnections = errors.New("pipeline: no connections configured")

// RootOptions configures a Root.
type RootOptions struct {
	Config *config.Config
	// Provider overrides the driver named by Config.Serial.Driver.
	Provider serial.Provider
	Logger   *logrus.Entry
}

// Root runs one Connection per configured entry. A failing connection is
// logged and left stopped while the others keep running.
type Root struct {
	log         *logrus.Entry
	connections []*Connection
	group       *supervisor.Group
}

// NewRoot builds every connection of the configuration.
func NewRoot(opts RootOptions) (*Root, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := opts.Logger
	if log == nil {
		log = logging.ForComponent("root")
	}

	provider := opts.Provider
	if provider == nil {
		p, err := serial.NewProvider(cfg.Serial.Driver, serial.ProviderOptions{
			ReadTimeout: cfg.Serial.ReadTimeout.Std(),
		})
		if err != nil {
			return nil, err
		}
		provider = p
	}

	r := &Root{log: log}
	children := make([]supervisor.Child, 0, len(cfg.Connections))
	for i, cc := range cfg.Connections {
		cc.Index = i
		connLog := log.WithFields(logrus.Fields{
			"component":  "pipeline",
			"connection": i,
		})
		conn := NewConnection(Options{
			Config:   cc,
			Service:  cfg.Service,
			Serial:   cfg.Serial,
			Provider: provider,
			Logger:   connLog,
		})
		r.connections = append(r.connections, conn)
		children = append(children, supervisor.Child{
			Name:     fmt.Sprintf("connection-%d", i),
			Runnable: conn,
		})
	}
	r.group = supervisor.New(supervisor.Options{
		Policy: supervisor.Isolated,
		Grace:  cfg.Service.ShutdownGrace.Std(),
		Logger: log,
	}, children...)
	return r, nil
}

// Connections returns the pipelines in configuration order.
func (r *Root) Connections() []*Connection { return r.connections }

// State returns the supervision state.
func (r *Root) State() supervisor.State { return r.group.State() }

// Snapshots captures every pipeline.
func (r *Root) Snapshots() []Snapshot {
	out := make([]Snapshot, len(r.connections))
	for i, c := range r.connections {
		out[i] = c.Snapshot()
	}
	return out
}

// Run runs every pipeline until ctx is cancelled or all of them stopped.
// The returned error joins every pipeline failure.
func (r *Root) Run(ctx context.Context) error {
	if len(r.connections) == 0 {
		r.log.Error("No connections configured")
		return ErrNoConnections
	}
	r.log.WithField("connections", len(r.connections)).Info("Service starting")
	err := r.group.Run(ctx)
	if err != nil {
		r.log.WithError(err).Error("Service stopped with failures")
	} else {
		r.log.Info("Service stopped")
	}
	return err
}
