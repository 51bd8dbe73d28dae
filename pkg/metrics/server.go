package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/irctrakz/ser2tcp/pkg/logging"
	"github.com/irctrakz/ser2tcp/pkg/pipeline"
	"github.com/irctrakz/ser2tcp/pkg/serial"
	"github.com/irctrakz/ser2tcp/pkg/supervisor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// DefaultPath is where metrics are served when no path is configured.
const DefaultPath = "/metrics"

const shutdownTimeout = 2 * time.Second

// ServerOptions configures a Server.
type ServerOptions struct {
	Listen string
	Path   string
	Source Source
	Logger *logrus.Entry
}

// Server serves the metrics and health endpoints.
type Server struct {
	listen  string
	path    string
	src     Source
	handler http.Handler
	log     *logrus.Entry

	mu   sync.Mutex
	addr net.Addr
}

// NewServer creates a Server. Run starts it.
func NewServer(opts ServerOptions) *Server {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.Logger == nil {
		opts.Logger = logging.ForComponent("metrics")
	}
	s := &Server{
		listen: opts.Listen,
		path:   opts.Path,
		src:    opts.Source,
		log:    opts.Logger,
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(
		NewRegistry(opts.Source),
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	))
	mux.HandleFunc("/health", s.health)
	s.handler = mux
	return s
}

// Handler returns the HTTP handler serving both endpoints.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the bound address, or nil before Run bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.listen)
	if err != nil {
		return fmt.Errorf("metrics: listen on %s: %w", s.listen, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	s.log.WithField("address", ln.Addr().String()).Infof("Serving metrics on %s and health on /health", s.path)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: serve: %w", err)
	}
	return nil
}

type connectionHealth struct {
	Index    int              `json:"index"`
	Address  string           `json:"address"`
	State    supervisor.State `json:"state"`
	Serial   serial.State     `json:"serial"`
	PortName string           `json:"portName,omitempty"`
	Clients  int              `json:"clients"`
}

type healthReport struct {
	Status      string             `json:"status"`
	Connections []connectionHealth `json:"connections"`
}

// health answers 200 while every pipeline runs and 503 otherwise.
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	snaps := s.src.Snapshots()
	report := healthReport{Status: "ok", Connections: make([]connectionHealth, 0, len(snaps))}
	code := http.StatusOK
	if len(snaps) == 0 {
		report.Status, code = "unavailable", http.StatusServiceUnavailable
	}
	for _, snap := range snaps {
		if snap.State != supervisor.StateRunning {
			report.Status, code = "unavailable", http.StatusServiceUnavailable
		}
		report.Connections = append(report.Connections, connectionHealth{
			Index:    snap.Index,
			Address:  snap.Address,
			State:    snap.State,
			Serial:   snap.Broker,
			PortName: snap.PortName,
			Clients:  snap.Clients,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

var _ Source = (*pipeline.Root)(nil)
