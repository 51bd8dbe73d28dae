// Package serial owns the device side of a connection: port drivers and
// the broker that keeps a port open and moves bytes through the bridge.
package serial

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/irctrakz/ser2tcp/pkg/core"
)

// Driver names accepted by NewProvider.
const (
	DriverNative = "native"
	DriverGurux  = "gurux"
	DriverMock   = "mock"
)

// DefaultReadTimeout bounds a single port read.
const DefaultReadTimeout = time.Millisecond

// ErrPortClosed is returned by I/O on a closed port.
var ErrPortClosed = errors.New("serial: port closed")

// Port is an open serial port. Read returns 0, nil when nothing arrived
// within the driver read timeout.
type Port interface {
	io.ReadWriteCloser
	Name() string
}

// Provider enumerates and opens serial ports.
type Provider interface {
	PortNames() ([]string, error)
	Open(name string, settings core.SerialSettings) (Port, error)
}

// ProviderOptions configures the drivers.
type ProviderOptions struct {
	ReadTimeout time.Duration
}

// NewProvider returns the driver registered under name.
func NewProvider(name string, opts ProviderOptions) (Provider, error) {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", DriverNative:
		return &NativeProvider{ReadTimeout: opts.ReadTimeout}, nil
	case DriverGurux:
		return &GuruxProvider{ReadTimeout: opts.ReadTimeout}, nil
	case DriverMock:
		p := NewMockProvider("MOCK0")
		p.SetLoopback(true)
		return p, nil
	default:
		return nil, fmt.Errorf("unknown serial driver: %s", name)
	}
}

// wantedPorts returns the ports worth trying. With a configured name only
// the matching port is tried, compared case-insensitively.
func wantedPorts(available []string, configured string) []string {
	configured = strings.TrimSpace(configured)
	if configured == "" {
		return available
	}
	for _, name := range available {
		if strings.EqualFold(name, configured) {
			return []string{name}
		}
	}
	return nil
}
