package serial

import (
	"slices"
	"sync"
	"time"

	"github.com/irctrakz/ser2tcp/pkg/core"
)

// MockProvider is an in-memory Provider for tests and dry runs. Bytes
// injected with Inject are returned by reads on the open port; bytes
// written are kept for inspection and, in loopback mode, read back.
type MockProvider struct {
	mu          sync.Mutex
	ports       []string
	listErr     error
	openErrs    map[string]error
	loopback    bool
	readTimeout time.Duration

	inbound []byte
	written []byte
	opens   int
	current *MockPort
}

// NewMockProvider creates a MockProvider listing the given port names.
func NewMockProvider(ports ...string) *MockProvider {
	return &MockProvider{
		ports:       slices.Clone(ports),
		openErrs:    make(map[string]error),
		readTimeout: DefaultReadTimeout,
	}
}

// SetPorts replaces the listed port names.
func (m *MockProvider) SetPorts(names ...string) {
	m.mu.Lock()
	m.ports = slices.Clone(names)
	m.mu.Unlock()
}

// SetLoopback makes written bytes readable again.
func (m *MockProvider) SetLoopback(on bool) {
	m.mu.Lock()
	m.loopback = on
	m.mu.Unlock()
}

// FailList makes PortNames return err. A nil err clears it.
func (m *MockProvider) FailList(err error) {
	m.mu.Lock()
	m.listErr = err
	m.mu.Unlock()
}

// FailOpen makes Open(name) return err. A nil err clears it.
func (m *MockProvider) FailOpen(name string, err error) {
	m.mu.Lock()
	if err == nil {
		delete(m.openErrs, name)
	} else {
		m.openErrs[name] = err
	}
	m.mu.Unlock()
}

// Inject queues bytes as if the device had sent them.
func (m *MockProvider) Inject(data []byte) {
	m.mu.Lock()
	m.inbound = append(m.inbound, data...)
	m.mu.Unlock()
}

// Written returns everything written to any port so far.
func (m *MockProvider) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.written)
}

// Opens returns the number of successful opens.
func (m *MockProvider) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Current returns the most recently opened port, or nil.
func (m *MockProvider) Current() *MockPort {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// PortNames implements Provider.
func (m *MockProvider) PortNames() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return slices.Clone(m.ports), nil
}

// Open implements Provider.
func (m *MockProvider) Open(name string, settings core.SerialSettings) (Port, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.openErrs[name]; err != nil {
		return nil, err
	}
	m.opens++
	m.current = &MockPort{provider: m, name: name, settings: settings}
	return m.current, nil
}

// MockPort is a port opened by MockProvider.
type MockPort struct {
	provider *MockProvider
	name     string
	settings core.SerialSettings

	// guarded by provider.mu
	closed bool
	err    error
}

// Name implements Port.
func (p *MockPort) Name() string { return p.name }

// Settings returns the line settings the port was opened with.
func (p *MockPort) Settings() core.SerialSettings { return p.settings }

// Break makes every later Read and Write fail with err.
func (p *MockPort) Break(err error) {
	p.provider.mu.Lock()
	p.err = err
	p.provider.mu.Unlock()
}

// Closed reports whether Close was called.
func (p *MockPort) Closed() bool {
	p.provider.mu.Lock()
	defer p.provider.mu.Unlock()
	return p.closed
}

func (p *MockPort) check() error {
	if p.closed {
		return ErrPortClosed
	}
	return p.err
}

// Read implements Port. It waits for the read timeout when nothing is
// queued.
func (p *MockPort) Read(b []byte) (int, error) {
	m := p.provider
	m.mu.Lock()
	if err := p.check(); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	n := copy(b, m.inbound)
	m.inbound = m.inbound[n:]
	wait := m.readTimeout
	m.mu.Unlock()

	if n == 0 {
		time.Sleep(wait)
	}
	return n, nil
}

// Write implements Port.
func (p *MockPort) Write(b []byte) (int, error) {
	m := p.provider
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := p.check(); err != nil {
		return 0, err
	}
	m.written = append(m.written, b...)
	if m.loopback {
		m.inbound = append(m.inbound, b...)
	}
	return len(b), nil
}

// Close implements Port.
func (p *MockPort) Close() error {
	p.provider.mu.Lock()
	defer p.provider.mu.Unlock()
	if p.closed {
		return ErrPortClosed
	}
	p.closed = true
	return nil
}
