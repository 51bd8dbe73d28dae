package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/irctrakz/ser2tcp/pkg/config"
	"github.com/irctrakz/ser2tcp/pkg/core"
	"github.com/irctrakz/ser2tcp/pkg/serial"
	"github.com/irctrakz/ser2tcp/pkg/supervisor"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Service.ReconnectDelay = config.Duration(10 * time.Millisecond)
	cfg.Service.ShutdownGrace = config.Duration(time.Second)
	cfg.Serial.Driver = serial.DriverMock
	cfg.Connections[0].ServerIP = "127.0.0.1"
	cfg.Connections[0].ServerPort = 0
	return cfg
}

func loopbackProvider(ports ...string) *serial.MockProvider {
	p := serial.NewMockProvider(ports...)
	p.SetLoopback(true)
	return p
}

func newConnection(cfg *config.Config, provider serial.Provider) *Connection {
	return NewConnection(Options{
		Config:   cfg.Connections[0],
		Service:  cfg.Service,
		Serial:   cfg.Serial,
		Provider: provider,
		Logger:   testLogger(),
	})
}

func run(ctx context.Context, r core.Runnable) <-chan error {
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return done
}

func waitReady(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case <-c.Server().Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("listener not ready")
	}
}

func TestConnection_EndToEnd(t *testing.T) {
	provider := loopbackProvider("COM1")
	c := newConnection(testConfig(), provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := run(ctx, c)
	waitReady(t, c)
	require.Eventually(t, func() bool { return c.Broker().State() == serial.StateConnected }, 2*time.Second, 5*time.Millisecond)

	conn, err := net.DialTimeout("tcp", c.Server().Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return c.Server().ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	// client -> device -> loopback -> client
	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	echo := make([]byte, 4)
	_, err = io.ReadFull(conn, echo)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(echo))
	assert.Equal(t, "ping", string(provider.Written()))

	require.Eventually(t, func() bool {
		s := c.Snapshot()
		return s.NetworkTX.Bytes == 4 && s.NetworkRX.Bytes == 4 && s.SerialTX.Bytes == 4 && s.SerialRX.Bytes == 4
	}, time.Second, 5*time.Millisecond)
	snap := c.Snapshot()
	assert.Equal(t, 0, snap.Index)
	assert.Equal(t, c.Server().Addr().String(), snap.Address)
	assert.Equal(t, supervisor.StateRunning, snap.State)
	assert.Equal(t, serial.StateConnected, snap.Broker)
	assert.Equal(t, "COM1", snap.PortName)
	assert.Equal(t, 1, snap.Clients)
	assert.Positive(t, snap.NetworkRX.Samples)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("pipeline did not stop")
	}
	assert.Equal(t, supervisor.StateStopped, c.State())
	assert.True(t, provider.Current().Closed())
}

func TestConnection_BindFailureStopsWorkers(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig()
	cfg.Connections[0].ServerPort = busy.Addr().(*net.TCPAddr).Port
	c := newConnection(cfg, loopbackProvider("COM1"))

	select {
	case err := <-run(context.Background(), c):
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection 0: listen on 127.0.0.1:"+strconv.Itoa(cfg.Connections[0].ServerPort))
	case <-time.After(3 * time.Second):
		t.Fatal("pipeline kept running without a listener")
	}
	assert.Equal(t, supervisor.StateStopped, c.State())
	assert.Equal(t, serial.StateDisconnected, c.Broker().State())
}

func TestConnection_Interfaces(t *testing.T) {
	var _ core.Runnable = (*Connection)(nil)
	var _ core.HasConnectionIndex = (*Connection)(nil)
	var _ core.HasDataBridge = (*Connection)(nil)

	cfg := testConfig()
	cfg.Connections[0].Index = 3
	c := newConnection(cfg, serial.NewMockProvider())
	assert.Equal(t, 3, c.ConnectionIndex())
	assert.NotNil(t, c.DataBridge())
	assert.Equal(t, "127.0.0.1:0", c.Snapshot().Address)
}

func TestSnapshot_JSON(t *testing.T) {
	c := newConnection(testConfig(), serial.NewMockProvider())
	data, err := json.Marshal(c.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"not_started"`)
	assert.Contains(t, string(data), `"broker":"disconnected"`)
	assert.Contains(t, string(data), `"networkTX":{"samples":0`)
}

func TestRoot_NoConnections(t *testing.T) {
	cfg := testConfig()
	cfg.Connections = nil
	r, err := NewRoot(RootOptions{Config: cfg, Logger: testLogger()})
	require.NoError(t, err)
	assert.ErrorIs(t, r.Run(context.Background()), ErrNoConnections)
}

func TestRoot_UnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Serial.Driver = "usb-magic"
	_, err := NewRoot(RootOptions{Config: cfg, Logger: testLogger()})
	assert.Error(t, err)
}

func TestRoot_IsolatesFailingConnection(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig()
	bad := cfg.Connections[0]
	bad.ServerPort = busy.Addr().(*net.TCPAddr).Port
	good := cfg.Connections[0]
	cfg.Connections = config.Connections{bad, good}

	r, err := NewRoot(RootOptions{Config: cfg, Provider: loopbackProvider("COM1"), Logger: testLogger()})
	require.NoError(t, err)
	require.Len(t, r.Connections(), 2)
	assert.Equal(t, 1, r.Connections()[1].ConnectionIndex())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := run(ctx, r)

	require.Eventually(t, func() bool {
		return r.Connections()[0].State() == supervisor.StateStopped
	}, 3*time.Second, 5*time.Millisecond)
	waitReady(t, r.Connections()[1])
	assert.Equal(t, supervisor.StateRunning, r.Connections()[1].State())
	assert.Equal(t, supervisor.StateRunning, r.State())

	snaps := r.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, supervisor.StateStopped, snaps[0].State)
	assert.Equal(t, supervisor.StateRunning, snaps[1].State)

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection 0")
	case <-time.After(3 * time.Second):
		t.Fatal("root did not stop")
	}
	assert.Equal(t, supervisor.StateStopped, r.State())
}

func TestRoot_UsesConfiguredDriver(t *testing.T) {
	r, err := NewRoot(RootOptions{Config: testConfig(), Logger: testLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := run(ctx, r)
	c := r.Connections()[0]
	require.Eventually(t, func() bool { return c.Broker().PortName() == "MOCK0" }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
