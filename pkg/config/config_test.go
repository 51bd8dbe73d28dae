package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/irctrakz/ser2tcp/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Connections, 1)
	assert.Equal(t, core.DefaultConnectionConfig(0), cfg.Connections[0])
	assert.Equal(t, 1, cfg.Service.MaxClients)
	assert.Equal(t, 500*time.Millisecond, cfg.Service.ReconnectDelay.Std())
	assert.Equal(t, "native", cfg.Serial.Driver)
	assert.Equal(t, "", cfg.Metrics.Listen)
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := writeFile(t, "ser2tcp.yaml", `
service:
  reconnectDelay: 250ms
  reportEvery: 10
serial:
  driver: mock
connections:
  - serverPort: 4001
    portName: COM3
    parity: even
    stopBits: "2"
  - serverIP: 127.0.0.1
    serverPort: 4002
    baudRate: 9600
logging:
  level: debug
metrics:
  listen: ":9108"
  logInterval: 30s
`)
	cfg := DefaultConfig()
	require.NoError(t, LoadFromFile(path, cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 250*time.Millisecond, cfg.Service.ReconnectDelay.Std())
	assert.Equal(t, 10, cfg.Service.ReportEvery)
	// untouched keys keep their defaults
	assert.Equal(t, 2048, cfg.Service.BufferCapacity)
	assert.Equal(t, "mock", cfg.Serial.Driver)
	assert.Equal(t, 4096, cfg.Serial.ChunkSize)

	require.Len(t, cfg.Connections, 2)
	first := cfg.Connections[0]
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, core.DefaultServerIP, first.ServerIP)
	assert.Equal(t, 4001, first.ServerPort)
	assert.Equal(t, "COM3", first.PortName)
	assert.Equal(t, core.DefaultBaudRate, first.BaudRate)
	assert.Equal(t, core.ParityEven, first.Parity)
	assert.Equal(t, core.StopBitsTwo, first.StopBits)

	second := cfg.Connections[1]
	assert.Equal(t, 1, second.Index)
	assert.Equal(t, "127.0.0.1", second.ServerIP)
	assert.Equal(t, 9600, second.BaudRate)
	assert.Equal(t, core.DefaultDataBits, second.DataBits)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 30*time.Second, cfg.Metrics.LogInterval.Std())
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := writeFile(t, "ser2tcp.json", `{
  "service": {"maxClients": 2, "shutdownGrace": "1s"},
  "connections": [{"serverPort": 5000, "parity": "odd"}]
}`)
	cfg := DefaultConfig()
	require.NoError(t, LoadFromFile(path, cfg))

	assert.Equal(t, 2, cfg.Service.MaxClients)
	assert.Equal(t, time.Second, cfg.Service.ShutdownGrace.Std())
	require.Len(t, cfg.Connections, 1)
	assert.Equal(t, 5000, cfg.Connections[0].ServerPort)
	assert.Equal(t, core.ParityOdd, cfg.Connections[0].Parity)
	assert.Equal(t, core.DefaultBaudRate, cfg.Connections[0].BaudRate)
}

func TestLoadFromFile_Errors(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"), cfg))
	assert.Error(t, LoadFromFile(writeFile(t, "ser2tcp.toml", "a = 1"), cfg))
	assert.Error(t, LoadFromFile(writeFile(t, "bad.yaml", "connections: {}"), cfg))
	assert.Error(t, LoadFromFile(writeFile(t, "bad.yaml", "connections:\n  - parity: sideways\n"), cfg))
	assert.Error(t, LoadFromFile(writeFile(t, "bad.json", `{"service": {"idleDelay": "soon"}}`), cfg))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SER2TCP_LOG_LEVEL", "warn")
	t.Setenv("SER2TCP_SERIAL_DRIVER", "gurux")
	t.Setenv("SER2TCP_MAX_CLIENTS", "not-a-number")
	t.Setenv("SER2TCP_METRICS_LISTEN", "127.0.0.1:9108")
	t.Setenv("SER2TCP_METRICS_INTERVAL", "15s")
	t.Setenv("SER2TCP_CONNECTIONS", "0, 2, x")
	t.Setenv("SER2TCP_CONN_0_PORT_NAME", "/dev/ttyUSB1")
	t.Setenv("SER2TCP_CONN_0_BAUD_RATE", "fast")
	t.Setenv("SER2TCP_CONN_2_SERVER_PORT", "4002")
	t.Setenv("SER2TCP_CONN_2_PARITY", "mark")
	t.Setenv("SER2TCP_CONN_2_STOP_BITS", "1.5")
	t.Setenv("DEBUG", "")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "gurux", cfg.Serial.Driver)
	assert.Equal(t, 1, cfg.Service.MaxClients, "invalid values keep the default")
	assert.Equal(t, "127.0.0.1:9108", cfg.Metrics.Listen)
	assert.Equal(t, 15*time.Second, cfg.Metrics.LogInterval.Std())

	require.Len(t, cfg.Connections, 3)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Connections[0].PortName)
	assert.Equal(t, core.DefaultBaudRate, cfg.Connections[0].BaudRate)
	assert.Equal(t, core.DefaultConnectionConfig(1), cfg.Connections[1])
	assert.Equal(t, 2, cfg.Connections[2].Index)
	assert.Equal(t, 4002, cfg.Connections[2].ServerPort)
	assert.Equal(t, core.ParityMark, cfg.Connections[2].Parity)
	assert.Equal(t, core.StopBitsOnePointFive, cfg.Connections[2].StopBits)
}

func TestLoadFromEnv_Debug(t *testing.T) {
	t.Setenv("SER2TCP_LOG_LEVEL", "error")
	t.Setenv("DEBUG", "1")
	cfg := DefaultConfig()
	LoadFromEnv(cfg)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no connections", func(c *Config) { c.Connections = nil }},
		{"bad connection", func(c *Config) { c.Connections[0].ServerIP = "localhost" }},
		{"duplicate address", func(c *Config) {
			c.Connections = append(c.Connections, core.DefaultConnectionConfig(1))
		}},
		{"negative clients", func(c *Config) { c.Service.MaxClients = -1 }},
		{"negative buffer", func(c *Config) { c.Service.BufferGrowth = -5 }},
		{"driver", func(c *Config) { c.Serial.Driver = "usb" }},
		{"level", func(c *Config) { c.Logging.Level = "loud" }},
		{"format", func(c *Config) { c.Logging.Format = "xml" }},
		{"metrics path", func(c *Config) {
			c.Metrics.Listen = ":9108"
			c.Metrics.Path = "metrics"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	// ephemeral ports never collide
	cfg := DefaultConfig()
	cfg.Connections = Connections{core.DefaultConnectionConfig(0), core.DefaultConnectionConfig(1)}
	cfg.Connections[0].ServerPort = 0
	cfg.Connections[1].ServerPort = 0
	assert.NoError(t, cfg.Validate())
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	for _, name := range []string{"out.yaml", "nested/out.json"} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Connections[0].PortName = "COM7"
			cfg.Connections[0].StopBits = core.StopBitsTwo
			cfg.Metrics.LogInterval = Duration(time.Minute)

			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, cfg.SaveToFile(path))

			loaded := DefaultConfig()
			require.NoError(t, LoadFromFile(path, loaded))
			assert.Equal(t, cfg, loaded)
		})
	}

	assert.Error(t, DefaultConfig().SaveToFile(filepath.Join(t.TempDir(), "out.ini")))
}

func TestMarshal_YAMLUsesNames(t *testing.T) {
	data, err := DefaultConfig().Marshal("yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "parity: none")
	assert.Contains(t, string(data), "stopBits: one")
	assert.Contains(t, string(data), "reconnectDelay: 500ms")
}

func TestApplyLogging(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.File = filepath.Join(t.TempDir(), "logs", "ser2tcp.log")
	require.NoError(t, cfg.ApplyLogging())
	_, err := os.Stat(filepath.Dir(cfg.Logging.File))
	assert.NoError(t, err)
}
