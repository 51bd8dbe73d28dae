// Package config provides configuration handling for the serial to TCP bridge.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/irctrakz/ser2tcp/pkg/core"
	"github.com/irctrakz/ser2tcp/pkg/logging"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SER2TCP_"

// Config represents the complete service configuration.
type Config struct {
	// Service contains the settings shared by every connection.
	Service ServiceConfig `json:"service" yaml:"service"`

	// Serial selects and tunes the serial port driver.
	Serial SerialConfig `json:"serial" yaml:"serial"`

	// Connections lists the serial to TCP pairings.
	Connections Connections `json:"connections" yaml:"connections"`

	// Logging contains the logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Metrics contains the metrics export configuration.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// ServiceConfig holds the tuning shared by every connection.
type ServiceConfig struct {
	MaxClients     int      `json:"maxClients" yaml:"maxClients"`
	BufferCapacity int      `json:"bufferCapacity" yaml:"bufferCapacity"`
	BufferGrowth   int      `json:"bufferGrowth" yaml:"bufferGrowth"`
	IdleDelay      Duration `json:"idleDelay" yaml:"idleDelay"`
	ReconnectDelay Duration `json:"reconnectDelay" yaml:"reconnectDelay"`
	ShutdownGrace  Duration `json:"shutdownGrace" yaml:"shutdownGrace"`

	// StatsWindow is the number of samples each collector keeps.
	StatsWindow int `json:"statsWindow" yaml:"statsWindow"`
	// ReportEvery logs a throughput summary every N samples.
	ReportEvery int `json:"reportEvery" yaml:"reportEvery"`

	ReadPoll     Duration `json:"readPoll" yaml:"readPoll"`
	WriteTimeout Duration `json:"writeTimeout" yaml:"writeTimeout"`
	LowDelayTOS  bool     `json:"lowDelayTOS" yaml:"lowDelayTOS"`
}

// SerialConfig selects the serial driver.
type SerialConfig struct {
	// Driver is one of native, gurux or mock.
	Driver      string   `json:"driver" yaml:"driver"`
	ReadTimeout Duration `json:"readTimeout" yaml:"readTimeout"`
	// ChunkSize caps the bytes moved per broker tick in each direction.
	ChunkSize int `json:"chunkSize" yaml:"chunkSize"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// Format is text or json.
	Format string `json:"format" yaml:"format"`

	// File is the log file path.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

// MetricsConfig contains configuration for metrics export.
type MetricsConfig struct {
	// Listen is the address serving the metrics and health endpoints.
	// Empty disables the HTTP server.
	Listen string `json:"listen" yaml:"listen"`
	Path   string `json:"path" yaml:"path"`

	// LogInterval logs a periodic snapshot when positive.
	LogInterval Duration `json:"logInterval" yaml:"logInterval"`
	LogFormat   string   `json:"logFormat" yaml:"logFormat"`
}

// DefaultConfig returns the default configuration: one connection on the
// default endpoint using the first serial port found.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			MaxClients:     1,
			BufferCapacity: 2048,
			BufferGrowth:   2048,
			IdleDelay:      Duration(time.Millisecond),
			ReconnectDelay: Duration(500 * time.Millisecond),
			ShutdownGrace:  Duration(5 * time.Second),
			StatsWindow:    1000,
			ReportEvery:    100,
			ReadPoll:       Duration(time.Millisecond),
			WriteTimeout:   Duration(5 * time.Second),
			LowDelayTOS:    true,
		},
		Serial: SerialConfig{
			Driver:      "native",
			ReadTimeout: Duration(time.Millisecond),
			ChunkSize:   4096,
		},
		Connections: Connections{core.DefaultConnectionConfig(0)},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     logging.FormatText,
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Metrics: MetricsConfig{
			Path:      "/metrics",
			LogFormat: "text",
		},
	}
}

// LoadFromFile loads configuration from a file. Fields absent from the file
// keep their current values.
func LoadFromFile(path string, config *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	config.Connections.reindex()
	return nil
}

// LoadFromEnv applies environment overrides. Values that do not parse keep
// the current setting and log a warning.
func LoadFromEnv(config *Config) {
	env := envReader{lookup: os.LookupEnv}

	env.str("LOG_LEVEL", &config.Logging.Level)
	env.str("LOG_FILE", &config.Logging.File)
	env.str("LOG_FORMAT", &config.Logging.Format)
	env.str("SERIAL_DRIVER", &config.Serial.Driver)
	env.integer("MAX_CLIENTS", &config.Service.MaxClients)
	env.str("METRICS_LISTEN", &config.Metrics.Listen)
	env.duration("METRICS_INTERVAL", &config.Metrics.LogInterval)

	if v := os.Getenv("DEBUG"); v == "1" || v == "true" {
		config.Logging.Level = "debug"
	}

	list, ok := env.get("CONNECTIONS")
	if !ok {
		return
	}
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		i, err := strconv.Atoi(field)
		if err != nil || i < 0 {
			logging.Warnf("Ignoring invalid connection index %q in %sCONNECTIONS", field, EnvPrefix)
			continue
		}
		for len(config.Connections) <= i {
			config.Connections = append(config.Connections, core.DefaultConnectionConfig(len(config.Connections)))
		}
		cc := &config.Connections[i]
		p := fmt.Sprintf("CONN_%d_", i)
		env.str(p+"SERVER_IP", &cc.ServerIP)
		env.integer(p+"SERVER_PORT", &cc.ServerPort)
		env.str(p+"PORT_NAME", &cc.PortName)
		env.integer(p+"BAUD_RATE", &cc.BaudRate)
		env.integer(p+"DATA_BITS", &cc.DataBits)
		env.text(p+"PARITY", &cc.Parity)
		env.text(p+"STOP_BITS", &cc.StopBits)
	}
}

type envReader struct {
	lookup func(string) (string, bool)
}

func (e envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e envReader) warn(name, value string, err error) {
	logging.WarnWithFields(map[string]interface{}{
		"variable": EnvPrefix + name,
		"value":    value,
		"error":    err.Error(),
	}, "Ignoring invalid environment value, keeping default")
}

func (e envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e envReader) integer(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.warn(name, v, err)
		return
	}
	*dst = n
}

func (e envReader) duration(name string, dst *Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	if err := dst.UnmarshalText([]byte(v)); err != nil {
		e.warn(name, v, err)
	}
}

type textValue interface {
	UnmarshalText([]byte) error
}

func (e envReader) text(name string, dst textValue) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	if err := dst.UnmarshalText([]byte(v)); err != nil {
		e.warn(name, v, err)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Connections) == 0 {
		errs = append(errs, errors.New("no connections configured"))
	}
	seen := make(map[string]int, len(c.Connections))
	for i, cc := range c.Connections {
		if err := cc.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if cc.ServerPort == 0 {
			continue
		}
		if j, dup := seen[cc.Address()]; dup {
			errs = append(errs, fmt.Errorf("connection %d: address %s already used by connection %d", i, cc.Address(), j))
		}
		seen[cc.Address()] = i
	}

	if c.Service.MaxClients < 0 {
		errs = append(errs, fmt.Errorf("invalid max clients: %d", c.Service.MaxClients))
	}
	if c.Service.BufferCapacity < 0 || c.Service.BufferGrowth < 0 {
		errs = append(errs, fmt.Errorf("invalid buffer sizes: capacity %d, growth %d", c.Service.BufferCapacity, c.Service.BufferGrowth))
	}
	if c.Service.StatsWindow < 0 || c.Service.ReportEvery < 0 {
		errs = append(errs, fmt.Errorf("invalid statistics settings: window %d, reportEvery %d", c.Service.StatsWindow, c.Service.ReportEvery))
	}

	switch strings.ToLower(c.Serial.Driver) {
	case "", "native", "gurux", "mock":
	default:
		errs = append(errs, fmt.Errorf("invalid serial driver: %s", c.Serial.Driver))
	}
	if c.Serial.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("invalid serial chunk size: %d", c.Serial.ChunkSize))
	}

	if _, ok := logging.ParseLevel(c.Logging.Level); !ok {
		errs = append(errs, fmt.Errorf("invalid logging level: %s", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("invalid logging format: %s", c.Logging.Format))
	}

	switch c.Metrics.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid metrics log format: %s", c.Metrics.LogFormat))
	}
	if c.Metrics.Listen != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("invalid metrics path: %q", c.Metrics.Path))
	}

	return errors.Join(errs...)
}

// ApplyLogging applies the logging configuration.
func (c *Config) ApplyLogging() error {
	level, ok := logging.ParseLevel(c.Logging.Level)
	if !ok {
		level = logging.InfoLevel
	}
	logging.SetLevel(level)
	logging.SetFormat(c.Logging.Format)

	if c.Logging.File != "" {
		dir, filename := filepath.Split(c.Logging.File)
		if dir == "" {
			dir = "."
		}
		err := logging.EnableFileLogging(
			dir,
			filename,
			c.Logging.MaxSize,
			c.Logging.MaxBackups,
			c.Logging.MaxAge,
		)
		if err != nil {
			return fmt.Errorf("failed to enable file logging: %w", err)
		}
	}

	return nil
}

// Marshal encodes the configuration in the given format (json or yaml).
func (c *Config) Marshal(format string) ([]byte, error) {
	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "json":
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		return data, nil
	case "yaml", "yml":
		data, err := yaml.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}
}

// SaveToFile saves the configuration to a file.
func (c *Config) SaveToFile(path string) error {
	data, err := c.Marshal(filepath.Ext(path))
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
