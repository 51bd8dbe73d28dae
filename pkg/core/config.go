package core

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Connection defaults.
const (
	DefaultServerIP   = "0.0.0.0"
	DefaultServerPort = 20108
	DefaultBaudRate   = 115200
	DefaultDataBits   = 8

	// MinSocketBufferSize is the smallest per-client socket buffer.
	MinSocketBufferSize = 8192
)

// Parity is the serial parity mode.
type Parity int

// Parity modes.
const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
	ParityMark
	ParitySpace
)

var parityNames = []string{"none", "odd", "even", "mark", "space"}

func (p Parity) String() string {
	if p < 0 || int(p) >= len(parityNames) {
		return "Parity(" + strconv.Itoa(int(p)) + ")"
	}
	return parityNames[p]
}

// ParseParity parses a parity name, ignoring case.
func ParseParity(s string) (Parity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range parityNames {
		if s == name {
			return Parity(i), nil
		}
	}
	return ParityNone, fmt.Errorf("invalid parity: %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Parity) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Parity) UnmarshalText(text []byte) error {
	v, err := ParseParity(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// StopBits is the number of serial stop bits.
type StopBits int

// Stop bit modes.
const (
	StopBitsOne StopBits = iota
	StopBitsOnePointFive
	StopBitsTwo
)

var stopBitsNames = []string{"one", "onepointfive", "two"}

func (s StopBits) String() string {
	if s < 0 || int(s) >= len(stopBitsNames) {
		return "StopBits(" + strconv.Itoa(int(s)) + ")"
	}
	return stopBitsNames[s]
}

// ParseStopBits parses a stop bits name. The numeric forms 1, 1.5 and 2
// are accepted too.
func ParseStopBits(s string) (StopBits, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "1":
		return StopBitsOne, nil
	case "1.5":
		return StopBitsOnePointFive, nil
	case "2":
		return StopBitsTwo, nil
	}
	for i, name := range stopBitsNames {
		if s == name {
			return StopBits(i), nil
		}
	}
	return StopBitsOne, fmt.Errorf("invalid stop bits: %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s StopBits) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *StopBits) UnmarshalText(text []byte) error {
	v, err := ParseStopBits(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// SerialSettings are the line settings used to open a serial port.
type SerialSettings struct {
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits StopBits
}

// ConnectionConfig describes one serial port to TCP endpoint pairing.
type ConnectionConfig struct {
	// Index is the position of the entry in the configuration.
	Index int `json:"-" yaml:"-"`

	// ServerIP is the address the TCP listener binds to.
	ServerIP string `json:"serverIP" yaml:"serverIP"`

	// ServerPort is the TCP port the listener binds to.
	ServerPort int `json:"serverPort" yaml:"serverPort"`

	// PortName is the serial port to use. Empty selects the first port
	// that opens.
	PortName string `json:"portName" yaml:"portName"`

	BaudRate int      `json:"baudRate" yaml:"baudRate"`
	DataBits int      `json:"dataBits" yaml:"dataBits"`
	Parity   Parity   `json:"parity" yaml:"parity"`
	StopBits StopBits `json:"stopBits" yaml:"stopBits"`
}

// DefaultConnectionConfig returns the defaults for entry index.
func DefaultConnectionConfig(index int) ConnectionConfig {
	return ConnectionConfig{
		Index:      index,
		ServerIP:   DefaultServerIP,
		ServerPort: DefaultServerPort,
		BaudRate:   DefaultBaudRate,
		DataBits:   DefaultDataBits,
		Parity:     ParityNone,
		StopBits:   StopBitsOne,
	}
}

// Serial returns the serial line settings.
func (c ConnectionConfig) Serial() SerialSettings {
	return SerialSettings{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   c.Parity,
		StopBits: c.StopBits,
	}
}

// Address returns the listener address in host:port form.
func (c ConnectionConfig) Address() string {
	return net.JoinHostPort(c.ServerIP, strconv.Itoa(c.ServerPort))
}

// SocketBufferSize is the per-client socket buffer size, large enough to
// hold one second of serial traffic at the configured baud rate.
func (c ConnectionConfig) SocketBufferSize() int {
	return max(MinSocketBufferSize, c.BaudRate/8)
}

// Validate checks the entry for values that can never work.
func (c ConnectionConfig) Validate() error {
	if net.ParseIP(c.ServerIP) == nil {
		return fmt.Errorf("connection %d: invalid server IP address: %s", c.Index, c.ServerIP)
	}
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("connection %d: invalid server port: %d", c.Index, c.ServerPort)
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("connection %d: invalid baud rate: %d", c.Index, c.BaudRate)
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("connection %d: invalid data bits: %d", c.Index, c.DataBits)
	}
	return nil
}
