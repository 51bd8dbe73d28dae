package serial

import (
	"fmt"
	"time"

	"github.com/irctrakz/ser2tcp/pkg/core"
	bugst "go.bug.st/serial"
)

// NativeProvider opens ports with go.bug.st/serial.
type NativeProvider struct {
	ReadTimeout time.Duration
}

// PortNames lists the serial ports known to the OS.
func (p *NativeProvider) PortNames() ([]string, error) {
	return bugst.GetPortsList()
}

// Open opens name with the given line settings.
func (p *NativeProvider) Open(name string, settings core.SerialSettings) (Port, error) {
	mode, err := nativeMode(settings)
	if err != nil {
		return nil, err
	}
	port, err := bugst.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	timeout := p.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	return &nativePort{Port: port, name: name}, nil
}

func nativeMode(s core.SerialSettings) (*bugst.Mode, error) {
	mode := &bugst.Mode{
		BaudRate: s.BaudRate,
		DataBits: s.DataBits,
	}
	switch s.Parity {
	case core.ParityNone:
		mode.Parity = bugst.NoParity
	case core.ParityOdd:
		mode.Parity = bugst.OddParity
	case core.ParityEven:
		mode.Parity = bugst.EvenParity
	case core.ParityMark:
		mode.Parity = bugst.MarkParity
	case core.ParitySpace:
		mode.Parity = bugst.SpaceParity
	default:
		return nil, fmt.Errorf("unsupported parity: %s", s.Parity)
	}
	switch s.StopBits {
	case core.StopBitsOne:
		mode.StopBits = bugst.OneStopBit
	case core.StopBitsOnePointFive:
		mode.StopBits = bugst.OnePointFiveStopBits
	case core.StopBitsTwo:
		mode.StopBits = bugst.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits: %s", s.StopBits)
	}
	return mode, nil
}

type nativePort struct {
	bugst.Port
	name string
}

func (p *nativePort) Name() string { return p.name }
