package serial

import (
	"fmt"
	"sync"
	"time"

	"github.com/Gurux/gxcommon-go"
	"github.com/Gurux/gxserial-go"
	"github.com/irctrakz/ser2tcp/pkg/core"
	"github.com/irctrakz/ser2tcp/pkg/ringbuffer"
)

// guruxStaging is the initial size of the receive staging queue.
const guruxStaging = 4096

// GuruxProvider opens ports with the Gurux serial media. Received data
// arrives on a callback and is staged until Read collects it.
type GuruxProvider struct {
	ReadTimeout time.Duration
}

// PortNames lists the serial ports known to the OS.
func (p *GuruxProvider) PortNames() ([]string, error) {
	return gxserial.GetPortNames()
}

// Open opens name with the given line settings.
func (p *GuruxProvider) Open(name string, settings core.SerialSettings) (Port, error) {
	media, err := newGuruxMedia(name, settings)
	if err != nil {
		return nil, err
	}
	port := &guruxPort{
		media:       media,
		name:        name,
		readTimeout: p.ReadTimeout,
		rx:          ringbuffer.New[byte](guruxStaging, guruxStaging),
	}
	if port.readTimeout <= 0 {
		port.readTimeout = DefaultReadTimeout
	}
	media.SetOnReceived(func(_ gxcommon.IGXMedia, e gxcommon.ReceiveEventArgs) {
		_ = port.rx.Enqueue(e.Data())
	})
	media.SetOnError(func(_ gxcommon.IGXMedia, err error) {
		port.setErr(err)
	})
	if err := media.Open(); err != nil {
		port.rx.Close()
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return port, nil
}

func newGuruxMedia(name string, settings core.SerialSettings) (*gxserial.GXSerial, error) {
	parity, stopBits, err := guruxSettings(settings)
	if err != nil {
		return nil, err
	}
	return gxserial.NewGXSerial(name, gxcommon.BaudRate(settings.BaudRate), settings.DataBits, stopBits, parity), nil
}

func guruxSettings(s core.SerialSettings) (gxcommon.Parity, gxcommon.StopBits, error) {
	var (
		parity gxcommon.Parity
		none   gxcommon.StopBits
	)
	switch s.Parity {
	case core.ParityNone:
		parity = gxcommon.ParityNone
	case core.ParityOdd:
		parity = gxcommon.ParityOdd
	case core.ParityEven:
		parity = gxcommon.ParityEven
	case core.ParityMark:
		parity = gxcommon.ParityMark
	case core.ParitySpace:
		parity = gxcommon.ParitySpace
	default:
		return parity, none, fmt.Errorf("unsupported parity: %s", s.Parity)
	}
	switch s.StopBits {
	case core.StopBitsOne:
		return parity, gxcommon.StopBitsOne, nil
	case core.StopBitsTwo:
		return parity, gxcommon.StopBitsTwo, nil
	default:
		return parity, none, fmt.Errorf("gurux driver does not support stop bits: %s", s.StopBits)
	}
}

type guruxPort struct {
	media       *gxserial.GXSerial
	name        string
	readTimeout time.Duration
	rx          *ringbuffer.RingBuffer[byte]

	mu  sync.Mutex
	err error
}

func (p *guruxPort) Name() string { return p.name }

func (p *guruxPort) setErr(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

func (p *guruxPort) lastErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Read drains staged bytes, waiting up to the read timeout when none are
// staged yet.
func (p *guruxPort) Read(b []byte) (int, error) {
	if err := p.lastErr(); err != nil {
		return 0, err
	}
	if !p.media.IsOpen() {
		return 0, ErrPortClosed
	}
	if n := p.rx.Dequeue(b); n > 0 {
		return n, nil
	}
	time.Sleep(p.readTimeout)
	return p.rx.Dequeue(b), p.lastErr()
}

func (p *guruxPort) Write(b []byte) (int, error) {
	if err := p.lastErr(); err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, nil
	}
	if err := p.media.Send(b, ""); err != nil {
		p.setErr(err)
		return 0, err
	}
	return len(b), nil
}

func (p *guruxPort) Close() error {
	err := p.media.Close()
	p.rx.Close()
	return err
}
