// Package bridge holds the pair of byte queues shared by the network-facing
// and serial-facing workers of one connection.
package bridge

import (
	"errors"

	"github.com/irctrakz/ser2tcp/pkg/ringbuffer"
)

// DefaultQueueSize is the initial capacity and growth step of each queue.
const DefaultQueueSize = 2048

// Options sizes the two queues of a DataBridge.
type Options struct {
	// Capacity is the initial capacity of each queue in bytes.
	Capacity int
	// Growth is the granularity each queue grows by.
	Growth int
}

// DataBridge is the hand-off point between the network and serial halves
// of one connection. The queues are independent and individually locked.
type DataBridge struct {
	// ToDevice carries bytes received from TCP clients to the serial port.
	ToDevice *ringbuffer.RingBuffer[byte]

	// ToNetwork carries bytes read from the serial port to TCP clients.
	ToNetwork *ringbuffer.RingBuffer[byte]
}

// New creates a DataBridge. Zero options use DefaultQueueSize.
func New(opts Options) *DataBridge {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultQueueSize
	}
	if opts.Growth <= 0 {
		opts.Growth = opts.Capacity
	}
	return &DataBridge{
		ToDevice:  ringbuffer.New[byte](opts.Capacity, opts.Growth),
		ToNetwork: ringbuffer.New[byte](opts.Capacity, opts.Growth),
	}
}

// Close releases both queues.
func (b *DataBridge) Close() error {
	return errors.Join(b.ToDevice.Close(), b.ToNetwork.Close())
}
