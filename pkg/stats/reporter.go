package stats

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// DefaultReportEvery is the number of lifetime samples between reports.
const DefaultReportEvery = 100

// Direction names a transfer direction.
type Direction string

// Transfer directions as seen from the endpoint doing the I/O.
const (
	TX Direction = "TX"
	RX Direction = "RX"
)

// Reporter logs a throughput summary every N lifetime samples of a Source.
type Reporter struct {
	log       *logrus.Entry
	source    Source
	direction Direction
	every     int64
	last      atomic.Int64
}

// NewReporter creates a Reporter for src. A non-positive every uses
// DefaultReportEvery.
func NewReporter(log *logrus.Entry, src Source, dir Direction, every int) *Reporter {
	if every <= 0 {
		every = DefaultReportEvery
	}
	return &Reporter{
		log:       log,
		source:    src,
		direction: dir,
		every:     int64(every),
	}
}

// Report emits a line when the lifetime count sits on a new multiple of the
// report interval. It returns whether a line was written.
func (r *Reporter) Report() bool {
	count := r.source.LifetimeCount()
	if count <= 0 || count%r.every != 0 {
		return false
	}
	prev := r.last.Load()
	if count == prev || !r.last.CompareAndSwap(prev, count) {
		return false
	}

	snap := r.source.Snapshot()
	rate, peak := "N/A", "N/A"
	if snap.NaturalRateOK {
		rate = ToBits(snap.NaturalRate) + "/s"
	}
	if snap.OK() {
		peak = ToBits(snap.RateMax) + "/s"
	}
	r.log.WithFields(logrus.Fields{
		"direction": string(r.direction),
		"total":     ToBits(r.source.LifetimeSum()),
		"rate":      rate,
		"peak":      peak,
	}).Info("Data statistics")
	return true
}

// ToBits formats a byte count as bits with a decimal unit prefix.
func ToBits(bytes float64) string {
	const (
		kilo = 1000
		mega = kilo * 1000
	)
	bits := math.Abs(bytes * 8)
	switch {
	case bits > mega:
		return fmt.Sprintf("%.2f Mbits", bits/mega)
	case bits > kilo:
		return fmt.Sprintf("%.2f Kbits", bits/kilo)
	default:
		return fmt.Sprintf("%.2f bits", bits)
	}
}
