// Package stats collects rolling throughput and latency samples.
package stats

import (
	"errors"
	"time"
)

// ErrAlreadyRecorded is returned when a Recorder is used more than once.
var ErrAlreadyRecorded = errors.New("stats: sample already recorded")

// Number is the set of value types a Collector accepts.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Sample is one recorded measurement.
type Sample[T Number] struct {
	// Start is when the measurement began.
	Start time.Time
	// Elapsed is the time between Start and the call to Record.
	Elapsed time.Duration
	// Value is the raw recorded value.
	Value T
	// Rate is Value per second of Elapsed, 0 when Elapsed is not positive.
	Rate float64
}

func newSample[T Number](start, end time.Time, v T) Sample[T] {
	s := Sample[T]{
		Start:   start,
		Elapsed: end.Sub(start),
		Value:   v,
	}
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.Rate = float64(v) / secs
	}
	return s
}
