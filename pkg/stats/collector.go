package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/irctrakz/ser2tcp/pkg/ringbuffer"
)

// DefaultCapacity is the default number of samples kept in the window.
const DefaultCapacity = 1000

// Options configures a Collector.
type Options struct {
	// Capacity bounds the sample window. Defaults to DefaultCapacity.
	Capacity int
	// IgnoreZeroes drops samples whose value is zero.
	IgnoreZeroes bool
}

// Summary holds the aggregates of the current sample window. Every field
// except Count is meaningless when Count is zero.
type Summary struct {
	Count int

	ElapsedSum time.Duration
	ElapsedAvg time.Duration
	ElapsedMin time.Duration
	ElapsedMax time.Duration

	ValueSum float64
	ValueAvg float64
	ValueMin float64
	ValueMax float64

	RateSum float64
	RateAvg float64
	RateMin float64
	RateMax float64

	FirstStart time.Time
	LastStart  time.Time

	// NaturalElapsed is the wall clock span from the earliest sample start
	// to the end of the latest started sample.
	NaturalElapsed time.Duration
	// NaturalRate is ValueSum over NaturalElapsed.
	NaturalRate float64
	// NaturalRateOK is false when NaturalElapsed is not positive.
	NaturalRateOK bool
}

// OK reports whether the window holds at least one sample.
func (s Summary) OK() bool { return s.Count > 0 }

// Source is the read side of a Collector, independent of its value type.
type Source interface {
	LifetimeCount() int64
	LifetimeSum() float64
	LifetimeElapsed() time.Duration
	Snapshot() Summary
}

// Collector keeps a bounded window of samples plus lifetime totals that
// survive eviction. Aggregates are recomputed over the whole window on
// every record.
type Collector[T Number] struct {
	mu           sync.Mutex
	samples      *ringbuffer.RingBuffer[Sample[T]]
	scratch      []Sample[T]
	capacity     int
	ignoreZeroes bool
	now          func() time.Time

	lifetimeStart time.Time
	lifetimeSum   float64
	lifetimeCount int64
	summary       Summary
}

// NewCollector creates a Collector.
func NewCollector[T Number](opts Options) *Collector[T] {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	return &Collector[T]{
		samples:      ringbuffer.New[Sample[T]](opts.Capacity, opts.Capacity),
		capacity:     opts.Capacity,
		ignoreZeroes: opts.IgnoreZeroes,
		now:          time.Now,
	}
}

// Capacity returns the window size.
func (c *Collector[T]) Capacity() int { return c.capacity }

// Recorder is a one-shot handle returned by BeginSample.
type Recorder[T Number] struct {
	c     *Collector[T]
	start time.Time
	done  atomic.Bool
}

// BeginSample starts a measurement. The lifetime clock starts with the
// first call.
func (c *Collector[T]) BeginSample() *Recorder[T] {
	c.mu.Lock()
	now := c.now()
	if c.lifetimeStart.IsZero() {
		c.lifetimeStart = now
	}
	c.mu.Unlock()
	return &Recorder[T]{c: c, start: now}
}

// Record ends the measurement with value v. It may be called once.
func (r *Recorder[T]) Record(v T) error {
	if !r.done.CompareAndSwap(false, true) {
		return ErrAlreadyRecorded
	}
	if r.c.ignoreZeroes && v == 0 {
		return nil
	}
	r.c.add(r.start, v)
	return nil
}

func (c *Collector[T]) add(start time.Time, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := newSample(start, c.now(), v)
	if c.samples.Len() >= c.capacity {
		c.samples.Clear(1)
	}
	_ = c.samples.Enqueue([]Sample[T]{s})
	c.lifetimeSum += float64(v)
	c.lifetimeCount++
	c.recompute()
}

// recompute must be called with mu held.
func (c *Collector[T]) recompute() {
	n := c.samples.Len()
	if cap(c.scratch) < n {
		c.scratch = make([]Sample[T], n)
	}
	window := c.scratch[:n]
	n = c.samples.Peek(window)
	window = window[:n]

	var s Summary
	s.Count = n
	if n == 0 {
		c.summary = s
		return
	}

	var lastElapsed time.Duration
	for i, smp := range window {
		val := float64(smp.Value)
		if i == 0 {
			s.ElapsedMin, s.ElapsedMax = smp.Elapsed, smp.Elapsed
			s.ValueMin, s.ValueMax = val, val
			s.RateMin, s.RateMax = smp.Rate, smp.Rate
			s.FirstStart, s.LastStart = smp.Start, smp.Start
			lastElapsed = smp.Elapsed
		}
		s.ElapsedMin = min(s.ElapsedMin, smp.Elapsed)
		s.ElapsedMax = max(s.ElapsedMax, smp.Elapsed)
		s.ValueMin = min(s.ValueMin, val)
		s.ValueMax = max(s.ValueMax, val)
		s.RateMin = min(s.RateMin, smp.Rate)
		s.RateMax = max(s.RateMax, smp.Rate)
		if smp.Start.Before(s.FirstStart) {
			s.FirstStart = smp.Start
		}
		if smp.Start.After(s.LastStart) {
			s.LastStart = smp.Start
			lastElapsed = smp.Elapsed
		}
		s.ElapsedSum += smp.Elapsed
		s.ValueSum += val
		s.RateSum += smp.Rate
	}

	s.ElapsedAvg = s.ElapsedSum / time.Duration(n)
	s.ValueAvg = s.ValueSum / float64(n)
	s.RateAvg = s.RateSum / float64(n)
	s.NaturalElapsed = s.LastStart.Sub(s.FirstStart) + lastElapsed
	if secs := s.NaturalElapsed.Seconds(); secs > 0 {
		s.NaturalRate = s.ValueSum / secs
		s.NaturalRateOK = true
	}
	c.summary = s
}

// Snapshot returns the current window aggregates.
func (c *Collector[T]) Snapshot() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// Samples returns a copy of the current window, oldest first.
func (c *Collector[T]) Samples() []Sample[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.samples.PeekN(-1)
}

// LifetimeCount returns the number of samples ever recorded.
func (c *Collector[T]) LifetimeCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lifetimeCount
}

// LifetimeSum returns the sum of every sample value ever recorded.
func (c *Collector[T]) LifetimeSum() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lifetimeSum
}

// LifetimeElapsed returns the time since the first BeginSample, or zero.
func (c *Collector[T]) LifetimeElapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lifetimeStart.IsZero() {
		return 0
	}
	return c.now().Sub(c.lifetimeStart)
}
