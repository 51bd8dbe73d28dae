// Package supervisor runs sets of workers under one cancellation scope.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irctrakz/ser2tcp/pkg/core"
	"github.com/irctrakz/ser2tcp/pkg/logging"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultGrace is how long stopping children are waited for.
const DefaultGrace = 5 * time.Second

// ErrAlreadyStarted is returned when Run is called twice.
var ErrAlreadyStarted = errors.New("supervisor: already started")

// Policy decides what a child failure does to its siblings.
type Policy int

const (
	// FailFast stops every child as soon as any child returns.
	FailFast Policy = iota
	// Isolated keeps the other children running when one fails. The group
	// stops only when its context is cancelled or every child returned.
	Isolated
)

// State is the lifecycle state of a Group.
type State int32

// Group states.
const (
	StateNotStarted State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for v := StateNotStarted; v <= StateStopped; v++ {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Child is a named worker of a Group.
type Child struct {
	Name     string
	Runnable core.Runnable
}

// Options configures a Group.
type Options struct {
	Policy Policy
	Grace  time.Duration
	Logger *logrus.Entry
}

// Group runs its children concurrently. It can be run once.
type Group struct {
	policy   Policy
	grace    time.Duration
	log      *logrus.Entry
	children []Child
	state    atomic.Int32
}

// New creates a Group over children.
func New(opts Options, children ...Child) *Group {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Logger == nil {
		opts.Logger = logging.ForComponent("supervisor")
	}
	return &Group{
		policy:   opts.Policy,
		grace:    opts.Grace,
		log:      opts.Logger,
		children: children,
	}
}

// State returns the lifecycle state.
func (g *Group) State() State { return State(g.state.Load()) }

type result struct {
	index int
	err   error
}

// Run starts every child and blocks until the group stopped. Cancellation
// is never reported as an error. FailFast returns the error of the child
// that ended the group, Isolated returns every child failure joined.
func (g *Group) Run(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateNotStarted), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	defer g.state.Store(int32(StateStopped))
	if len(g.children) == 0 {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		eg       errgroup.Group
		mu       sync.Mutex
		failures []error
	)
	finished := make(chan result, len(g.children))

	for i, child := range g.children {
		eg.Go(func() error {
			err := child.Runnable.Run(runCtx)
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			if err != nil {
				g.log.WithError(err).WithFields(logrus.Fields{
					"child": i,
					"name":  child.Name,
				}).Error("Child failed")
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
			finished <- result{index: i, err: err}
			return err
		})
	}

	var first *result
	switch g.policy {
	case Isolated:
		remaining := len(g.children)
	wait:
		for remaining > 0 {
			select {
			case <-finished:
				remaining--
			case <-ctx.Done():
				break wait
			}
		}
	default:
		select {
		case r := <-finished:
			first = &r
			if r.err == nil && ctx.Err() == nil {
				g.log.WithField("name", g.children[r.index].Name).Debug("Child returned, stopping siblings")
			}
		case <-ctx.Done():
		}
	}

	g.state.Store(int32(StateStopping))
	cancel()
	g.wait(&eg)

	if g.policy == Isolated {
		mu.Lock()
		defer mu.Unlock()
		return errors.Join(failures...)
	}
	if first != nil {
		return first.err
	}
	return nil
}

// wait gives the children the grace period to return.
func (g *Group) wait(eg *errgroup.Group) {
	done := make(chan struct{})
	go func() {
		_ = eg.Wait()
		close(done)
	}()
	t := time.NewTimer(g.grace)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		g.log.WithField("grace", g.grace.String()).Warn("Children did not stop within grace period, abandoning")
	}
}
