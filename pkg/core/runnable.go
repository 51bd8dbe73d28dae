package core

import (
	"context"

	"github.com/irctrakz/ser2tcp/pkg/bridge"
)

// Runnable is a long running worker. Run blocks until ctx is cancelled or
// the worker fails. Cancellation is not an error.
type Runnable interface {
	Run(ctx context.Context) error
}

// RunnableFunc adapts a function to Runnable.
type RunnableFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f RunnableFunc) Run(ctx context.Context) error { return f(ctx) }

// HasConnectionIndex is implemented by components bound to one
// configured connection.
type HasConnectionIndex interface {
	ConnectionIndex() int
}

// HasDataBridge is implemented by components that exchange data through a
// DataBridge.
type HasDataBridge interface {
	DataBridge() *bridge.DataBridge
}
