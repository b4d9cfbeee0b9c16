package worker

import (
	"context"
)

// Worker is a long-running background task managed by the hub.
type Worker interface {
	// Start runs the worker and blocks until Stop is called or it fails
	Start() error

	// Stop halts all worker operations
	Stop() error

	// Name returns the worker's unique name
	Name() string

	// Type returns the worker type ("recipes", "categories", "outbox")
	Type() string

	// Context returns the worker's context (for cancellation)
	Context() context.Context

	// Status returns key/value details for status output
	Status() map[string]string
}
