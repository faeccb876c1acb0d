// Package agent defines the worker port (interface) every pluggable agent
// implements, and the typed factory registry backends register into.
package agent

import (
	"context"

	"github.com/tribunal-dev/tribunal/internal/domain/session"
	"github.com/tribunal-dev/tribunal/internal/domain/verdict"
)

// Agent is the port interface for one pluggable unit of work. Implementations
// read the run context and return a verdict envelope; they never write to the
// shared data directly; only the runner records results.
type Agent interface {
	// Name returns the unique identifier used for dependency resolution
	// and result lookup.
	Name() string

	// Dependencies returns the names of agents that must already have a
	// recorded verdict before this one may run.
	Dependencies() []string

	// ValidateInputs reports whether the run context holds everything the
	// agent needs. False causes a soft-skip, not an error.
	ValidateInputs(rc *session.Context) bool

	// Execute performs the work and returns the verdict envelope.
	Execute(ctx context.Context, rc *session.Context) (*verdict.Verdict, error)
}

// AsyncAgent is the optional capability interface for agents with true
// non-blocking execution. Agents without it have Execute offloaded to a
// goroutine by the runner, so slow I/O-bound agents never block their
// stage siblings.
type AsyncAgent interface {
	Agent

	ExecuteAsync(ctx context.Context, rc *session.Context) (*verdict.Verdict, error)
}
