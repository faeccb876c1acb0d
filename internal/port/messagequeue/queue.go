// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
// The bus is an optional collaborator: the scheduler functions with it
// entirely absent, and publish failures never affect run outcomes.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for run lifecycle notifications.
const (
	SubjectRunStarted     = "runs.started"         // a run began
	SubjectRunCompleted   = "runs.completed"       // a run finished, payload carries the summary
	SubjectAgentStarted   = "runs.agent.started"   // an agent began executing
	SubjectAgentCompleted = "runs.agent.completed" // an agent finished (ok, failed, or skipped)
)
