// Package resultstore defines the port for the optional durable side store.
package resultstore

import (
	"context"
	"time"
)

// Store persists agent payloads keyed by (session, agent) with an expiry.
// It is an optional collaborator: the scheduler functions with it entirely
// absent, and save failures never affect run outcomes.
type Store interface {
	// Save upserts the serialized payload for one agent in one run.
	Save(ctx context.Context, sessionID, agentName string, payload []byte, ttl time.Duration) error

	// Load returns the stored payload for (session, agent) if present and
	// not expired.
	Load(ctx context.Context, sessionID, agentName string) ([]byte, bool, error)

	// PurgeExpired removes rows past their expiry and returns how many.
	PurgeExpired(ctx context.Context) (int64, error)
}
