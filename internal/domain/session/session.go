// Package session defines the per-run shared context handed to every agent.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tribunal-dev/tribunal/internal/domain/verdict"
)

// ErrDuplicateResult indicates a second verdict was recorded under the same
// agent name. Shared data is write-once per key.
var ErrDuplicateResult = errors.New("result already recorded for agent")

// MemoStore is the narrow memoization handle exposed to agents. Agents may
// use it to skip expensive recomputation; a nil handle means no cache.
type MemoStore interface {
	// Key computes a deterministic content hash over the declared inputs.
	Key(inputs ...string) (string, error)

	// Get returns the memoized payload for (agentName, key) if present and fresh.
	Get(ctx context.Context, agentName, key string) (map[string]any, bool)

	// Set memoizes a payload for (agentName, key). Failures are logged, never returned.
	Set(ctx context.Context, agentName, key string, payload map[string]any)
}

// Context is the shared container for one orchestration run. It carries the
// caller-supplied inputs and accumulates one verdict per agent. Only the
// runner writes results, immediately after an agent returns; concurrent
// siblings within a stage never observe each other's output.
type Context struct {
	SessionID string
	StartedAt time.Time
	Inputs    map[string]any
	Memo      MemoStore

	mu      sync.RWMutex
	results map[string]*verdict.Verdict
}

// New creates a fresh run context with a generated session id.
func New(inputs map[string]any, memo MemoStore) *Context {
	if inputs == nil {
		inputs = map[string]any{}
	}
	return &Context{
		SessionID: uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Inputs:    inputs,
		Memo:      memo,
		results:   make(map[string]*verdict.Verdict),
	}
}

// Result returns the recorded verdict for the named agent, if any.
func (c *Context) Result(agentName string) (*verdict.Verdict, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.results[agentName]
	return v, ok
}

// HasResult reports whether the named agent has a recorded verdict.
// Dependent agents use this in their input validation.
func (c *Context) HasResult(agentName string) bool {
	_, ok := c.Result(agentName)
	return ok
}

// Results returns a copy of the result map keyed by agent name.
func (c *Context) Results() map[string]*verdict.Verdict {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*verdict.Verdict, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}

// Record stores an agent's verdict. Called only by the runner, after the
// envelope has passed validation. Keys are write-once.
func (c *Context) Record(agentName string, v *verdict.Verdict) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.results[agentName]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateResult, agentName)
	}
	c.results[agentName] = v
	return nil
}
