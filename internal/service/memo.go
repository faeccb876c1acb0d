package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tribunal-dev/tribunal/internal/port/cache"
)

// Memoizer memoizes agent payloads keyed by (agent name, content hash of the
// declared inputs). It is a pure optimization layered over the cache port:
// its absence, failure, or corruption only changes recomputation cost, never
// orchestration correctness.
type Memoizer struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewMemoizer creates a Memoizer over the given cache backend.
func NewMemoizer(c cache.Cache, ttl time.Duration) *Memoizer {
	return &Memoizer{cache: c, ttl: ttl}
}

// memoEntry is the serialized cache value: payload plus creation timestamp.
// Entries are overwritten wholesale on update, never patched in place.
type memoEntry struct {
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Key computes a deterministic content hash over the declared inputs.
// Literal strings hash directly. Existing file paths hash as path name plus
// current contents. Glob patterns expand to their sorted matches, so both
// content changes and membership changes invalidate the hash.
func (m *Memoizer) Key(inputs ...string) (string, error) {
	h := sha256.New()
	for _, in := range inputs {
		paths, err := expandInput(in)
		if err != nil {
			return "", err
		}
		if paths == nil {
			fmt.Fprintf(h, "lit\x00%s\x00", in)
			continue
		}
		for _, p := range paths {
			if err := hashFile(h, p); err != nil {
				return "", fmt.Errorf("hash input %s: %w", p, err)
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// expandInput returns the file paths an input names, or nil when the input is
// a plain literal.
func expandInput(in string) ([]string, error) {
	if strings.ContainsAny(in, "*?[") {
		matches, err := filepath.Glob(in)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", in, err)
		}
		sort.Strings(matches)
		return matches, nil
	}
	if st, err := os.Stat(in); err == nil && st.Mode().IsRegular() {
		return []string{in}, nil
	}
	return nil, nil
}

func hashFile(h io.Writer, path string) error {
	f, err := os.Open(path) //nolint:gosec // G304: paths are declared by the agent roster
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	fmt.Fprintf(h, "file\x00%s\x00", path)
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	_, err = fmt.Fprint(h, "\x00")
	return err
}

// Get returns the memoized payload for (agentName, key) when present and no
// older than the TTL. Stale or corrupt entries read as misses.
func (m *Memoizer) Get(ctx context.Context, agentName, key string) (map[string]any, bool) {
	if m == nil || m.cache == nil {
		return nil, false
	}

	data, found, err := m.cache.Get(ctx, cacheKey(agentName, key))
	if err != nil {
		slog.Warn("memo get failed", "agent", agentName, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	var entry memoEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		slog.Warn("memo entry corrupt, treating as miss", "agent", agentName, "error", err)
		return nil, false
	}
	if time.Since(entry.CreatedAt) > m.ttl {
		return nil, false
	}
	return entry.Payload, true
}

// Set memoizes a payload for (agentName, key), overwriting any prior entry.
// Write failures degrade to a logged warning.
func (m *Memoizer) Set(ctx context.Context, agentName, key string, payload map[string]any) {
	if m == nil || m.cache == nil {
		return
	}

	data, err := json.Marshal(memoEntry{Payload: payload, CreatedAt: time.Now().UTC()})
	if err != nil {
		slog.Warn("memo marshal failed", "agent", agentName, "error", err)
		return
	}
	if err := m.cache.Set(ctx, cacheKey(agentName, key), data, m.ttl); err != nil {
		slog.Warn("memo set failed", "agent", agentName, "error", err)
	}
}

// Clear removes entries for one agent, or every entry when agentName is empty.
func (m *Memoizer) Clear(ctx context.Context, agentName string) error {
	if m == nil || m.cache == nil {
		return nil
	}
	prefix := ""
	if agentName != "" {
		prefix = agentName + "."
	}
	return m.cache.Purge(ctx, prefix)
}

// cacheKey joins agent and hash with a dot so keys stay valid for every
// backend (NATS KV rejects colons).
func cacheKey(agentName, key string) string {
	return agentName + "." + key
}
