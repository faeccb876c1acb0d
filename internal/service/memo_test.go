package service_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tribunal-dev/tribunal/internal/service"
)

// memCache is a simple in-memory cache for testing.
type memCache struct {
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *memCache) Purge(_ context.Context, prefix string) error {
	for k := range m.data {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	return nil
}

func TestMemo_SetGetRoundtrip(t *testing.T) {
	memo := service.NewMemoizer(newMemCache(), time.Hour)
	ctx := context.Background()

	payload := map[string]any{"score": 0.9, "summary": "viable"}
	memo.Set(ctx, "research", "k1", payload)

	got, ok := memo.Get(ctx, "research", "k1")
	if !ok {
		t.Fatal("expected hit immediately after set")
	}
	if got["summary"] != "viable" {
		t.Fatalf("unexpected payload: %v", got)
	}
}

func TestMemo_MissForUnknownKey(t *testing.T) {
	memo := service.NewMemoizer(newMemCache(), time.Hour)
	if _, ok := memo.Get(context.Background(), "research", "nope"); ok {
		t.Fatal("expected miss")
	}
}

func TestMemo_ExpiredEntryIsMiss(t *testing.T) {
	c := newMemCache()
	memo := service.NewMemoizer(c, time.Hour)

	// Entry written two hours ago with a one hour TTL must read as a miss.
	stale, _ := json.Marshal(map[string]any{
		"payload":    map[string]any{"x": 1},
		"created_at": time.Now().Add(-2 * time.Hour).UTC(),
	})
	c.data["research.k1"] = stale

	if _, ok := memo.Get(context.Background(), "research", "k1"); ok {
		t.Fatal("expected stale entry to miss")
	}
}

func TestMemo_CorruptEntryIsMiss(t *testing.T) {
	c := newMemCache()
	memo := service.NewMemoizer(c, time.Hour)
	c.data["research.k1"] = []byte("{not json")

	if _, ok := memo.Get(context.Background(), "research", "k1"); ok {
		t.Fatal("expected corrupt entry to miss")
	}
}

func TestMemo_ClearByAgent(t *testing.T) {
	c := newMemCache()
	memo := service.NewMemoizer(c, time.Hour)
	ctx := context.Background()

	memo.Set(ctx, "research", "k1", map[string]any{"x": 1})
	memo.Set(ctx, "review", "k1", map[string]any{"y": 2})

	if err := memo.Clear(ctx, "research"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := memo.Get(ctx, "research", "k1"); ok {
		t.Fatal("expected research entries cleared")
	}
	if _, ok := memo.Get(ctx, "review", "k1"); !ok {
		t.Fatal("expected review entries intact")
	}

	if err := memo.Clear(ctx, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := memo.Get(ctx, "review", "k1"); ok {
		t.Fatal("expected full clear to remove everything")
	}
}

func TestMemoKey_StableForLiterals(t *testing.T) {
	memo := service.NewMemoizer(newMemCache(), time.Hour)

	k1, err := memo.Key("model=gpt", "prompt=v2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k2, err := memo.Key("model=gpt", "prompt=v2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k1 != k2 {
		t.Fatal("identical inputs must reproduce the identical hash")
	}

	k3, _ := memo.Key("model=gpt", "prompt=v3")
	if k1 == k3 {
		t.Fatal("different literals must change the hash")
	}
}

func TestMemoKey_FileContentChangesHash(t *testing.T) {
	memo := service.NewMemoizer(newMemCache(), time.Hour)
	dir := t.TempDir()
	path := filepath.Join(dir, "input.txt")

	if err := os.WriteFile(path, []byte("v1"), 0o600); err != nil {
		t.Fatal(err)
	}
	before, err := memo.Key(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	again, _ := memo.Key(path)
	if before != again {
		t.Fatal("unchanged file must reproduce the identical hash")
	}

	if err := os.WriteFile(path, []byte("v2"), 0o600); err != nil {
		t.Fatal(err)
	}
	after, err := memo.Key(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if before == after {
		t.Fatal("changed file content must change the hash")
	}
}

func TestMemoKey_GlobMembershipChangesHash(t *testing.T) {
	memo := service.NewMemoizer(newMemCache(), time.Hour)
	dir := t.TempDir()
	pattern := filepath.Join(dir, "*.md")

	if err := os.WriteFile(filepath.Join(dir, "a.md"), []byte("a"), 0o600); err != nil {
		t.Fatal(err)
	}
	before, err := memo.Key(pattern)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "b.md"), []byte("b"), 0o600); err != nil {
		t.Fatal(err)
	}
	after, err := memo.Key(pattern)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if before == after {
		t.Fatal("glob membership change must change the hash")
	}
}

func TestMemo_NilMemoizerIsSafe(t *testing.T) {
	var memo *service.Memoizer
	ctx := context.Background()

	if _, ok := memo.Get(ctx, "a", "k"); ok {
		t.Fatal("nil memoizer must always miss")
	}
	memo.Set(ctx, "a", "k", map[string]any{"x": 1}) // must not panic
	if err := memo.Clear(ctx, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
