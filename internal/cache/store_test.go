package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestStore_SetGet_Roundtrip(t *testing.T) {
	s := &Store{Dir: t.TempDir(), DefaultTTL: time.Hour}
	ctx := context.Background()

	payload := map[string]any{"data": map[string]any{"content": "hello"}, "metadata": map[string]any{"url": "https://x"}}
	if err := s.Set(ctx, "scrape", "https://x", payload, 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	raw, ok, err := s.Get(ctx, "scrape", "https://x", func(shape map[string]any) bool {
		_, hasData := shape["data"]
		_, hasMeta := shape["metadata"]
		return hasData && hasMeta
	})
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if len(raw) == 0 {
		t.Fatalf("expected payload bytes")
	}
}

func TestStore_Get_MissOnExpiry(t *testing.T) {
	start := time.Now().UTC()
	now := start
	s := &Store{Dir: t.TempDir(), Now: func() time.Time { return now }}
	ctx := context.Background()

	if err := s.Set(ctx, "scrape", "u", map[string]any{"data": map[string]any{"content": "x"}}, time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	now = start.Add(2 * time.Second)
	_, ok, _ := s.Get(ctx, "scrape", "u", nil)
	if ok {
		t.Fatalf("expected expiry miss")
	}
}

func TestStore_Get_MissOnCorruptPayload_EvictsEntry(t *testing.T) {
	dir := t.TempDir()
	s := &Store{Dir: dir, DefaultTTL: time.Hour}
	ctx := context.Background()

	if err := s.Set(ctx, "scrape", "u", map[string]any{"data": map[string]any{"content": "x"}}, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	p := keyFile(dir, "scrape", "u")
	if err := os.WriteFile(p, []byte(`"not-an-object"`), 0o644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	_, ok, err := s.Get(ctx, "scrape", "u", func(shape map[string]any) bool {
		_, hasData := shape["data"]
		return hasData
	})
	if err != nil || ok {
		t.Fatalf("expected structural-miss, got ok=%v err=%v", ok, err)
	}
	if _, statErr := os.Stat(p); !os.IsNotExist(statErr) {
		t.Fatalf("expected poisoned entry to be evicted")
	}
}

func TestStore_Get_MissOnMissingShapeKeys(t *testing.T) {
	dir := t.TempDir()
	s := &Store{Dir: dir, DefaultTTL: time.Hour}
	ctx := context.Background()

	if err := s.Set(ctx, "scrape", "u", map[string]any{"unexpected": true}, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	_, ok, _ := s.Get(ctx, "scrape", "u", func(shape map[string]any) bool {
		_, hasData := shape["data"]
		return hasData
	})
	if ok {
		t.Fatalf("expected miss on missing required keys")
	}
}
