package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestKeyDeterministic(t *testing.T) {
	a := Key("gemini-embedding-001", "population in Kota Bandung")
	b := Key("gemini-embedding-001", "population in Kota Bandung")
	if a != b {
		t.Error("equal inputs must produce equal keys")
	}
	if a == Key("gemini-embedding-001", "different text") {
		t.Error("different inputs must produce different keys")
	}
}

func TestKeyPartBoundaries(t *testing.T) {
	// Part boundaries must matter: ("ab","c") and ("a","bc") concatenate
	// to the same bytes but are different calls.
	if Key("ab", "c") == Key("a", "bc") {
		t.Error("key must separate input parts")
	}
}

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss on empty cache, got %v", err)
	}

	if err := m.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v" {
		t.Errorf("got %q, want %q", got, "v")
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	now := time.Now()
	m.now = func() time.Time { return now }

	if err := m.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Fatalf("entry should be live before TTL: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after TTL, got %v", err)
	}
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Delete(ctx, "missing"); err != nil {
		t.Errorf("deleting a missing key must not error: %v", err)
	}

	_ = m.Set(ctx, "k", []byte("v"), 0)
	_ = m.Delete(ctx, "k")
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Error("deleted entry should miss")
	}
}

func TestMemoryLastWriterWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_ = m.Set(ctx, "k", []byte("first"), 0)
	_ = m.Set(ctx, "k", []byte("second"), 0)

	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Errorf("got %q, want last write", got)
	}
}
