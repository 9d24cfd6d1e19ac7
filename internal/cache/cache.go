// Package cache provides a content-addressed cache for expensive
// provider calls (embeddings, LLM completions).
//
// Keys are derived from the hash of the call's full input, so equal
// inputs hit the same entry regardless of which request produced it.
// Two backends are provided: an in-process map (Memory) and Redis.
// Concurrent writers race last-writer-wins; that is acceptable because
// entries are pure functions of their key.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrMiss is returned by Get when no live entry exists for the key.
var ErrMiss = errors.New("cache miss")

// Cache is the narrow contract the pipeline depends on.
type Cache interface {
	// Get returns the cached value for key, or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given TTL. A zero TTL means
	// the entry never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the entry for key. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key string) error
}

// Key derives a content-addressed cache key from the call's input
// parts (e.g. model name and exact input text).
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0}) // separator so ("ab","c") != ("a","bc")
	}
	return hex.EncodeToString(h.Sum(nil))
}
