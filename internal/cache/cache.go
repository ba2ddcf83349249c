// Package cache stores serialized explorer pages. Entries belong to a scoring
// epoch: Invalidate starts a new epoch, and entries written under an earlier
// one are never returned again.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Cache is a TTL key/value store for explorer responses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
	// Invalidate drops every entry written so far.
	Invalidate(ctx context.Context) error
}

// Key derives a cache key from a query and its arguments.
func Key(kind, sql string, args []any) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(sql))
	h.Write([]byte{0})
	b, err := json.Marshal(args)
	if err != nil {
		// Unmarshalable args cannot collide with a real key.
		b = []byte{0xff}
	}
	h.Write(b)
	return kind + ":" + hex.EncodeToString(h.Sum(nil))
}

// Nop is a Cache that stores nothing.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte) error         { return nil }
func (Nop) Invalidate(context.Context) error                  { return nil }
