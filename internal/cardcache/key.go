// Package cardcache stores rendered card documents keyed by user id and the
// resolved display configuration. Entries are best effort: every backend may
// drop them at any time.
package cardcache

import (
	"context"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/lsqkk/bili-card/internal/card"
)

// Store is a response cache backend.
type Store interface {
	// Get returns the document for key, or false on a miss or expired entry.
	Get(ctx context.Context, key Key) (string, bool)
	// Put stores doc for ttl. Failures are the backend's to log.
	Put(ctx context.Context, key Key, doc string, ttl time.Duration)
}

// Key identifies one rendered document. Theme and Color must already be
// resolved to registered ids so that unknown ids share the default's entry.
type Key struct {
	UID        string
	Theme      string
	Color      string
	Visibility card.Visibility
}

// String renders the key as "uid:theme:color:visibilityHash".
func (k Key) String() string {
	return k.UID + ":" + k.Theme + ":" + k.Color + ":" + VisibilityHash(k.Visibility)
}

// VisibilityHash is a short BLAKE2b digest of the canonical visibility set.
func VisibilityHash(v card.Visibility) string {
	sum := blake2b.Sum256([]byte(v.Canonical()))
	return hex.EncodeToString(sum[:6])
}
