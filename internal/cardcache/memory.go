package cardcache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxEntries is the soft cap used when none is configured.
const DefaultMaxEntries = 1000

type memoryEntry struct {
	key       string
	doc       string
	expiresAt time.Time
}

// Memory is a process-local Store. Expired entries are dropped lazily on
// read, by a periodic Evict, and first in line when a write exceeds the soft
// cap; after that the oldest insertions go.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = oldest insertion
	maxEntries int
	now        func() time.Time
	logger     *zap.Logger
}

// NewMemory creates a Memory store with the given soft cap.
func NewMemory(maxEntries int, logger *zap.Logger) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Memory{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
		logger:     logger,
	}
}

// SetClock replaces the time source. Tests only.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Get looks up key, removing it if expired.
func (m *Memory) Get(_ context.Context, key Key) (string, bool) {
	k := key.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[k]
	if !ok {
		return "", false
	}
	e := el.Value.(*memoryEntry)
	if !m.now().Before(e.expiresAt) {
		m.remove(el)
		return "", false
	}
	return e.doc, true
}

// Put stores doc. Rewriting a key counts as a fresh insertion.
func (m *Memory) Put(_ context.Context, key Key, doc string, ttl time.Duration) {
	k := key.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[k]; ok {
		m.remove(el)
	}
	m.entries[k] = m.order.PushBack(&memoryEntry{
		key:       k,
		doc:       doc,
		expiresAt: m.now().Add(ttl),
	})

	if len(m.entries) <= m.maxEntries {
		return
	}
	expired := m.evictExpired()
	oldest := 0
	for len(m.entries) > m.maxEntries {
		m.remove(m.order.Front())
		oldest++
	}
	m.logger.Debug("cache over soft cap",
		zap.Int("expired_removed", expired),
		zap.Int("oldest_removed", oldest),
	)
}

// Invalidate removes every entry for uid regardless of display config.
func (m *Memory) Invalidate(uid string) int {
	prefix := uid + ":"

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, el := range m.entries {
		if strings.HasPrefix(k, prefix) {
			m.remove(el)
			n++
		}
	}
	return n
}

// Evict removes all expired entries and returns how many were removed.
func (m *Memory) Evict() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictExpired()
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// StartEviction runs Evict every interval until ctx is cancelled.
func (m *Memory) StartEviction(ctx context.Context, interval time.Duration) {
	if interval == 0 {
		interval = time.Minute
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := m.Evict(); n > 0 {
					m.logger.Debug("cache eviction", zap.Int("evicted", n))
				}
			}
		}
	}()
}

// evictExpired must be called with mu held.
func (m *Memory) evictExpired() int {
	now := m.now()
	n := 0
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if !now.Before(el.Value.(*memoryEntry).expiresAt) {
			m.remove(el)
			n++
		}
		el = next
	}
	return n
}

func (m *Memory) remove(el *list.Element) {
	e := m.order.Remove(el).(*memoryEntry)
	delete(m.entries, e.key)
}
