// Package cache memoizes definitive name lookups for the lifetime of the
// process. Entries are never evicted; one document bounds the key set.
package cache

import (
	"context"
	"sync"

	"six2five/pkg/domain"
	"six2five/pkg/platform/sentinel"
)

// Entry is a definitive outcome. Found is false when the identity service
// confirmed that no profile exists for the id.
type Entry struct {
	Name  string
	Found bool
}

// NameCacheStore is a concurrent in-memory map from profile id to Entry.
type NameCacheStore struct {
	mu      sync.RWMutex
	entries map[domain.ProfileID]Entry
}

func New() *NameCacheStore {
	return &NameCacheStore{entries: make(map[domain.ProfileID]Entry)}
}

// Find returns the cached entry or sentinel.ErrNotFound on a miss.
func (c *NameCacheStore) Find(_ context.Context, id domain.ProfileID) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[id]; ok {
		return e, nil
	}
	return Entry{}, sentinel.ErrNotFound
}

// Save records a definitive outcome, replacing any earlier one.
func (c *NameCacheStore) Save(_ context.Context, id domain.ProfileID, e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = e
	return nil
}

// Len returns the number of cached ids.
func (c *NameCacheStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
