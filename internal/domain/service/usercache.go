package service

import (
	"context"
	"sync"
	"time"

	"github.com/elysia-ai/elysia/internal/domain/entity"
)

// CachedUser is the per-user snapshot the completion pipeline reads:
// profile plus recent memory, stamped at fetch time.
type CachedUser struct {
	User      *entity.User
	Memory    []*entity.MemoryMessage
	FetchedAt time.Time
}

// UserLoader fetches a fresh snapshot on cache miss.
type UserLoader func(ctx context.Context) (*entity.User, []*entity.MemoryMessage, error)

// UserCache is a per-process short-TTL cache of user snapshots. Concurrent
// lookups are safe; duplicate concurrent loads for the same key may both run,
// which is acceptable — the committer's Invalidate narrows staleness after
// writes.
type UserCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]*CachedUser

	now func() time.Time // test hook
}

// NewUserCache creates a cache with the given TTL (30s is the usual choice).
func NewUserCache(ttl time.Duration) *UserCache {
	return &UserCache{
		ttl:     ttl,
		entries: make(map[string]*CachedUser),
		now:     time.Now,
	}
}

// Get returns the cached snapshot when it is younger than the TTL, otherwise
// runs loader and caches its result.
func (c *UserCache) Get(ctx context.Context, userID string, loader UserLoader) (*CachedUser, error) {
	c.mu.RLock()
	cached, ok := c.entries[userID]
	c.mu.RUnlock()

	if ok && c.now().Sub(cached.FetchedAt) < c.ttl {
		return cached, nil
	}

	user, memory, err := loader(ctx)
	if err != nil {
		return nil, err
	}

	fresh := &CachedUser{
		User:      user,
		Memory:    memory,
		FetchedAt: c.now(),
	}

	c.mu.Lock()
	c.entries[userID] = fresh
	c.mu.Unlock()

	return fresh, nil
}

// Invalidate drops the snapshot for userID. Called after any write that
// changes the profile or memory so the next read observes the new state.
func (c *UserCache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// Len reports the number of live entries (metrics).
func (c *UserCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
