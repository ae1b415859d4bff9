package user

import (
	"context"
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultCacheSize bounds CachedDirectory when no size is given.
const DefaultCacheSize = 1024

// CachedDirectory fronts a Directory with a bounded LRU keyed by user id.
//
// Only FindByID is served from the cache. Writes invalidate the id before and
// after delegating, and a miss that read the backing directory while a write
// of the same id was in progress does not populate the cache, so a
// successful write is never followed by a stale read.
type CachedDirectory struct {
	Directory
	cache *lru.Cache

	mu    sync.Mutex
	fills map[string]*fill
}

// fill tracks lookups of one id that are reading the backing directory.
type fill struct {
	refs  int
	stale bool
}

// NewCachedDirectory wraps next with an LRU of at most size entries.
func NewCachedDirectory(next Directory, size int) (*CachedDirectory, error) {
	if next == nil {
		return nil, errors.New("cached directory requires a backing directory")
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedDirectory{Directory: next, cache: cache, fills: make(map[string]*fill)}, nil
}

// FindByID returns the cached record when present and populates the cache on miss.
func (c *CachedDirectory) FindByID(ctx context.Context, id string) (*User, error) {
	if v, ok := c.cache.Get(id); ok {
		return v.(*User).Clone(), nil
	}

	c.mu.Lock()
	f, ok := c.fills[id]
	if !ok {
		f = &fill{}
		c.fills[id] = f
	}
	f.refs++
	c.mu.Unlock()

	u, err := c.Directory.FindByID(ctx, id)

	c.mu.Lock()
	f.refs--
	if f.refs == 0 {
		delete(c.fills, id)
	}
	if err == nil && !f.stale {
		c.cache.Add(id, u.Clone())
	}
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return u, nil
}

// Save invalidates u.ID and delegates.
func (c *CachedDirectory) Save(ctx context.Context, u *User) error {
	if u == nil {
		return c.Directory.Save(ctx, u)
	}
	c.invalidate(u.ID)
	defer c.invalidate(u.ID)
	return c.Directory.Save(ctx, u)
}

// Update invalidates id and delegates.
func (c *CachedDirectory) Update(ctx context.Context, id string, fn func(*User) error) (*User, error) {
	c.invalidate(id)
	defer c.invalidate(id)
	return c.Directory.Update(ctx, id, fn)
}

// Delete invalidates id and delegates.
func (c *CachedDirectory) Delete(ctx context.Context, id string) error {
	c.invalidate(id)
	defer c.invalidate(id)
	return c.Directory.Delete(ctx, id)
}

// invalidate drops id and spoils any fill of id already reading.
func (c *CachedDirectory) invalidate(id string) {
	c.mu.Lock()
	if f, ok := c.fills[id]; ok {
		f.stale = true
	}
	c.cache.Remove(id)
	c.mu.Unlock()
}

// Len reports the number of cached entries.
func (c *CachedDirectory) Len() int {
	return c.cache.Len()
}

// Purge drops every cached entry.
func (c *CachedDirectory) Purge() {
	c.cache.Purge()
}
