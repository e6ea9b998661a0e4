// Package location caches where map outputs live in remote storage.
//
// Entries are keyed by map-output identity, so a single upload serves every
// reduce block of that map output. The cache is bounded in size (LRU) and in
// age (TTL counted from insertion); an expired entry behaves as a miss.
// Concurrent misses for the same identity share a single remote resolution.
package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/marmos91/dittoshuffle/internal/logger"
	"github.com/marmos91/dittoshuffle/pkg/metrics"
	"github.com/marmos91/dittoshuffle/pkg/shuffle"
)

// Resolver looks a map output up in remote storage. It is called with the
// map-output identity and returns shuffle.ErrBlockNotFound when nothing is
// stored for it.
type Resolver func(ctx context.Context, id shuffle.BlockID) (shuffle.BlockLocation, error)

// Config bounds the cache.
type Config struct {
	// Size is the maximum number of entries. Zero means unbounded.
	Size int

	// TTL is the maximum entry age. Zero disables expiry.
	TTL time.Duration

	// ResolveTimeout bounds a shared remote resolution, which outlives the
	// context of the caller that started it. Zero means 30s.
	ResolveTimeout time.Duration
}

// flight tracks a resolution in progress. dirty is set when Put or
// Invalidate touched the key meanwhile, in which case the resolved value is
// stale and must not be stored.
type flight struct {
	dirty bool
}

// Cache is safe for concurrent use.
type Cache struct {
	lru      *expirable.LRU[shuffle.BlockID, shuffle.BlockLocation]
	resolve  Resolver
	group    singleflight.Group
	recorder metrics.CacheRecorder
	timeout  time.Duration
	now      func() time.Time

	// mu orders writes against the in-flight registry. Reads go straight to
	// the LRU, which has its own lock.
	mu       sync.Mutex
	inflight map[shuffle.BlockID]*flight
}

// New creates a cache. resolve may be nil, in which case Resolve only
// serves hits. recorder may be nil.
func New(cfg Config, resolve Resolver, recorder metrics.CacheRecorder) *Cache {
	timeout := cfg.ResolveTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	size := cfg.Size
	if size < 0 {
		size = 0
	}
	return &Cache{
		lru:      expirable.NewLRU[shuffle.BlockID, shuffle.BlockLocation](size, nil, cfg.TTL),
		resolve:  resolve,
		recorder: recorder,
		timeout:  timeout,
		now:      time.Now,
		inflight: make(map[shuffle.BlockID]*flight),
	}
}

// Get returns the cached location of the map output containing id.
func (c *Cache) Get(id shuffle.BlockID) (shuffle.BlockLocation, bool) {
	loc, ok := c.lru.Get(id.MapOutputID())
	if ok {
		metrics.RecordHit(c.recorder, metrics.CacheLocation)
	} else {
		metrics.RecordMiss(c.recorder, metrics.CacheLocation)
	}
	return loc, ok
}

// Put records loc as the location of the map output containing id,
// replacing any previous entry. LastAccess is set when zero.
func (c *Cache) Put(id shuffle.BlockID, loc shuffle.BlockLocation) {
	key := id.MapOutputID()
	loc.ID = key
	if loc.LastAccess.IsZero() {
		loc.LastAccess = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.inflight[key]; ok {
		f.dirty = true
	}
	c.lru.Add(key, loc)
}

// Invalidate drops the entry for the map output containing id.
func (c *Cache) Invalidate(id shuffle.BlockID) {
	key := id.MapOutputID()

	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.inflight[key]; ok {
		f.dirty = true
	}
	c.lru.Remove(key)
}

// InvalidateShuffle drops every entry of shuffleID and returns the removed
// locations.
func (c *Cache) InvalidateShuffle(shuffleID int32) []shuffle.BlockLocation {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, f := range c.inflight {
		if key.ShuffleID == shuffleID {
			f.dirty = true
		}
	}

	var removed []shuffle.BlockLocation
	for _, key := range c.lru.Keys() {
		if key.ShuffleID != shuffleID {
			continue
		}
		if loc, ok := c.lru.Peek(key); ok {
			removed = append(removed, loc)
		}
		c.lru.Remove(key)
	}
	return removed
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.inflight {
		f.dirty = true
	}
	c.lru.Purge()
}

// Resolve returns the cached location or resolves it remotely. Concurrent
// callers missing on the same map output wait for one shared resolution.
// Failed resolutions are not cached.
func (c *Cache) Resolve(ctx context.Context, id shuffle.BlockID) (shuffle.BlockLocation, error) {
	if loc, ok := c.Get(id); ok {
		return loc, nil
	}
	if c.resolve == nil {
		return shuffle.BlockLocation{}, fmt.Errorf("%w: %s not cached", shuffle.ErrBlockNotFound, id)
	}

	key := id.MapOutputID()
	ch := c.group.DoChan(key.String(), func() (any, error) {
		return c.resolveOnce(ctx, key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return shuffle.BlockLocation{}, res.Err
		}
		return res.Val.(shuffle.BlockLocation), nil
	case <-ctx.Done():
		return shuffle.BlockLocation{}, ctx.Err()
	}
}

func (c *Cache) resolveOnce(ctx context.Context, key shuffle.BlockID) (shuffle.BlockLocation, error) {
	// A resolution may have completed between the miss and this call.
	if loc, ok := c.lru.Get(key); ok {
		return loc, nil
	}

	c.mu.Lock()
	if _, dup := c.inflight[key]; dup {
		c.mu.Unlock()
		return shuffle.BlockLocation{}, fmt.Errorf("%w: concurrent resolution of %s", shuffle.ErrCacheConsistency, key)
	}
	f := &flight{}
	c.inflight[key] = f
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
	}()

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	loc, err := c.resolve(rctx, key)
	metrics.RecordResolution(c.recorder, metrics.CacheLocation, err)
	if err != nil {
		logger.Debug("Location resolution failed", logger.KeyShuffleID, key.ShuffleID,
			logger.KeyMapID, key.MapID, logger.KeyAttemptID, key.AttemptID, logger.Err(err))
		return shuffle.BlockLocation{}, err
	}
	loc.ID = key
	if loc.LastAccess.IsZero() {
		loc.LastAccess = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if f.dirty {
		// A writer replaced or dropped the entry while we were resolving;
		// its value wins.
		if cur, ok := c.lru.Peek(key); ok {
			return cur, nil
		}
		return loc, nil
	}
	c.lru.Add(key, loc)
	return loc, nil
}
