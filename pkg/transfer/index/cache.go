// Package index keeps map-output index files on local disk so reduce-side
// reads do not fetch the same index from remote storage repeatedly.
//
// The cache is a pure optimization: entries are either present or absent and
// a miss always falls back to the remote fetch. Its directory is wiped when
// the cache is opened, so nothing survives a process restart.
package index

import (
	"context"
	"errors"
	"fmt"
	"os"

	badger "github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/singleflight"

	"github.com/marmos91/dittoshuffle/internal/logger"
	"github.com/marmos91/dittoshuffle/pkg/metrics"
	"github.com/marmos91/dittoshuffle/pkg/shuffle"
)

// Fetcher reads the raw index object of a map output from remote storage.
type Fetcher func(ctx context.Context, loc shuffle.BlockLocation) ([]byte, error)

// Config controls the local index cache.
type Config struct {
	// Enabled turns local caching on. When false every lookup is remote.
	Enabled bool

	// Dir is the directory holding the on-disk store. Its contents are
	// deleted on Open and Close.
	Dir string

	// InMemory keeps the store in memory instead of Dir (tests).
	InMemory bool
}

// Cache is safe for concurrent use.
type Cache struct {
	db       *badger.DB
	dir      string
	group    singleflight.Group
	recorder metrics.CacheRecorder
}

// Open creates the cache. With caching disabled it returns a pass-through
// cache that holds no resources.
func Open(cfg Config, recorder metrics.CacheRecorder) (*Cache, error) {
	c := &Cache{recorder: recorder}
	if !cfg.Enabled {
		return c, nil
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("%w: index cache directory is required", shuffle.ErrConfiguration)
		}
		if err := os.RemoveAll(cfg.Dir); err != nil {
			return nil, fmt.Errorf("wipe index cache %s: %w", cfg.Dir, err)
		}
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create index cache %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
		c.dir = cfg.Dir
	}
	// Index files are tiny; keep the footprint small.
	opts = opts.WithLogger(nil).
		WithSyncWrites(false).
		WithNumVersionsToKeep(1).
		WithMemTableSize(8 << 20).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open index cache: %w", err)
	}
	c.db = db

	logger.Debug("Local index cache opened", logger.KeyPath, cfg.Dir)
	return c, nil
}

// Enabled reports whether indexes are cached locally.
func (c *Cache) Enabled() bool {
	return c.db != nil
}

func dbKey(loc shuffle.BlockLocation) []byte {
	return []byte("idx/" + loc.IndexKey)
}

// Lookup returns the parsed index of the map output at loc, fetching it
// remotely on a miss. Concurrent misses for the same index share one fetch.
func (c *Cache) Lookup(ctx context.Context, loc shuffle.BlockLocation, fetch Fetcher) (*shuffle.Index, error) {
	if !loc.HasIndex() {
		return nil, fmt.Errorf("%w: %s has no index", shuffle.ErrInvalidIndex, loc.ID)
	}
	if !c.Enabled() {
		raw, err := fetch(ctx, loc)
		if err != nil {
			return nil, err
		}
		return shuffle.ParseIndex(raw)
	}

	if raw, ok := c.get(loc); ok {
		if idx, err := shuffle.ParseIndex(raw); err == nil {
			metrics.RecordHit(c.recorder, metrics.CacheIndex)
			return idx, nil
		}
		// Corrupt entry: drop it and refetch.
		c.Invalidate(loc)
	}
	metrics.RecordMiss(c.recorder, metrics.CacheIndex)

	v, err, _ := c.group.Do(loc.IndexKey, func() (any, error) {
		raw, err := fetch(ctx, loc)
		metrics.RecordResolution(c.recorder, metrics.CacheIndex, err)
		if err != nil {
			return nil, err
		}
		idx, err := shuffle.ParseIndex(raw)
		if err != nil {
			return nil, err
		}
		c.put(loc, raw)
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*shuffle.Index), nil
}

func (c *Cache) get(loc shuffle.BlockLocation) ([]byte, bool) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey(loc))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			logger.Warn("Local index cache read failed", logger.Key(loc.IndexKey), logger.Err(err))
		}
		return nil, false
	}
	return raw, true
}

func (c *Cache) put(loc shuffle.BlockLocation, raw []byte) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dbKey(loc), raw)
	})
	if err != nil {
		logger.Warn("Local index cache write failed", logger.Key(loc.IndexKey), logger.Err(err))
	}
}

// Store seeds the cache with an index that is known to be current, such as
// one just uploaded from local disk.
func (c *Cache) Store(loc shuffle.BlockLocation, raw []byte) {
	if !c.Enabled() || !loc.HasIndex() {
		return
	}
	c.put(loc, raw)
}

// Invalidate drops the cached index of loc.
func (c *Cache) Invalidate(loc shuffle.BlockLocation) {
	if !c.Enabled() || !loc.HasIndex() {
		return
	}
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(dbKey(loc))
	})
	if err != nil {
		logger.Warn("Local index cache delete failed", logger.Key(loc.IndexKey), logger.Err(err))
	}
}

// Close releases the store and removes its directory.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	if c.dir != "" {
		if rerr := os.RemoveAll(c.dir); err == nil {
			err = rerr
		}
	}
	return err
}
