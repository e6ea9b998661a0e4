// Package memory provides an in-memory Store, used for tests and for local
// runs without a remote backend.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittoshuffle/pkg/store"
)

type object struct {
	data     []byte
	modified time.Time
}

// Store keeps objects in a map guarded by a RWMutex.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	closed  bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{objects: make(map[string]object)}
}

func (s *Store) Type() string { return "memory" }

func (s *Store) PutObject(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}

	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	n, err := io.Copy(&buf, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		return fmt.Errorf("memory put %s: %w", key, err)
	}
	if size >= 0 && n != size {
		return fmt.Errorf("memory put %s: read %d bytes, expected %d", key, n, size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrStoreClosed
	}
	s.objects[key] = object{data: buf.Bytes(), modified: time.Now()}
	return nil
}

func (s *Store) GetObject(ctx context.Context, key string, rng *store.Range) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrStoreClosed
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrObjectNotFound, key)
	}

	r, err := store.ValidateRange(rng, int64(len(obj.data)))
	if err != nil {
		return nil, err
	}
	if r.Length == 0 {
		return store.EmptyReader(), nil
	}
	// Objects are never mutated in place, so the slice can be shared.
	return io.NopCloser(bytes.NewReader(obj.data[r.Offset:r.End()])), nil
}

func (s *Store) StatObject(ctx context.Context, key string) (store.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return store.ObjectInfo{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ObjectInfo{}, store.ErrStoreClosed
	}
	obj, ok := s.objects[key]
	if !ok {
		return store.ObjectInfo{}, fmt.Errorf("%w: %s", store.ErrObjectNotFound, key)
	}
	return store.ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.modified}, nil
}

func (s *Store) DeleteObject(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrStoreClosed
	}
	delete(s.objects, key)
	return nil
}

func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrStoreClosed
	}
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			delete(s.objects, k)
		}
	}
	return nil
}

func (s *Store) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrStoreClosed
	}
	keys := make([]string, 0)
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.objects = make(map[string]object)
	return nil
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ store.Store = (*Store)(nil)
