// Package fs provides a Store backed by a directory tree. It serves mounted
// distributed filesystems (HDFS fuse/NFS gateways) as well as plain local
// disks. Object keys map to paths relative to the base directory.
package fs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/marmos91/dittoshuffle/pkg/store"
)

// Config holds configuration for the filesystem store.
type Config struct {
	// BasePath is the root directory. Keys are stored relative to it.
	BasePath string

	// CreateDir creates BasePath if it does not exist.
	CreateDir bool

	// DirMode and FileMode are the permissions of created entries.
	// Defaults: 0755 and 0644.
	DirMode  os.FileMode
	FileMode os.FileMode

	// BufferSize is the copy buffer used when writing objects.
	// Default: 64KiB.
	BufferSize int

	// Sync fsyncs every object before it is renamed into place.
	Sync bool
}

// DefaultConfig returns the default configuration rooted at basePath.
func DefaultConfig(basePath string) Config {
	return Config{
		BasePath:   basePath,
		CreateDir:  true,
		DirMode:    0755,
		FileMode:   0644,
		BufferSize: 64 * 1024,
	}
}

// Store is a filesystem-backed store.Store.
type Store struct {
	cfg    Config
	mu     sync.RWMutex
	closed bool
}

// New creates a filesystem store.
func New(cfg Config) (*Store, error) {
	if cfg.BasePath == "" {
		return nil, errors.New("base path is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64 * 1024
	}

	if cfg.CreateDir {
		if err := os.MkdirAll(cfg.BasePath, cfg.DirMode); err != nil {
			return nil, fmt.Errorf("create base path: %w", err)
		}
	}
	info, err := os.Stat(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("stat base path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base path %s is not a directory", cfg.BasePath)
	}
	return &Store{cfg: cfg}, nil
}

// NewWithPath creates a filesystem store with the default configuration.
func NewWithPath(basePath string) (*Store, error) {
	return New(DefaultConfig(basePath))
}

func (s *Store) Type() string { return "fs" }

func (s *Store) objectPath(key string) string {
	return filepath.Join(s.cfg.BasePath, filepath.FromSlash(key))
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrStoreClosed
	}
	return nil
}

// PutObject writes to a uniquely named temporary file next to the target and
// renames it into place, so readers never observe a partial object.
func (s *Store) PutObject(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	dst := s.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(dst), s.cfg.DirMode); err != nil {
		return fmt.Errorf("fs put %s: %w", key, err)
	}

	tmp := dst + ".tmp-" + uuid.NewString()
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, s.cfg.FileMode)
	if err != nil {
		return fmt.Errorf("fs put %s: %w", key, err)
	}

	n, err := s.copy(ctx, f, r)
	if err == nil && size >= 0 && n != size {
		err = fmt.Errorf("wrote %d bytes, expected %d", n, size)
	}
	if err == nil && s.cfg.Sync {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, dst)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("fs put %s: %w", key, err)
	}
	return nil
}

func (s *Store) copy(ctx context.Context, f *os.File, r io.Reader) (int64, error) {
	w := bufio.NewWriterSize(f, s.cfg.BufferSize)
	buf := make([]byte, s.cfg.BufferSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return total, err
			}
			total += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return total, rerr
		}
	}
	return total, w.Flush()
}

func (s *Store) GetObject(ctx context.Context, key string, rng *store.Range) (io.ReadCloser, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.objectPath(key))
	if err != nil {
		return nil, mapErr(key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, mapErr(key, err)
	}

	r, err := store.ValidateRange(rng, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	if r.Length == 0 {
		f.Close()
		return store.EmptyReader(), nil
	}
	if rng == nil {
		return f, nil
	}
	return &sectionReadCloser{
		Reader: io.NewSectionReader(f, r.Offset, r.Length),
		Closer: f,
	}, nil
}

type sectionReadCloser struct {
	io.Reader
	io.Closer
}

func (s *Store) StatObject(ctx context.Context, key string) (store.ObjectInfo, error) {
	if err := store.ValidateKey(key); err != nil {
		return store.ObjectInfo{}, err
	}
	if err := s.checkOpen(); err != nil {
		return store.ObjectInfo{}, err
	}
	info, err := os.Stat(s.objectPath(key))
	if err != nil {
		return store.ObjectInfo{}, mapErr(key, err)
	}
	if info.IsDir() {
		return store.ObjectInfo{}, fmt.Errorf("%w: %s is a directory", store.ErrObjectNotFound, key)
	}
	return store.ObjectInfo{Key: key, Size: info.Size(), LastModified: info.ModTime()}, nil
}

func (s *Store) DeleteObject(ctx context.Context, key string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := os.Remove(s.objectPath(key)); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("fs delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) error {
	keys, err := s.ListByPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.DeleteObject(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	keys := make([]string, 0)
	err := filepath.WalkDir(s.cfg.BasePath, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.Contains(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.cfg.BasePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fs list %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	info, err := os.Stat(s.cfg.BasePath)
	if err != nil {
		return fmt.Errorf("fs health check: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("fs health check: %s is not a directory", s.cfg.BasePath)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func mapErr(key string, err error) error {
	if errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("%w: %s", store.ErrObjectNotFound, key)
	}
	return fmt.Errorf("fs %s: %w", key, err)
}

var _ store.Store = (*Store)(nil)
