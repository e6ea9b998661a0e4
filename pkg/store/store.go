// Package store defines the storage transport used by the transfer engine.
//
// A Store is an opaque object store addressed by slash-separated keys. The
// engine only needs whole-object writes and (ranged) streaming reads; it never
// depends on which backend it talks to. Implementations live in the s3, fs
// and memory subpackages.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Common errors returned by Store implementations. Backend-specific errors
// are wrapped so that errors.Is works against these sentinels.
var (
	// ErrObjectNotFound is returned when the requested key does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrTransient marks failures that may succeed when retried: throttling,
	// 5xx responses, connection resets and network timeouts.
	ErrTransient = errors.New("transient store error")

	// ErrInvalidRange is returned when a requested range starts past the end
	// of the object.
	ErrInvalidRange = errors.New("invalid range")

	// ErrInvalidKey rejects keys that are empty, absolute or escape the root.
	ErrInvalidKey = errors.New("invalid object key")
)

// Range selects Length bytes starting at Offset.
type Range struct {
	Offset int64
	Length int64
}

// End returns the exclusive end offset.
func (r Range) End() int64 { return r.Offset + r.Length }

// String renders the range as an HTTP Range header value.
func (r Range) String() string {
	return fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Length-1)
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the transport contract consumed by the transfer engine.
type Store interface {
	// Type names the backend ("s3", "fs", "memory") for logs and metrics.
	Type() string

	// PutObject writes size bytes from r under key, replacing any existing
	// object. The object becomes visible atomically once PutObject returns.
	PutObject(ctx context.Context, key string, r io.Reader, size int64) error

	// GetObject opens key for reading. A nil rng reads the whole object.
	// A zero-length range yields an empty reader. Returns ErrObjectNotFound
	// if the key does not exist. Callers must close the reader.
	GetObject(ctx context.Context, key string, rng *Range) (io.ReadCloser, error)

	// StatObject returns metadata for key or ErrObjectNotFound.
	StatObject(ctx context.Context, key string) (ObjectInfo, error)

	// DeleteObject removes key. Deleting a missing key is not an error.
	DeleteObject(ctx context.Context, key string) error

	// DeleteByPrefix removes every object under prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error

	// ListByPrefix returns the keys under prefix in lexical order.
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases resources. Later calls fail with ErrStoreClosed.
	Close() error
}

// ValidateKey rejects keys that cannot be mapped safely onto every backend.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if path.Clean(key) != key || key == ".." || strings.HasPrefix(key, "../") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// ValidateRange checks rng against an object of the given size and clamps
// its length to the object end.
func ValidateRange(rng *Range, size int64) (Range, error) {
	if rng == nil {
		return Range{Offset: 0, Length: size}, nil
	}
	if rng.Offset < 0 || rng.Length < 0 {
		return Range{}, fmt.Errorf("%w: %+v", ErrInvalidRange, *rng)
	}
	if rng.Length == 0 {
		return Range{Offset: rng.Offset}, nil
	}
	if rng.Offset >= size {
		return Range{}, fmt.Errorf("%w: offset %d past size %d", ErrInvalidRange, rng.Offset, size)
	}
	r := *rng
	if r.End() > size {
		r.Length = size - r.Offset
	}
	return r, nil
}

// EmptyReader is returned for zero-length ranges.
func EmptyReader() io.ReadCloser {
	return io.NopCloser(strings.NewReader(""))
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}
