package transfer

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/marmos91/dittoshuffle/pkg/shuffle"
)

// Kind is the direction of a transfer.
type Kind int

const (
	KindUpload Kind = iota
	KindDownload
)

func (k Kind) String() string {
	switch k {
	case KindUpload:
		return "upload"
	case KindDownload:
		return "download"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// State is the lifecycle state of a Task.
type State int32

const (
	StateQueued State = iota
	StateSubmitted
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateSubmitted:
		return "submitted"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether s is Completed or Failed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// QueueFullPolicy decides what admission does when a bounded lane is full.
type QueueFullPolicy string

const (
	// QueueFullReject fails the submission with shuffle.ErrQueueFull.
	QueueFullReject QueueFullPolicy = "reject"

	// QueueFullBlock makes the submitter wait for room or for its context.
	QueueFullBlock QueueFullPolicy = "block"
)

// Config holds the engine settings. Zero values fall back to defaults.
type Config struct {
	// AppName namespaces remote object keys and tags log lines.
	AppName string

	// UploadParallelism and DownloadParallelism bound the number of tasks
	// running concurrently in each direction.
	UploadParallelism   int
	DownloadParallelism int

	// QueueDepth bounds the number of queued (not yet accepted by a worker)
	// tasks per direction. Zero means unbounded.
	QueueDepth      int
	QueueFullPolicy QueueFullPolicy

	// Timeout force-fails a running task with shuffle.ErrTimeout. Zero
	// disables the deadline.
	Timeout time.Duration

	// DownloadBufferSize is the read buffer used when streaming a block.
	DownloadBufferSize int

	// DownloadInMemoryMaxSize is the largest block DownloadBlock keeps in
	// memory; larger blocks spill to a file under LocalDir.
	DownloadInMemoryMaxSize int64

	// LocalDir receives spilled downloads. Empty means os.TempDir().
	LocalDir string

	// PreferSecondary reads from the secondary store first and falls back to
	// the primary one. Without a secondary store it has no effect.
	PreferSecondary bool
}

const (
	DefaultUploadParallelism       = 5
	DefaultDownloadParallelism     = 5
	DefaultDownloadBufferSize      = 1 << 20
	DefaultDownloadInMemoryMaxSize = 64 << 20
)

// applyDefaults fills zero fields.
func (c *Config) applyDefaults() {
	if c.AppName == "" {
		c.AppName = "default"
	}
	if c.UploadParallelism <= 0 {
		c.UploadParallelism = DefaultUploadParallelism
	}
	if c.DownloadParallelism <= 0 {
		c.DownloadParallelism = DefaultDownloadParallelism
	}
	if c.QueueDepth < 0 {
		c.QueueDepth = 0
	}
	if c.QueueFullPolicy == "" {
		c.QueueFullPolicy = QueueFullBlock
	}
	if c.DownloadBufferSize <= 0 {
		c.DownloadBufferSize = DefaultDownloadBufferSize
	}
	if c.DownloadInMemoryMaxSize < 0 {
		c.DownloadInMemoryMaxSize = 0
	} else if c.DownloadInMemoryMaxSize == 0 {
		c.DownloadInMemoryMaxSize = DefaultDownloadInMemoryMaxSize
	}
	if c.LocalDir == "" {
		c.LocalDir = os.TempDir()
	}
}

func (c *Config) validate() error {
	switch c.QueueFullPolicy {
	case QueueFullReject, QueueFullBlock:
	default:
		return fmt.Errorf("%w: unknown queue full policy %q", shuffle.ErrConfiguration, c.QueueFullPolicy)
	}
	return nil
}

// UploadResult describes a completed upload.
type UploadResult struct {
	ID       shuffle.BlockID
	Location shuffle.BlockLocation

	// BytesUploaded counts data and index bytes.
	BytesUploaded int64

	// Duration is the running time; Latency also includes time spent queued.
	Duration time.Duration
	Latency  time.Duration

	Backend string
}

// DownloadResult holds a downloaded block, in memory or spilled to a local
// file. Close releases the spill file.
type DownloadResult struct {
	ID       shuffle.BlockID
	Size     int64
	Duration time.Duration
	Backend  string

	data []byte
	path string
}

// InMemory reports whether the block is held in memory.
func (r *DownloadResult) InMemory() bool {
	return r.path == ""
}

// Path returns the spill file, or "" for in-memory results.
func (r *DownloadResult) Path() string {
	return r.path
}

// Bytes returns the in-memory content. Spilled results are read from disk.
func (r *DownloadResult) Bytes() ([]byte, error) {
	if r.path == "" {
		return r.data, nil
	}
	return os.ReadFile(r.path)
}

// Open returns a reader over the block content.
func (r *DownloadResult) Open() (io.ReadCloser, error) {
	if r.path == "" {
		return io.NopCloser(bytes.NewReader(r.data)), nil
	}
	return os.Open(r.path)
}

// Close removes the spill file, if any.
func (r *DownloadResult) Close() error {
	r.data = nil
	if r.path == "" {
		return nil
	}
	err := os.Remove(r.path)
	r.path = ""
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
