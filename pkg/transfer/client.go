package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittoshuffle/internal/logger"
	"github.com/marmos91/dittoshuffle/pkg/metrics"
	"github.com/marmos91/dittoshuffle/pkg/shuffle"
	"github.com/marmos91/dittoshuffle/pkg/store"
	"github.com/marmos91/dittoshuffle/pkg/transfer/index"
	"github.com/marmos91/dittoshuffle/pkg/transfer/location"
)

// Options wires the collaborators of a Client.
type Options struct {
	// Primary is the object store uploads go to. Required.
	Primary store.Store

	// Secondary is an optional second view of the same objects, typically a
	// mounted distributed filesystem. It is only read from.
	Secondary store.Store

	// Sink receives lifecycle events. Nil discards them.
	Sink metrics.Sink

	// LocationCache configures the location cache built by New.
	LocationCache location.Config

	// Indexes is the local index cache. Nil disables index caching.
	Indexes *index.Cache

	// CacheRecorder observes cache hits and misses. May be nil.
	CacheRecorder metrics.CacheRecorder
}

type inflightKey struct {
	kind Kind
	id   shuffle.BlockID
}

// Client is the transfer engine facade. It is safe for concurrent use.
type Client struct {
	cfg       Config
	primary   store.Store
	secondary store.Store
	sink      metrics.Sink
	locations *location.Cache
	indexes   *index.Cache

	uploads   *lane
	downloads *lane

	inflightMu sync.Mutex
	inflight   map[inflightKey]struct{}

	// bufPool recycles download copy buffers of cfg.DownloadBufferSize.
	bufPool sync.Pool

	closed atomic.Bool
	now    func() time.Time
}

// Stats is a snapshot of the lanes.
type Stats struct {
	UploadsQueued   int
	UploadsActive   int
	DownloadsQueued int
	DownloadsActive int
}

// New creates a Client and starts its workers.
func New(cfg Config, opts Options) (*Client, error) {
	if opts.Primary == nil {
		return nil, fmt.Errorf("%w: primary store is required", shuffle.ErrConfiguration)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	indexes := opts.Indexes
	if indexes == nil {
		var err error
		indexes, err = index.Open(index.Config{}, opts.CacheRecorder)
		if err != nil {
			return nil, err
		}
	}

	c := &Client{
		cfg:       cfg,
		primary:   opts.Primary,
		secondary: opts.Secondary,
		sink:      metrics.OrNoop(opts.Sink),
		indexes:   indexes,
		inflight:  make(map[inflightKey]struct{}),
		now:       time.Now,
	}
	c.locations = location.New(opts.LocationCache, c.resolveLocation, opts.CacheRecorder)
	c.bufPool.New = func() any {
		buf := make([]byte, cfg.DownloadBufferSize)
		return &buf
	}

	c.uploads = newLane(KindUpload, cfg.UploadParallelism, cfg.QueueDepth, cfg.QueueFullPolicy, cfg.Timeout, uploadEvents{c})
	c.downloads = newLane(KindDownload, cfg.DownloadParallelism, cfg.QueueDepth, cfg.QueueFullPolicy, cfg.Timeout, downloadEvents{c})
	c.uploads.start()
	c.downloads.start()

	logger.Info("Transfer client started",
		logger.KeyAppName, cfg.AppName,
		"upload_parallelism", cfg.UploadParallelism,
		"download_parallelism", cfg.DownloadParallelism,
		logger.KeyQueueDepth, cfg.QueueDepth,
		"primary", c.primary.Type(),
		"prefer_secondary", cfg.PreferSecondary && c.secondary != nil)

	return c, nil
}

// Locations exposes the location cache.
func (c *Client) Locations() *location.Cache {
	return c.locations
}

// UploadMapOutput queues the upload of a local map output. The returned
// Future resolves once the data (and index, if any) are stored remotely and
// the location is cached.
func (c *Client) UploadMapOutput(ctx context.Context, mo shuffle.MapOutput) (*Future[*UploadResult], error) {
	id := mo.ID()
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if mo.DataPath == "" {
		return nil, fmt.Errorf("%w: %s has no data path", shuffle.ErrInvalidBlockID, id)
	}

	t := newTask(ctx, KindUpload, id, func(ctx context.Context, t *Task) (any, error) {
		return c.upload(ctx, t, mo)
	})
	f := newFuture[*UploadResult](t)
	if err := c.admit(ctx, c.uploads, t); err != nil {
		return nil, err
	}
	return f, nil
}

// DownloadBlock queues the download of a block. The result is held in memory
// up to the configured limit and spilled to a local file beyond it; the
// caller must Close it.
func (c *Client) DownloadBlock(ctx context.Context, id shuffle.BlockID) (*Future[*DownloadResult], error) {
	return c.DownloadBlockTo(ctx, id, nil)
}

// DownloadBlockTo queues the download of a block streamed into w. w is
// written from a worker goroutine and must not be used until the Future
// resolves; no write reaches it afterwards, even when the task timed out
// or was cancelled. A nil w behaves like DownloadBlock.
func (c *Client) DownloadBlockTo(ctx context.Context, id shuffle.BlockID, w io.Writer) (*Future[*DownloadResult], error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	t := newTask(ctx, KindDownload, id, func(ctx context.Context, t *Task) (any, error) {
		return c.download(ctx, t, w)
	})
	f := newFuture[*DownloadResult](t)
	if err := c.admit(ctx, c.downloads, t); err != nil {
		return nil, err
	}
	return f, nil
}

func (c *Client) admit(ctx context.Context, l *lane, t *Task) error {
	if c.closed.Load() {
		return shuffle.ErrClosed
	}
	if err := c.acquire(t.Kind, t.Block); err != nil {
		return err
	}
	if err := l.submit(ctx, t); err != nil {
		c.release(t.Kind, t.Block)
		return err
	}
	return nil
}

func (c *Client) acquire(kind Kind, id shuffle.BlockID) error {
	key := inflightKey{kind: kind, id: id}

	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	if _, dup := c.inflight[key]; dup {
		return fmt.Errorf("%w: %s %s", shuffle.ErrDuplicateTransfer, kind, id)
	}
	c.inflight[key] = struct{}{}
	return nil
}

func (c *Client) release(kind Kind, id shuffle.BlockID) {
	c.inflightMu.Lock()
	delete(c.inflight, inflightKey{kind: kind, id: id})
	c.inflightMu.Unlock()
}

// Stats returns the current lane occupancy.
func (c *Client) Stats() Stats {
	var s Stats
	s.UploadsQueued, s.UploadsActive = c.uploads.counts()
	s.DownloadsQueued, s.DownloadsActive = c.downloads.counts()
	return s
}

// RemoveShuffle deletes every remote object of a shuffle and drops its
// cached locations and indexes.
func (c *Client) RemoveShuffle(ctx context.Context, shuffleID int32) error {
	for _, loc := range c.locations.InvalidateShuffle(shuffleID) {
		if loc.HasIndex() {
			c.indexes.Invalidate(loc)
		}
	}

	prefix := shuffle.ShufflePrefix(c.cfg.AppName, shuffleID)
	if err := c.primary.DeleteByPrefix(ctx, prefix); err != nil {
		return fmt.Errorf("remove shuffle %d: %w", shuffleID, Classify(err))
	}
	logger.InfoCtx(ctx, "Shuffle removed", logger.KeyShuffleID, shuffleID, logger.KeyKey, prefix)
	return nil
}

// Close stops admission and waits for queued and running transfers. When
// ctx ends first, remaining transfers fail with shuffle.ErrClosed. The
// stores are not closed; the index cache is.
func (c *Client) Close(ctx context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}

	var wg sync.WaitGroup
	var upErr, downErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		upErr = c.uploads.close(ctx)
	}()
	go func() {
		defer wg.Done()
		downErr = c.downloads.close(ctx)
	}()
	wg.Wait()

	err := errors.Join(upErr, downErr, c.indexes.Close())
	logger.Info("Transfer client closed", logger.Err(err))
	return err
}

// uploadEvents maps lane transitions onto upload sink events.
type uploadEvents struct{ c *Client }

func (e uploadEvents) requested(t *Task, n int) {
	e.c.sink.UploadRequested(t.Block, n)
}

func (e uploadEvents) submitted(t *Task, queueLatency time.Duration) {
	e.c.sink.UploadSubmitted(t.Block, queueLatency)
}

func (e uploadEvents) started(t *Task) {
	e.c.sink.UploadStarted(t.Block)
}

func (e uploadEvents) completed(t *Task, val any, n int) {
	res := val.(*UploadResult)
	res.Duration = t.finishedAt.Sub(t.startedAt)
	res.Latency = t.finishedAt.Sub(t.SubmittedAt)
	e.c.sink.UploadCompleted(t.Block, res.Duration, res.BytesUploaded, res.Latency, n)
}

func (e uploadEvents) failed(t *Task, err error, n int) {
	e.c.sink.UploadFailed(t.Block, err, n)
}

func (e uploadEvents) released(t *Task) {
	e.c.release(KindUpload, t.Block)
}

// downloadEvents maps lane transitions onto download sink events.
type downloadEvents struct{ c *Client }

func (downloadEvents) requested(*Task, int) {}

func (downloadEvents) submitted(*Task, time.Duration) {}

func (e downloadEvents) started(t *Task) {
	e.c.sink.DownloadStarted(t.Block)
}

func (e downloadEvents) completed(t *Task, val any, _ int) {
	res := val.(*DownloadResult)
	res.Duration = t.finishedAt.Sub(t.startedAt)
	e.c.sink.DownloadCompleted(t.Block, res.Duration, res.Size)
}

func (e downloadEvents) failed(t *Task, err error, _ int) {
	e.c.sink.DownloadFailed(t.Block, t.elapsed(t.finishedAt), err)
}

func (e downloadEvents) released(t *Task) {
	e.c.release(KindDownload, t.Block)
}
