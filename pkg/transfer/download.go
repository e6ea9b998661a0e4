package transfer

import (
	"context"
	"fmt"
	"io"

	"github.com/marmos91/dittoshuffle/internal/logger"
	"github.com/marmos91/dittoshuffle/internal/telemetry"
	"github.com/marmos91/dittoshuffle/pkg/shuffle"
	"github.com/marmos91/dittoshuffle/pkg/store"
)

// download fetches one block. Reduce blocks of an indexed map output are
// read as a byte range; whole map outputs and unindexed ones are read in
// full. The content goes to w, or to a spool when w is nil.
func (c *Client) download(ctx context.Context, t *Task, w io.Writer) (*DownloadResult, error) {
	id := t.Block
	ctx, span := telemetry.StartTransferSpan(ctx, telemetry.SpanDownload, t.ID,
		id.ShuffleID, id.MapID, id.ReduceID, id.AttemptID, telemetry.AppName(c.cfg.AppName))
	defer span.End()

	loc, err := c.locations.Resolve(ctx, id)
	if err != nil {
		return nil, fail(ctx, "download", id, "", err)
	}

	rng, err := c.blockRange(ctx, loc, id)
	if err != nil {
		return nil, fail(ctx, "download", id, "", err)
	}
	expected := loc.Size
	if rng != nil {
		expected = rng.Length
	}

	rc, s, err := c.openObject(ctx, loc.DataKey, rng)
	if err != nil {
		if store.IsNotFound(err) {
			// The cached location is stale.
			c.locations.Invalidate(id)
		}
		backend := ""
		if s != nil {
			backend = s.Type()
		}
		return nil, fail(ctx, "download", id, backend, err)
	}
	defer func() { _ = rc.Close() }()

	res := &DownloadResult{ID: id, Backend: s.Type()}

	bufp := c.bufPool.Get().(*[]byte)
	defer c.bufPool.Put(bufp)

	var n int64
	if w != nil {
		n, err = io.CopyBuffer(t.sink(ctx, w), rc, *bufp)
	} else {
		sp := newSpool(c.cfg.LocalDir, c.cfg.DownloadInMemoryMaxSize, id)
		n, err = io.CopyBuffer(t.sink(ctx, sp), rc, *bufp)
		if err == nil && ctx.Err() != nil {
			err = context.Cause(ctx)
		}
		if err == nil && n == expected {
			span.SetAttributes(telemetry.Spilled(sp.spilled()))
			res.data, res.path, err = sp.finish()
		} else {
			sp.discard()
		}
	}
	if err != nil {
		return nil, fail(ctx, "download", id, s.Type(), err)
	}
	if n != expected {
		return nil, fail(ctx, "download", id, s.Type(),
			fmt.Errorf("%w: short read, got %d of %d bytes", shuffle.ErrTransientTransport, n, expected))
	}
	res.Size = n

	span.SetAttributes(telemetry.Bytes(n))
	logger.DebugCtx(ctx, "Block downloaded",
		logger.ShuffleID(id.ShuffleID), logger.MapID(id.MapID), logger.ReduceID(id.ReduceID),
		logger.AttemptID(id.AttemptID), logger.KeyBytes, n, logger.Backend(s.Type()),
		logger.KeySpilled, !res.InMemory())
	return res, nil
}

// blockRange returns the byte range of a reduce block, or nil to read the
// whole data object.
func (c *Client) blockRange(ctx context.Context, loc shuffle.BlockLocation, id shuffle.BlockID) (*store.Range, error) {
	if id.IsMapOutput() || !loc.HasIndex() {
		return nil, nil
	}
	idx, err := c.indexes.Lookup(ctx, loc, c.fetchIndex)
	if err != nil {
		return nil, err
	}
	off, length, err := idx.BlockRange(id.ReduceID)
	if err != nil {
		return nil, err
	}
	if off+length > loc.Size {
		c.indexes.Invalidate(loc)
		return nil, fmt.Errorf("%w: block %s ends at %d past data size %d", shuffle.ErrInvalidIndex, id, off+length, loc.Size)
	}
	return &store.Range{Offset: off, Length: length}, nil
}
