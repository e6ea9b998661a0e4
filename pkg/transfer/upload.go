package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/marmos91/dittoshuffle/internal/logger"
	"github.com/marmos91/dittoshuffle/internal/telemetry"
	"github.com/marmos91/dittoshuffle/pkg/shuffle"
)

// upload stores a map output's data file and optional index file on the
// primary store, then records its location. It runs on an upload worker.
func (c *Client) upload(ctx context.Context, t *Task, mo shuffle.MapOutput) (*UploadResult, error) {
	id := t.Block
	backend := c.primary.Type()

	ctx, span := telemetry.StartTransferSpan(ctx, telemetry.SpanUpload, t.ID,
		id.ShuffleID, id.MapID, id.ReduceID, id.AttemptID, telemetry.AppName(c.cfg.AppName))
	defer span.End()

	var (
		indexRaw []byte
		idx      *shuffle.Index
	)
	if mo.IndexPath != "" {
		raw, err := os.ReadFile(mo.IndexPath)
		if err != nil {
			return nil, fail(ctx, "upload", id, backend, fmt.Errorf("read index file: %w", err))
		}
		if idx, err = shuffle.ParseIndex(raw); err != nil {
			return nil, fail(ctx, "upload", id, backend, err)
		}
		indexRaw = raw
	}

	f, err := os.Open(mo.DataPath)
	if err != nil {
		return nil, fail(ctx, "upload", id, backend, fmt.Errorf("open data file: %w", err))
	}
	defer func() { _ = f.Close() }()

	size := mo.Size
	if size <= 0 {
		fi, err := f.Stat()
		if err != nil {
			return nil, fail(ctx, "upload", id, backend, fmt.Errorf("stat data file: %w", err))
		}
		size = fi.Size()
	}
	if idx != nil && idx.DataSize() != size {
		return nil, fail(ctx, "upload", id, backend,
			fmt.Errorf("%w: index covers %d bytes, data file has %d", shuffle.ErrInvalidIndex, idx.DataSize(), size))
	}

	loc := shuffle.BlockLocation{ID: id, DataKey: shuffle.DataKey(c.cfg.AppName, id), Size: size}
	if err := c.put(ctx, loc.DataKey, f, size); err != nil {
		return nil, fail(ctx, "upload", id, backend, err)
	}

	// The index goes last: a visible index implies a complete data object.
	if indexRaw != nil {
		loc.IndexKey = shuffle.IndexKey(c.cfg.AppName, id)
		if err := c.put(ctx, loc.IndexKey, bytes.NewReader(indexRaw), int64(len(indexRaw))); err != nil {
			return nil, fail(ctx, "upload", id, backend, err)
		}
	}

	loc.LastAccess = c.now()
	c.locations.Put(id, loc)
	c.indexes.Store(loc, indexRaw)

	uploaded := size + int64(len(indexRaw))
	span.SetAttributes(telemetry.Bytes(uploaded))
	logger.DebugCtx(ctx, "Map output uploaded",
		logger.ShuffleID(id.ShuffleID), logger.MapID(id.MapID), logger.AttemptID(id.AttemptID),
		logger.KeyBytesUploaded, uploaded, logger.Backend(backend))

	return &UploadResult{ID: id, Location: loc, BytesUploaded: uploaded, Backend: backend}, nil
}

func (c *Client) put(ctx context.Context, key string, r io.Reader, size int64) error {
	sctx, span := telemetry.StartStoreSpan(ctx, telemetry.SpanStorePut, c.primary.Type(), key, telemetry.Bytes(size))
	defer span.End()

	err := c.primary.PutObject(sctx, key, r, size)
	if err != nil {
		telemetry.RecordError(sctx, err)
	}
	return err
}

// fail records err on the span of ctx and wraps it with the operation
// context. Errors already carrying that context are returned unchanged.
func fail(ctx context.Context, op string, id shuffle.BlockID, backend string, err error) error {
	telemetry.RecordError(ctx, err)

	var te *shuffle.TransferError
	if errors.As(err, &te) {
		return err
	}
	return shuffle.NewTransferError(op, id, backend, Classify(err))
}
