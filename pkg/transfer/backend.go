package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/dittoshuffle/internal/logger"
	"github.com/marmos91/dittoshuffle/internal/telemetry"
	"github.com/marmos91/dittoshuffle/pkg/shuffle"
	"github.com/marmos91/dittoshuffle/pkg/store"
)

// readOrder lists the stores to read from, preferred first.
func (c *Client) readOrder() []store.Store {
	switch {
	case c.secondary == nil:
		return []store.Store{c.primary}
	case c.cfg.PreferSecondary:
		return []store.Store{c.secondary, c.primary}
	default:
		return []store.Store{c.primary, c.secondary}
	}
}

// shouldFallback reports whether a read failing with err may be served by
// the next store.
func shouldFallback(err error) bool {
	return store.IsNotFound(err) || errors.Is(err, store.ErrTransient)
}

// openObject opens key on the first store that serves it.
func (c *Client) openObject(ctx context.Context, key string, rng *store.Range) (io.ReadCloser, store.Store, error) {
	order := c.readOrder()
	var lastErr error
	for i, s := range order {
		sctx, span := telemetry.StartStoreSpan(ctx, telemetry.SpanStoreGet, s.Type(), key)
		if rng != nil {
			span.SetAttributes(telemetry.StorageRange(rng.String()))
		}
		rc, err := s.GetObject(sctx, key, rng)
		if err != nil {
			telemetry.RecordError(sctx, err)
		}
		span.End()
		if err == nil {
			return rc, s, nil
		}

		lastErr = err
		if !shouldFallback(err) || i == len(order)-1 {
			return nil, s, err
		}
		logger.DebugCtx(ctx, "Read falling back to next store",
			logger.Backend(s.Type()), logger.Key(key), logger.Err(err))
	}
	return nil, nil, lastErr
}

// resolveLocation looks a map output up remotely. It is the resolver of the
// location cache and is called with the map-output identity.
func (c *Client) resolveLocation(ctx context.Context, id shuffle.BlockID) (shuffle.BlockLocation, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanResolve)
	defer span.End()
	span.SetAttributes(telemetry.BlockAttrs(id.ShuffleID, id.MapID, id.ReduceID, id.AttemptID)...)

	dataKey := shuffle.DataKey(c.cfg.AppName, id)
	indexKey := shuffle.IndexKey(c.cfg.AppName, id)

	order := c.readOrder()
	var lastErr error
	for _, s := range order {
		info, err := s.StatObject(ctx, dataKey)
		if err != nil {
			lastErr = err
			if shouldFallback(err) {
				continue
			}
			telemetry.RecordError(ctx, err)
			return shuffle.BlockLocation{}, shuffle.NewTransferError("resolve", id, s.Type(), Classify(err))
		}

		loc := shuffle.BlockLocation{ID: id, DataKey: dataKey, Size: info.Size}
		switch _, err := s.StatObject(ctx, indexKey); {
		case err == nil:
			loc.IndexKey = indexKey
		case !store.IsNotFound(err):
			telemetry.RecordError(ctx, err)
			return shuffle.BlockLocation{}, shuffle.NewTransferError("resolve", id, s.Type(), Classify(err))
		}

		logger.DebugCtx(ctx, "Resolved block location",
			logger.Backend(s.Type()), logger.Key(dataKey), logger.KeyBytes, info.Size)
		return loc, nil
	}

	if store.IsNotFound(lastErr) {
		return shuffle.BlockLocation{}, fmt.Errorf("%w: %s", shuffle.ErrBlockNotFound, id)
	}
	telemetry.RecordError(ctx, lastErr)
	return shuffle.BlockLocation{}, shuffle.NewTransferError("resolve", id, "", Classify(lastErr))
}

// fetchIndex reads the raw index object of a map output.
func (c *Client) fetchIndex(ctx context.Context, loc shuffle.BlockLocation) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanIndexLookup)
	defer span.End()

	rc, s, err := c.openObject(ctx, loc.IndexKey, nil)
	if err != nil {
		backend := ""
		if s != nil {
			backend = s.Type()
		}
		return nil, shuffle.NewTransferError("index", loc.ID, backend, Classify(err))
	}
	defer func() { _ = rc.Close() }()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, shuffle.NewTransferError("index", loc.ID, s.Type(), Classify(err))
	}
	return raw, nil
}
