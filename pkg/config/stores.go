package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittoshuffle/internal/logger"
	"github.com/marmos91/dittoshuffle/pkg/metrics"
	"github.com/marmos91/dittoshuffle/pkg/shuffle"
	"github.com/marmos91/dittoshuffle/pkg/store"
	"github.com/marmos91/dittoshuffle/pkg/store/fs"
	"github.com/marmos91/dittoshuffle/pkg/store/memory"
	"github.com/marmos91/dittoshuffle/pkg/store/s3"
	"github.com/marmos91/dittoshuffle/pkg/transfer"
	"github.com/marmos91/dittoshuffle/pkg/transfer/index"
)

// Engine is a transfer client together with the stores it owns.
type Engine struct {
	Client    *transfer.Client
	Primary   store.Store
	Secondary store.Store
}

// Close drains the client, then closes the stores.
func (e *Engine) Close(ctx context.Context) error {
	err := e.Client.Close(ctx)
	err = errors.Join(err, e.Primary.Close())
	if e.Secondary != nil {
		err = errors.Join(err, e.Secondary.Close())
	}
	return err
}

// CreateStore creates the primary store for s.
func CreateStore(ctx context.Context, s Settings) (store.Store, error) {
	switch s.Backend {
	case BackendS3:
		return s3.NewFromConfig(ctx, s.S3)
	case BackendFS:
		return createFSStore(s.BasePath, s.LocalFileBufferSize)
	case BackendMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", shuffle.ErrConfiguration, s.Backend)
	}
}

// CreateSecondaryStore creates the mounted-filesystem view of the primary
// store, or returns nil when none is configured.
func CreateSecondaryStore(s Settings) (store.Store, error) {
	if s.SecondaryPath == "" {
		return nil, nil
	}
	return createFSStore(s.SecondaryPath, s.LocalFileBufferSize)
}

func createFSStore(path string, bufferSize int) (store.Store, error) {
	cfg := fs.DefaultConfig(path)
	if bufferSize > 0 {
		cfg.BufferSize = bufferSize
	}
	st, err := fs.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create fs store at %s: %w", path, err)
	}
	return st, nil
}

// CreateEngine builds the stores, the index cache and the transfer client
// for s. On error everything created so far is closed.
func CreateEngine(ctx context.Context, s Settings, sink metrics.Sink, recorder metrics.CacheRecorder) (*Engine, error) {
	primary, err := CreateStore(ctx, s)
	if err != nil {
		return nil, err
	}

	secondary, err := CreateSecondaryStore(s)
	if err != nil {
		_ = primary.Close()
		return nil, err
	}

	closeStores := func() {
		_ = primary.Close()
		if secondary != nil {
			_ = secondary.Close()
		}
	}

	indexes, err := index.Open(s.IndexCache, recorder)
	if err != nil {
		closeStores()
		return nil, err
	}

	client, err := transfer.New(s.Transfer, transfer.Options{
		Primary:       primary,
		Secondary:     secondary,
		Sink:          sink,
		LocationCache: s.LocationCache,
		Indexes:       indexes,
		CacheRecorder: recorder,
	})
	if err != nil {
		_ = indexes.Close()
		closeStores()
		return nil, err
	}

	logger.Debug("Shuffle engine created",
		logger.KeyAppName, s.AppName,
		logger.KeyBackend, string(s.Backend),
		"secondary", secondary != nil,
		"index_cache", s.IndexCache.Enabled)

	return &Engine{Client: client, Primary: primary, Secondary: secondary}, nil
}
