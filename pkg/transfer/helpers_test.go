package transfer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittoshuffle/pkg/metrics/metricstest"
	"github.com/marmos91/dittoshuffle/pkg/shuffle"
	"github.com/marmos91/dittoshuffle/pkg/store"
	"github.com/marmos91/dittoshuffle/pkg/store/memory"
)

// faultStore wraps a store with call counters, a gate that holds PutObject
// calls and error injection.
type faultStore struct {
	store.Store

	puts       atomic.Int32
	stats      atomic.Int32
	gets       atomic.Int32
	indexGets  atomic.Int32
	running    atomic.Int32
	maxRunning atomic.Int32

	mu sync.Mutex
	// gate, when set, holds PutObject until it is closed or ctx ends.
	gate chan struct{}
	// hold, when set, holds the n-th PutObject until release is closed,
	// ignoring ctx.
	hold    func(n int) bool
	release chan struct{}
	// failPut injects an error into the n-th PutObject (1-based).
	failPut func(n int, key string) error
	// readDelay, when set, makes data object readers return one byte per
	// delay, ignoring ctx.
	readDelay time.Duration
}

func newFaultStore() *faultStore {
	return &faultStore{Store: memory.New()}
}

func (s *faultStore) closeGate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

func (s *faultStore) setReadDelay(d time.Duration) {
	s.mu.Lock()
	s.readDelay = d
	s.mu.Unlock()
}

func (s *faultStore) setGate() {
	s.mu.Lock()
	s.gate = make(chan struct{})
	s.mu.Unlock()
}

func (s *faultStore) PutObject(ctx context.Context, key string, r io.Reader, size int64) error {
	n := int(s.puts.Add(1))

	cur := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		m := s.maxRunning.Load()
		if cur <= m || s.maxRunning.CompareAndSwap(m, cur) {
			break
		}
	}

	s.mu.Lock()
	gate, hold, release, failPut := s.gate, s.hold, s.release, s.failPut
	s.mu.Unlock()

	if hold != nil && hold(n) {
		<-release
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failPut != nil {
		if err := failPut(n, key); err != nil {
			return err
		}
	}
	return s.Store.PutObject(ctx, key, r, size)
}

func (s *faultStore) GetObject(ctx context.Context, key string, rng *store.Range) (io.ReadCloser, error) {
	s.gets.Add(1)
	if strings.HasSuffix(key, ".index") {
		s.indexGets.Add(1)
	}
	rc, err := s.Store.GetObject(ctx, key, rng)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	delay := s.readDelay
	s.mu.Unlock()
	if delay > 0 && strings.HasSuffix(key, ".data") {
		return &slowReader{rc: rc, delay: delay}, nil
	}
	return rc, nil
}

// slowReader trickles its content one byte at a time.
type slowReader struct {
	rc    io.ReadCloser
	delay time.Duration
}

func (r *slowReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	time.Sleep(r.delay)
	return r.rc.Read(p[:1])
}

func (r *slowReader) Close() error {
	return r.rc.Close()
}

func (s *faultStore) StatObject(ctx context.Context, key string) (store.ObjectInfo, error) {
	s.stats.Add(1)
	return s.Store.StatObject(ctx, key)
}

func mapOutputID(m int32) shuffle.BlockID {
	return shuffle.BlockID{ShuffleID: 1, MapID: m, ReduceID: shuffle.NoReduceID}
}

func payload(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

// writeMapOutput materializes a map output. With lengths set, an index file
// with those partition lengths is written next to the data.
func writeMapOutput(t *testing.T, dir string, id shuffle.BlockID, data []byte, lengths []int64) shuffle.MapOutput {
	t.Helper()
	mo := shuffle.MapOutput{ShuffleID: id.ShuffleID, MapID: id.MapID, AttemptID: id.AttemptID}
	mo.DataPath = filepath.Join(dir, shuffle.LocalFileName(id, ".data"))
	require.NoError(t, os.WriteFile(mo.DataPath, data, 0o644))
	if lengths != nil {
		mo.IndexPath = filepath.Join(dir, shuffle.LocalFileName(id, ".index"))
		require.NoError(t, os.WriteFile(mo.IndexPath, shuffle.IndexFromLengths(lengths).Encode(), 0o644))
	}
	return mo
}

func newTestClient(t *testing.T, cfg Config, opts Options) *Client {
	t.Helper()
	if cfg.AppName == "" {
		cfg.AppName = "app-test"
	}
	if cfg.LocalDir == "" {
		cfg.LocalDir = t.TempDir()
	}
	c, err := New(cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

// assertExactCounts replays the upload events in emission order and checks
// that every reported count equals the number of live tasks.
func assertExactCounts(t *testing.T, rec *metricstest.Recorder) {
	t.Helper()
	live := 0
	for _, e := range rec.Events() {
		switch e.Type {
		case metricstest.UploadRequested:
			live++
			require.Equal(t, live, e.NumRunningOrPending, "requested %s", e.ID)
		case metricstest.UploadCompleted, metricstest.UploadFailed:
			live--
			require.Equal(t, live, e.NumRunningOrPending, "%s %s", e.Type, e.ID)
		}
	}
	require.Zero(t, live)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 5*time.Millisecond)
}
