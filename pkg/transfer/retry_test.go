package transfer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittoshuffle/pkg/metrics/metricstest"
	"github.com/marmos91/dittoshuffle/pkg/shuffle"
	"github.com/marmos91/dittoshuffle/pkg/store"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxElapsedTime: 5 * time.Second, MaxRetries: 5}
}

func TestUploadWithRetryRecovers(t *testing.T) {
	ctx := context.Background()
	st := newFaultStore()
	st.failPut = func(n int, key string) error {
		if n <= 2 {
			return fmt.Errorf("%w: throttled", store.ErrTransient)
		}
		return nil
	}
	rec := metricstest.NewRecorder()
	c := newTestClient(t, Config{}, Options{Primary: st, Sink: rec})

	id := mapOutputID(1)
	res, err := UploadWithRetry(ctx, c, writeMapOutput(t, t.TempDir(), id, payload(10, 1), nil), fastRetry())
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.BytesUploaded)

	assert.Equal(t, 3, rec.Count(metricstest.UploadRequested), "every attempt is its own task")
	assert.Equal(t, 2, rec.Count(metricstest.UploadFailed))
	assert.Equal(t, 1, rec.Count(metricstest.UploadCompleted))
	assertExactCounts(t, rec)
}

func TestUploadWithRetryStopsOnFatal(t *testing.T) {
	ctx := context.Background()
	rec := metricstest.NewRecorder()
	c := newTestClient(t, Config{}, Options{Primary: newFaultStore(), Sink: rec})

	mo := shuffle.MapOutput{ShuffleID: 1, MapID: 1, DataPath: "/nonexistent/shuffle_1_1_0.data"}
	_, err := UploadWithRetry(ctx, c, mo, fastRetry())
	require.Error(t, err)
	assert.Equal(t, 1, rec.Count(metricstest.UploadRequested))
}

func TestUploadWithRetryGivesUp(t *testing.T) {
	ctx := context.Background()
	st := newFaultStore()
	st.failPut = func(int, string) error { return store.ErrTransient }
	rec := metricstest.NewRecorder()
	c := newTestClient(t, Config{}, Options{Primary: st, Sink: rec})

	p := fastRetry()
	p.MaxRetries = 2
	_, err := UploadWithRetry(ctx, c, writeMapOutput(t, t.TempDir(), mapOutputID(2), payload(4, 0), nil), p)
	assert.ErrorIs(t, err, shuffle.ErrTransientTransport)
	assert.Equal(t, 3, rec.Count(metricstest.UploadRequested))
}

func TestDownloadWithRetryNotFound(t *testing.T) {
	ctx := context.Background()
	st := newFaultStore()
	c := newTestClient(t, Config{}, Options{Primary: st})

	_, err := DownloadWithRetry(ctx, c, mapOutputID(3), fastRetry())
	assert.ErrorIs(t, err, shuffle.ErrBlockNotFound)
	assert.Equal(t, int32(1), st.stats.Load(), "missing blocks are not retried")
}
