package metrics_test

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittoshuffle/internal/logger"
	"github.com/marmos91/dittoshuffle/pkg/metrics"
	"github.com/marmos91/dittoshuffle/pkg/metrics/metricstest"
	"github.com/marmos91/dittoshuffle/pkg/shuffle"
)

var id = shuffle.BlockID{ShuffleID: 1, MapID: 2, ReduceID: shuffle.NoReduceID, AttemptID: 0}

func TestMultiFansOut(t *testing.T) {
	a, b := metricstest.NewRecorder(), metricstest.NewRecorder()
	sink := metrics.NewMulti(a, nil, b)

	sink.UploadRequested(id, 1)
	sink.UploadSubmitted(id, time.Millisecond)
	sink.UploadStarted(id)
	sink.UploadCompleted(id, 2*time.Millisecond, 100, 3*time.Millisecond, 0)

	want := []metricstest.EventType{
		metricstest.UploadRequested,
		metricstest.UploadSubmitted,
		metricstest.UploadStarted,
		metricstest.UploadCompleted,
	}
	assert.Equal(t, want, a.Sequence(id))
	assert.Equal(t, want, b.Sequence(id))
	assert.Equal(t, int64(100), b.ByType(metricstest.UploadCompleted)[0].Bytes)
}

func TestNewMultiCollapses(t *testing.T) {
	assert.IsType(t, metrics.Noop{}, metrics.NewMulti())
	assert.IsType(t, metrics.Noop{}, metrics.NewMulti(nil))

	r := metricstest.NewRecorder()
	assert.Same(t, r, metrics.NewMulti(r))
	assert.IsType(t, metrics.Noop{}, metrics.OrNoop(nil))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, "INFO", "text", false)
	t.Cleanup(func() { logger.InitWithWriter(&bytes.Buffer{}, "INFO", "text", false) })

	sink := metrics.NewLogSink("etl")
	sink.UploadCompleted(id, 1500*time.Millisecond, 100, 2*time.Second, 3)
	sink.DownloadStarted(shuffle.BlockID{ShuffleID: 1, MapID: 2, ReduceID: 7})
	sink.UploadFailed(id, errors.New("boom"), 0)

	out := buf.String()
	assert.Contains(t, out, "app_name=etl")
	assert.Contains(t, out, "duration_ms=1500")
	assert.Contains(t, out, "bytes_uploaded=100")
	assert.Contains(t, out, "latency_ms=2000")
	assert.Contains(t, out, "num_running_or_pending=3")
	assert.Contains(t, out, "reduce_id=7")
	assert.Contains(t, out, "error=boom")
}

func TestRecorderWaitFor(t *testing.T) {
	r := metricstest.NewRecorder()
	go func() {
		time.Sleep(10 * time.Millisecond)
		r.DownloadStarted(id)
	}()
	assert.True(t, r.WaitFor(metricstest.DownloadStarted, 1, time.Second))
	assert.False(t, r.WaitFor(metricstest.DownloadCompleted, 1, 20*time.Millisecond))
}

func TestRegistryHandler(t *testing.T) {
	reg := metrics.InitRegistry()
	require.NotNil(t, reg)
	assert.True(t, metrics.IsEnabled())
	assert.Same(t, reg, metrics.GetRegistry())

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
