package prometheus

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/marmos91/dittoshuffle/pkg/shuffle"
)

func TestSinkUploadLifecycle(t *testing.T) {
	s := NewSink(prometheus.NewRegistry())
	a := shuffle.BlockID{ShuffleID: 1, MapID: 1, ReduceID: shuffle.NoReduceID}
	b := shuffle.BlockID{ShuffleID: 1, MapID: 2, ReduceID: shuffle.NoReduceID}
	c := shuffle.BlockID{ShuffleID: 1, MapID: 3, ReduceID: shuffle.NoReduceID}

	s.UploadRequested(a, 1)
	s.UploadRequested(b, 2)
	s.UploadRequested(c, 3)
	s.UploadSubmitted(a, 5*time.Millisecond)
	s.UploadStarted(a)
	s.UploadSubmitted(b, 6*time.Millisecond)
	s.UploadStarted(b)
	assert.Equal(t, 2.0, testutil.ToFloat64(s.uploadsRunning))

	s.UploadCompleted(a, time.Second, 100, 2*time.Second, 2)
	s.UploadFailed(b, fmt.Errorf("put: %w", shuffle.ErrTransientTransport), 1)
	s.UploadFailed(c, shuffle.ErrCancelled, 0)

	assert.Equal(t, 3.0, testutil.ToFloat64(s.uploads.WithLabelValues("requested")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.uploads.WithLabelValues("completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.uploads.WithLabelValues("failed")))
	assert.Equal(t, 100.0, testutil.ToFloat64(s.uploadBytes))
	assert.Equal(t, 0.0, testutil.ToFloat64(s.uploadsInFlight))
	assert.Equal(t, 0.0, testutil.ToFloat64(s.uploadsRunning), "queued cancellation must not underflow")
	assert.Equal(t, 1.0, testutil.ToFloat64(s.uploadErrorKinds.WithLabelValues("transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.uploadErrorKinds.WithLabelValues("cancelled")))
}

func TestSinkDownloads(t *testing.T) {
	s := NewSink(prometheus.NewRegistry())
	id := shuffle.BlockID{ShuffleID: 1, MapID: 1, ReduceID: 0}

	s.DownloadStarted(id)
	s.DownloadCompleted(id, 10*time.Millisecond, 42)
	s.DownloadStarted(id)
	s.DownloadFailed(id, time.Millisecond, errors.New("x"))

	assert.Equal(t, 2.0, testutil.ToFloat64(s.downloads.WithLabelValues("started")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.downloads.WithLabelValues("failed")))
	assert.Equal(t, 42.0, testutil.ToFloat64(s.downloadBytes))
}

func TestCacheMetrics(t *testing.T) {
	assert.Nil(t, NewCacheMetrics(nil))
	var nilMetrics *CacheMetrics
	nilMetrics.RecordHit("location")

	m := NewCacheMetrics(prometheus.NewRegistry())
	m.RecordHit("location")
	m.RecordMiss("location")
	m.RecordResolution("location", nil)
	m.RecordResolution("location", errors.New("x"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.hits.WithLabelValues("location")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutions.WithLabelValues("location", "error")))
}
