// Package prometheus exports transfer lifecycle events and cache statistics
// as Prometheus collectors.
package prometheus

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittoshuffle/pkg/metrics"
	"github.com/marmos91/dittoshuffle/pkg/shuffle"
)

const namespace = "dittoshuffle"

// Millisecond buckets shared by the duration histograms: from small index
// objects up to multi-gigabyte map outputs.
var durationBuckets = []float64{5, 10, 50, 100, 500, 1000, 5000, 10000, 30000, 120000}

// Sink is the Prometheus implementation of metrics.Sink.
type Sink struct {
	downloads        *prometheus.CounterVec
	downloadDuration prometheus.Histogram
	downloadBytes    prometheus.Counter

	uploads          *prometheus.CounterVec
	uploadQueueTime  prometheus.Histogram
	uploadDuration   prometheus.Histogram
	uploadLatency    prometheus.Histogram
	uploadBytes      prometheus.Counter
	uploadsInFlight  prometheus.Gauge
	uploadsRunning   prometheus.Gauge
	uploadErrorKinds *prometheus.CounterVec

	mu      sync.Mutex
	running map[shuffle.BlockID]struct{}
}

// NewSink registers the lifecycle collectors on reg.
func NewSink(reg prometheus.Registerer) *Sink {
	f := promauto.With(reg)
	return &Sink{
		running: make(map[shuffle.BlockID]struct{}),
		downloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Download lifecycle events by event (started, completed, failed)",
		}, []string{"event"}),
		downloadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_milliseconds",
			Help:      "Wall-clock duration of successful block downloads",
			Buckets:   durationBuckets,
		}),
		downloadBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Bytes downloaded from remote storage",
		}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload lifecycle events by event (requested, submitted, started, completed, failed)",
		}, []string{"event"}),
		uploadQueueTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_queue_latency_milliseconds",
			Help:      "Time between an upload being requested and a worker picking it up",
			Buckets:   durationBuckets,
		}),
		uploadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_milliseconds",
			Help:      "Transfer time of successful uploads",
			Buckets:   durationBuckets,
		}),
		uploadLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_latency_milliseconds",
			Help:      "End-to-end time from request to completion of successful uploads",
			Buckets:   durationBuckets,
		}),
		uploadBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes uploaded to remote storage",
		}),
		uploadsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uploads_running_or_pending",
			Help:      "Upload tasks that have not reached a terminal state",
		}),
		uploadsRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uploads_running",
			Help:      "Upload tasks currently transferring",
		}),
		uploadErrorKinds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_failures_total",
			Help:      "Failed uploads by error class",
		}, []string{"class"}),
	}
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000.0 }

func (s *Sink) DownloadStarted(shuffle.BlockID) {
	s.downloads.WithLabelValues("started").Inc()
}

func (s *Sink) DownloadCompleted(_ shuffle.BlockID, d time.Duration, bytes int64) {
	s.downloads.WithLabelValues("completed").Inc()
	s.downloadDuration.Observe(ms(d))
	s.downloadBytes.Add(float64(bytes))
}

func (s *Sink) DownloadFailed(shuffle.BlockID, time.Duration, error) {
	s.downloads.WithLabelValues("failed").Inc()
}

func (s *Sink) UploadRequested(_ shuffle.BlockID, n int) {
	s.uploads.WithLabelValues("requested").Inc()
	s.uploadsInFlight.Set(float64(n))
}

func (s *Sink) UploadSubmitted(_ shuffle.BlockID, latency time.Duration) {
	s.uploads.WithLabelValues("submitted").Inc()
	s.uploadQueueTime.Observe(ms(latency))
}

func (s *Sink) UploadStarted(id shuffle.BlockID) {
	s.uploads.WithLabelValues("started").Inc()
	s.mu.Lock()
	s.running[id] = struct{}{}
	s.mu.Unlock()
	s.uploadsRunning.Inc()
}

// finish decrements the running gauge for tasks that reached UploadStarted.
// Tasks cancelled in the queue never did.
func (s *Sink) finish(id shuffle.BlockID) {
	s.mu.Lock()
	_, ok := s.running[id]
	delete(s.running, id)
	s.mu.Unlock()
	if ok {
		s.uploadsRunning.Dec()
	}
}

func (s *Sink) UploadFailed(id shuffle.BlockID, err error, n int) {
	s.uploads.WithLabelValues("failed").Inc()
	s.uploadErrorKinds.WithLabelValues(errorClass(err)).Inc()
	s.uploadsInFlight.Set(float64(n))
	s.finish(id)
}

func (s *Sink) UploadCompleted(id shuffle.BlockID, d time.Duration, bytes int64, latency time.Duration, n int) {
	s.uploads.WithLabelValues("completed").Inc()
	s.uploadDuration.Observe(ms(d))
	s.uploadLatency.Observe(ms(latency))
	s.uploadBytes.Add(float64(bytes))
	s.uploadsInFlight.Set(float64(n))
	s.finish(id)
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, shuffle.ErrCancelled):
		return "cancelled"
	case errors.Is(err, shuffle.ErrTimeout):
		return "timeout"
	case errors.Is(err, shuffle.ErrTransientTransport):
		return "transient"
	case errors.Is(err, shuffle.ErrConfiguration):
		return "configuration"
	case errors.Is(err, shuffle.ErrBlockNotFound):
		return "not_found"
	default:
		return "other"
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

var _ metrics.Sink = (*Sink)(nil)
