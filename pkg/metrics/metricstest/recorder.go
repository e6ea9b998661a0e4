// Package metricstest provides an in-memory metrics.Sink for tests.
package metricstest

import (
	"sync"
	"time"

	"github.com/marmos91/dittoshuffle/pkg/metrics"
	"github.com/marmos91/dittoshuffle/pkg/shuffle"
)

// EventType names a lifecycle event.
type EventType string

const (
	DownloadStarted   EventType = "download_started"
	DownloadCompleted EventType = "download_completed"
	DownloadFailed    EventType = "download_failed"
	UploadRequested   EventType = "upload_requested"
	UploadSubmitted   EventType = "upload_submitted"
	UploadStarted     EventType = "upload_started"
	UploadFailed      EventType = "upload_failed"
	UploadCompleted   EventType = "upload_completed"
)

// Event is one recorded sink call. Fields not carried by the event type are
// left zero.
type Event struct {
	Type                EventType
	ID                  shuffle.BlockID
	NumRunningOrPending int
	Duration            time.Duration
	Latency             time.Duration
	Bytes               int64
	Err                 error
}

// Recorder stores every event in arrival order.
type Recorder struct {
	// Hook, when set, runs synchronously inside every sink call before the
	// event is stored. Tests use it to observe engine state at the instant
	// an event is emitted.
	Hook func(Event)

	mu     sync.Mutex
	cond   *sync.Cond
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	r := &Recorder{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *Recorder) record(e Event) {
	if r.Hook != nil {
		r.Hook(e)
	}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.cond.Broadcast()
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// ByType returns the recorded events of type t.
func (r *Recorder) ByType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t EventType) int {
	return len(r.ByType(t))
}

// Sequence returns the event types recorded for id, in order.
func (r *Recorder) Sequence(id shuffle.BlockID) []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventType
	for _, e := range r.events {
		if e.ID == id {
			out = append(out, e.Type)
		}
	}
	return out
}

// WaitFor blocks until at least n events of type t were recorded or timeout
// elapses. It reports whether the count was reached.
func (r *Recorder) WaitFor(t EventType, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.cond.Broadcast()
	})
	defer timer.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		c := 0
		for _, e := range r.events {
			if e.Type == t {
				c++
			}
		}
		if c >= n {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		r.cond.Wait()
	}
}

func (r *Recorder) DownloadStarted(id shuffle.BlockID) {
	r.record(Event{Type: DownloadStarted, ID: id})
}

func (r *Recorder) DownloadCompleted(id shuffle.BlockID, d time.Duration, bytes int64) {
	r.record(Event{Type: DownloadCompleted, ID: id, Duration: d, Bytes: bytes})
}

func (r *Recorder) DownloadFailed(id shuffle.BlockID, d time.Duration, err error) {
	r.record(Event{Type: DownloadFailed, ID: id, Duration: d, Err: err})
}

func (r *Recorder) UploadRequested(id shuffle.BlockID, n int) {
	r.record(Event{Type: UploadRequested, ID: id, NumRunningOrPending: n})
}

func (r *Recorder) UploadSubmitted(id shuffle.BlockID, latency time.Duration) {
	r.record(Event{Type: UploadSubmitted, ID: id, Latency: latency})
}

func (r *Recorder) UploadStarted(id shuffle.BlockID) {
	r.record(Event{Type: UploadStarted, ID: id})
}

func (r *Recorder) UploadFailed(id shuffle.BlockID, err error, n int) {
	r.record(Event{Type: UploadFailed, ID: id, Err: err, NumRunningOrPending: n})
}

func (r *Recorder) UploadCompleted(id shuffle.BlockID, d time.Duration, bytes int64, latency time.Duration, n int) {
	r.record(Event{Type: UploadCompleted, ID: id, Duration: d, Bytes: bytes, Latency: latency, NumRunningOrPending: n})
}

var _ metrics.Sink = (*Recorder)(nil)
