// Package metrics defines the lifecycle event sink of the transfer engine and
// its generic implementations.
//
// The engine calls a Sink synchronously at every transition of a transfer
// task. Implementations must return quickly: a slow sink delays the worker
// that emits the event.
package metrics

import (
	"time"

	"github.com/marmos91/dittoshuffle/pkg/shuffle"
)

// Sink receives lifecycle events.
//
// Upload events arrive in the order Requested, Submitted, Started and then
// exactly one of Completed or Failed. A task cancelled while queued emits
// Requested and Failed only. numRunningOrPending is the number of
// non-terminal upload tasks at the moment of the call; terminal events report
// the count after the task has been removed.
//
// Download events arrive as Started followed by exactly one of Completed or
// Failed; a download cancelled while queued emits only Failed.
type Sink interface {
	DownloadStarted(id shuffle.BlockID)
	DownloadCompleted(id shuffle.BlockID, duration time.Duration, bytes int64)
	DownloadFailed(id shuffle.BlockID, duration time.Duration, err error)

	UploadRequested(id shuffle.BlockID, numRunningOrPending int)
	UploadSubmitted(id shuffle.BlockID, queueLatency time.Duration)
	UploadStarted(id shuffle.BlockID)
	UploadFailed(id shuffle.BlockID, err error, numRunningOrPending int)
	UploadCompleted(id shuffle.BlockID, duration time.Duration, bytesUploaded int64, latency time.Duration, numRunningOrPending int)
}

// Noop discards every event.
type Noop struct{}

func (Noop) DownloadStarted(shuffle.BlockID)                                           {}
func (Noop) DownloadCompleted(shuffle.BlockID, time.Duration, int64)                   {}
func (Noop) DownloadFailed(shuffle.BlockID, time.Duration, error)                      {}
func (Noop) UploadRequested(shuffle.BlockID, int)                                      {}
func (Noop) UploadSubmitted(shuffle.BlockID, time.Duration)                            {}
func (Noop) UploadStarted(shuffle.BlockID)                                             {}
func (Noop) UploadFailed(shuffle.BlockID, error, int)                                  {}
func (Noop) UploadCompleted(shuffle.BlockID, time.Duration, int64, time.Duration, int) {}

// OrNoop returns s, or Noop when s is nil.
func OrNoop(s Sink) Sink {
	if s == nil {
		return Noop{}
	}
	return s
}

// Multi fans every event out to several sinks in order.
type Multi []Sink

// NewMulti drops nil sinks. A single remaining sink is returned unwrapped.
func NewMulti(sinks ...Sink) Sink {
	var m Multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	switch len(m) {
	case 0:
		return Noop{}
	case 1:
		return m[0]
	}
	return m
}

func (m Multi) DownloadStarted(id shuffle.BlockID) {
	for _, s := range m {
		s.DownloadStarted(id)
	}
}

func (m Multi) DownloadCompleted(id shuffle.BlockID, d time.Duration, bytes int64) {
	for _, s := range m {
		s.DownloadCompleted(id, d, bytes)
	}
}

func (m Multi) DownloadFailed(id shuffle.BlockID, d time.Duration, err error) {
	for _, s := range m {
		s.DownloadFailed(id, d, err)
	}
}

func (m Multi) UploadRequested(id shuffle.BlockID, n int) {
	for _, s := range m {
		s.UploadRequested(id, n)
	}
}

func (m Multi) UploadSubmitted(id shuffle.BlockID, latency time.Duration) {
	for _, s := range m {
		s.UploadSubmitted(id, latency)
	}
}

func (m Multi) UploadStarted(id shuffle.BlockID) {
	for _, s := range m {
		s.UploadStarted(id)
	}
}

func (m Multi) UploadFailed(id shuffle.BlockID, err error, n int) {
	for _, s := range m {
		s.UploadFailed(id, err, n)
	}
}

func (m Multi) UploadCompleted(id shuffle.BlockID, d time.Duration, bytes int64, latency time.Duration, n int) {
	for _, s := range m {
		s.UploadCompleted(id, d, bytes, latency, n)
	}
}
