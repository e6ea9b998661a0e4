// Package transfer is the asynchronous shuffle block transfer engine.
//
// A Client accepts upload requests for locally produced map outputs and
// download requests for remotely stored shuffle blocks. Each request becomes
// a Task that is queued on a per-direction lane and executed by a fixed pool
// of workers, so network I/O never exceeds the configured parallelism no
// matter how many producers submit concurrently. Submission returns a Future
// immediately.
//
// Lifecycle events are reported through a metrics.Sink:
//
//	upload:   requested -> submitted -> started -> completed | failed
//	download: started -> completed | failed
//
// A task cancelled while queued goes straight to failed with ErrCancelled and
// never starts. The engine never retries on its own; failures are classified
// (see Classify) and retry is left to the caller, for which UploadWithRetry
// and DownloadWithRetry exist.
package transfer
