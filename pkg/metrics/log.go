package metrics

import (
	"time"

	"github.com/marmos91/dittoshuffle/internal/logger"
	"github.com/marmos91/dittoshuffle/pkg/shuffle"
)

// LogSink writes one structured log line per lifecycle event, tagged with
// the application name so lines from many executors can be grouped.
type LogSink struct {
	appName string
}

// NewLogSink creates a LogSink for appName.
func NewLogSink(appName string) *LogSink {
	return &LogSink{appName: appName}
}

func (l *LogSink) fields(id shuffle.BlockID, extra ...any) []any {
	args := make([]any, 0, 10+len(extra))
	args = append(args,
		logger.KeyAppName, l.appName,
		logger.KeyShuffleID, id.ShuffleID,
		logger.KeyMapID, id.MapID,
	)
	if !id.IsMapOutput() {
		args = append(args, logger.KeyReduceID, id.ReduceID)
	}
	args = append(args, logger.KeyAttemptID, id.AttemptID)
	return append(args, extra...)
}

func ms(d time.Duration) int64 { return d.Milliseconds() }

func (l *LogSink) DownloadStarted(id shuffle.BlockID) {
	logger.Info("Started downloading shuffle block from remote storage", l.fields(id)...)
}

func (l *LogSink) DownloadCompleted(id shuffle.BlockID, d time.Duration, bytes int64) {
	logger.Info("Finished downloading shuffle block from remote storage",
		l.fields(id, logger.KeyDurationMs, ms(d), logger.KeyBytes, bytes)...)
}

func (l *LogSink) DownloadFailed(id shuffle.BlockID, d time.Duration, err error) {
	logger.Warn("Failed to download shuffle block from remote storage",
		l.fields(id, logger.KeyDurationMs, ms(d), logger.KeyError, errString(err))...)
}

func (l *LogSink) UploadRequested(id shuffle.BlockID, n int) {
	logger.Info("Requesting upload of map output to remote storage",
		l.fields(id, logger.KeyNumRunningOrPending, n)...)
}

func (l *LogSink) UploadSubmitted(id shuffle.BlockID, latency time.Duration) {
	logger.Info("Submitted upload of map output to the transfer pool",
		l.fields(id, logger.KeyQueueLatencyMs, ms(latency))...)
}

func (l *LogSink) UploadStarted(id shuffle.BlockID) {
	logger.Info("Started uploading map output to remote storage", l.fields(id)...)
}

func (l *LogSink) UploadFailed(id shuffle.BlockID, err error, n int) {
	logger.Error("Failed to upload map output to remote storage",
		l.fields(id, logger.KeyNumRunningOrPending, n, logger.KeyError, errString(err))...)
}

func (l *LogSink) UploadCompleted(id shuffle.BlockID, d time.Duration, bytes int64, latency time.Duration, n int) {
	logger.Info("Finished uploading map output to remote storage",
		l.fields(id,
			logger.KeyDurationMs, ms(d),
			logger.KeyBytesUploaded, bytes,
			logger.KeyLatencyMs, ms(latency),
			logger.KeyNumRunningOrPending, n,
		)...)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var _ Sink = (*LogSink)(nil)
