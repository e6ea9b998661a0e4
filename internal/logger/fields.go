package logger

import (
	"log/slog"
	"time"
)

// Standard field keys. Use these consistently so lifecycle lines from the
// transfer engine, the stores and the metrics sinks can be joined in log
// aggregation.
const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Process
	KeyAppName    = "app_name"
	KeyExecutorID = "executor_id"

	// Shuffle block identity
	KeyShuffleID = "shuffle_id"
	KeyMapID     = "map_id"
	KeyReduceID  = "reduce_id"
	KeyAttemptID = "attempt_id"
	KeyTaskID    = "task_id"
	KeyKind      = "kind"
	KeyState     = "state"

	// Lifecycle accounting
	KeyNumRunningOrPending = "num_running_or_pending"
	KeyQueueLatencyMs      = "queue_latency_ms"
	KeyDurationMs          = "duration_ms"
	KeyLatencyMs           = "latency_ms"
	KeyBytes               = "bytes"
	KeyBytesUploaded       = "bytes_uploaded"
	KeyWorkers             = "workers"
	KeyQueueDepth          = "queue_depth"

	// Storage
	KeyBackend  = "backend"
	KeyBucket   = "bucket"
	KeyKey      = "key"
	KeyPath     = "path"
	KeyRegion   = "region"
	KeyEndpoint = "endpoint"
	KeyPartSize = "part_size"
	KeyParts    = "parts"
	KeySpilled  = "spilled"

	// Caches
	KeyCacheHit      = "cache_hit"
	KeyCacheSize     = "cache_size"
	KeyCacheCapacity = "cache_capacity"

	KeyError = "error"
)

// Err returns an error attribute; nil errors produce an empty attr that the
// handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ShuffleID returns the shuffle id attribute.
func ShuffleID(id int32) slog.Attr { return slog.Int(KeyShuffleID, int(id)) }

// MapID returns the map id attribute.
func MapID(id int32) slog.Attr { return slog.Int(KeyMapID, int(id)) }

// ReduceID returns the reduce id attribute.
func ReduceID(id int32) slog.Attr { return slog.Int(KeyReduceID, int(id)) }

// AttemptID returns the attempt id attribute.
func AttemptID(id int64) slog.Attr { return slog.Int64(KeyAttemptID, id) }

// DurationMs renders d as fractional milliseconds.
func DurationMs(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMs, float64(d.Microseconds())/1000.0)
}

// Backend names the storage backend that served an operation.
func Backend(name string) slog.Attr { return slog.String(KeyBackend, name) }

// Key is an object key in remote storage.
func Key(k string) slog.Attr { return slog.String(KeyKey, k) }
