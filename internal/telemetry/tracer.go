package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for shuffle transfer spans.
const (
	AttrAppName    = "shuffle.app_name"
	AttrExecutorID = "shuffle.executor_id"
	AttrShuffleID  = "shuffle.shuffle_id"
	AttrMapID      = "shuffle.map_id"
	AttrReduceID   = "shuffle.reduce_id"
	AttrAttemptID  = "shuffle.attempt_id"
	AttrBlockID    = "shuffle.block_id"
	AttrTaskID     = "transfer.task_id"
	AttrKind       = "transfer.kind"
	AttrBytes      = "transfer.bytes"
	AttrSpilled    = "transfer.spilled"

	AttrCacheHit  = "cache.hit"
	AttrStoreType = "store.type"
	AttrBucket    = "storage.bucket"
	AttrKey       = "storage.key"
	AttrRange     = "storage.range"
)

// Span names.
const (
	SpanUpload        = "transfer.upload"
	SpanDownload      = "transfer.download"
	SpanResolve       = "location.resolve"
	SpanIndexLookup   = "index.lookup"
	SpanStorePut      = "store.put"
	SpanStoreGet      = "store.get"
	SpanStoreStat     = "store.stat"
	SpanShuffleDelete = "shuffle.delete"
)

// BlockAttrs returns the identity attributes of a block. A negative reduce
// id marks a whole map output and is omitted.
func BlockAttrs(shuffleID, mapID, reduceID int32, attemptID int64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrShuffleID, int(shuffleID)),
		attribute.Int(AttrMapID, int(mapID)),
		attribute.Int64(AttrAttemptID, attemptID),
	}
	if reduceID >= 0 {
		attrs = append(attrs, attribute.Int(AttrReduceID, int(reduceID)))
	}
	return attrs
}

func AppName(name string) attribute.KeyValue {
	return attribute.String(AttrAppName, name)
}

func TaskID(id string) attribute.KeyValue {
	return attribute.String(AttrTaskID, id)
}

func Kind(kind string) attribute.KeyValue {
	return attribute.String(AttrKind, kind)
}

func Bytes(n int64) attribute.KeyValue {
	return attribute.Int64(AttrBytes, n)
}

func Spilled(spilled bool) attribute.KeyValue {
	return attribute.Bool(AttrSpilled, spilled)
}

func CacheHit(hit bool) attribute.KeyValue {
	return attribute.Bool(AttrCacheHit, hit)
}

func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}

func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

func StorageRange(rng string) attribute.KeyValue {
	return attribute.String(AttrRange, rng)
}

// StartTransferSpan starts a span for one upload or download task.
func StartTransferSpan(ctx context.Context, name, taskID string, shuffleID, mapID, reduceID int32, attemptID int64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append(BlockAttrs(shuffleID, mapID, reduceID, attemptID), TaskID(taskID))
	all = append(all, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(all...), trace.WithSpanKind(trace.SpanKindClient))
}

// StartStoreSpan starts a span around a single storage backend call.
func StartStoreSpan(ctx context.Context, operation, storeType, key string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{StoreType(storeType), StorageKey(key)}, attrs...)
	return StartSpan(ctx, operation, trace.WithAttributes(all...))
}
