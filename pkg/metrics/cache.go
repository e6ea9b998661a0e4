package metrics

// Cache names used as label values.
const (
	CacheLocation = "location"
	CacheIndex    = "index"
)

// CacheRecorder observes hit and miss rates of the engine's caches.
// Callers hold it as an interface that may be nil; use the package helpers
// below, which are no-ops for a nil recorder.
type CacheRecorder interface {
	RecordHit(cache string)
	RecordMiss(cache string)
	RecordResolution(cache string, err error)
}

// RecordHit records a cache hit on r if r is non-nil.
func RecordHit(r CacheRecorder, cache string) {
	if r != nil {
		r.RecordHit(cache)
	}
}

// RecordMiss records a cache miss on r if r is non-nil.
func RecordMiss(r CacheRecorder, cache string) {
	if r != nil {
		r.RecordMiss(cache)
	}
}

// RecordResolution records a remote lookup performed to fill a miss.
func RecordResolution(r CacheRecorder, cache string, err error) {
	if r != nil {
		r.RecordResolution(cache, err)
	}
}
