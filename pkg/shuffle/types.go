package shuffle

import (
	"fmt"
	"time"
)

// NoReduceID marks a BlockID that addresses a whole map output rather than a
// single reduce partition inside it.
const NoReduceID int32 = -1

// BlockID uniquely addresses one shuffle block. AttemptID distinguishes
// re-executions of the same map task. BlockID is comparable and is used
// directly as a map key.
type BlockID struct {
	ShuffleID int32
	MapID     int32
	ReduceID  int32
	AttemptID int64
}

// MapOutputID returns the identity of the map output that contains b.
func (b BlockID) MapOutputID() BlockID {
	b.ReduceID = NoReduceID
	return b
}

// IsMapOutput reports whether b addresses a whole map output.
func (b BlockID) IsMapOutput() bool {
	return b.ReduceID == NoReduceID
}

// String renders b the way Spark names shuffle blocks.
func (b BlockID) String() string {
	if b.IsMapOutput() {
		return fmt.Sprintf("shuffle_%d_%d_a%d", b.ShuffleID, b.MapID, b.AttemptID)
	}
	return fmt.Sprintf("shuffle_%d_%d_%d_a%d", b.ShuffleID, b.MapID, b.ReduceID, b.AttemptID)
}

// Validate rejects identities that cannot name a real block.
func (b BlockID) Validate() error {
	if b.ShuffleID < 0 || b.MapID < 0 || b.AttemptID < 0 {
		return fmt.Errorf("%w: negative component in %s", ErrInvalidBlockID, b)
	}
	if b.ReduceID < NoReduceID {
		return fmt.Errorf("%w: reduce id %d", ErrInvalidBlockID, b.ReduceID)
	}
	return nil
}

// MapOutput is a locally materialized map-output file awaiting upload.
// It is owned by the upload path until the upload reaches a terminal state.
type MapOutput struct {
	ShuffleID int32
	MapID     int32
	AttemptID int64

	// DataPath is the combined data file holding every reduce block.
	DataPath string

	// IndexPath is the optional index file with per-reduce offsets into the
	// data file. Empty when the map output is a single block.
	IndexPath string

	// Size is the data file size in bytes. Zero means "stat the file".
	Size int64
}

// ID returns the map-output identity of m.
func (m MapOutput) ID() BlockID {
	return BlockID{ShuffleID: m.ShuffleID, MapID: m.MapID, ReduceID: NoReduceID, AttemptID: m.AttemptID}
}

// BlockLocation is a cached pointer to a map output's remote objects.
type BlockLocation struct {
	ID BlockID

	// DataKey and IndexKey are object keys relative to the store root.
	// IndexKey is empty when the map output was uploaded without an index.
	DataKey  string
	IndexKey string

	// Size is the size of the remote data object in bytes.
	Size int64

	LastAccess time.Time
}

// HasIndex reports whether an index object accompanies the data object.
func (l BlockLocation) HasIndex() bool {
	return l.IndexKey != ""
}
