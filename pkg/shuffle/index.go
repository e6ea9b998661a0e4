package shuffle

import (
	"encoding/binary"
	"fmt"
)

// Index holds the partition offsets of a map output data file. It has
// NumPartitions()+1 entries: block r spans [Offsets[r], Offsets[r+1]).
// The on-disk layout is Spark's: consecutive big-endian int64 values.
type Index struct {
	Offsets []int64
}

// ParseIndex decodes and validates an index file.
func ParseIndex(b []byte) (*Index, error) {
	if len(b) == 0 || len(b)%8 != 0 {
		return nil, fmt.Errorf("%w: length %d is not a positive multiple of 8", ErrInvalidIndex, len(b))
	}
	n := len(b) / 8
	if n < 2 {
		return nil, fmt.Errorf("%w: need at least two offsets", ErrInvalidIndex)
	}

	offsets := make([]int64, n)
	for i := range offsets {
		offsets[i] = int64(binary.BigEndian.Uint64(b[i*8:]))
	}
	if offsets[0] != 0 {
		return nil, fmt.Errorf("%w: first offset is %d", ErrInvalidIndex, offsets[0])
	}
	for i := 1; i < n; i++ {
		if offsets[i] < offsets[i-1] {
			return nil, fmt.Errorf("%w: offsets decrease at partition %d", ErrInvalidIndex, i-1)
		}
	}
	return &Index{Offsets: offsets}, nil
}

// Encode serializes the index in the on-disk layout.
func (x *Index) Encode() []byte {
	b := make([]byte, 8*len(x.Offsets))
	for i, off := range x.Offsets {
		binary.BigEndian.PutUint64(b[i*8:], uint64(off))
	}
	return b
}

// IndexFromLengths builds an index from per-partition block lengths.
func IndexFromLengths(lengths []int64) *Index {
	offsets := make([]int64, len(lengths)+1)
	for i, l := range lengths {
		offsets[i+1] = offsets[i] + l
	}
	return &Index{Offsets: offsets}
}

// NumPartitions returns the number of reduce partitions described.
func (x *Index) NumPartitions() int {
	return len(x.Offsets) - 1
}

// DataSize is the total size of the data file the index describes.
func (x *Index) DataSize() int64 {
	return x.Offsets[len(x.Offsets)-1]
}

// BlockRange returns the byte range [offset, offset+length) of reduce
// partition r within the data file.
func (x *Index) BlockRange(reduceID int32) (offset, length int64, err error) {
	if reduceID < 0 || int(reduceID) >= x.NumPartitions() {
		return 0, 0, fmt.Errorf("%w: reduce id %d outside [0,%d)", ErrInvalidIndex, reduceID, x.NumPartitions())
	}
	start := x.Offsets[reduceID]
	return start, x.Offsets[reduceID+1] - start, nil
}
