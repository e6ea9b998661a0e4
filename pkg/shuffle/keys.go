package shuffle

import (
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	dataSuffix  = ".data"
	indexSuffix = ".index"
)

// DataKey returns the object key of the data file of a map output, relative
// to the store root. Keys are grouped per application and shuffle so a whole
// shuffle can be listed or removed by prefix:
//
//	<app>/<shuffle>/<map>/<attempt>/shuffle_<shuffle>_<map>_<attempt>.data
func DataKey(appName string, id BlockID) string {
	return objectKey(appName, id, dataSuffix)
}

// IndexKey is DataKey for the index file.
func IndexKey(appName string, id BlockID) string {
	return objectKey(appName, id, indexSuffix)
}

// ShufflePrefix is the key prefix holding every object of one shuffle.
func ShufflePrefix(appName string, shuffleID int32) string {
	return path.Join(sanitize(appName), strconv.Itoa(int(shuffleID))) + "/"
}

func objectKey(appName string, id BlockID, suffix string) string {
	id = id.MapOutputID()
	return path.Join(
		sanitize(appName),
		strconv.Itoa(int(id.ShuffleID)),
		strconv.Itoa(int(id.MapID)),
		strconv.FormatInt(id.AttemptID, 10),
		LocalFileName(id, suffix),
	)
}

// LocalFileName is the Spark-style file name for a map output.
func LocalFileName(id BlockID, suffix string) string {
	return fmt.Sprintf("shuffle_%d_%d_%d%s", id.ShuffleID, id.MapID, id.AttemptID, suffix)
}

func sanitize(appName string) string {
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return "default"
	}
	return strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(appName)
}

// ParseMapOutputFile recognises a local "shuffle_<s>_<m>_<a>.data" or
// ".index" file name. ok is false for any other name.
func ParseMapOutputFile(name string) (id BlockID, isIndex bool, ok bool) {
	base := filepath.Base(name)
	switch {
	case strings.HasSuffix(base, dataSuffix):
		base = strings.TrimSuffix(base, dataSuffix)
	case strings.HasSuffix(base, indexSuffix):
		base = strings.TrimSuffix(base, indexSuffix)
		isIndex = true
	default:
		return BlockID{}, false, false
	}

	parts := strings.Split(base, "_")
	if len(parts) != 4 || parts[0] != "shuffle" {
		return BlockID{}, false, false
	}
	s, err1 := strconv.ParseInt(parts[1], 10, 32)
	m, err2 := strconv.ParseInt(parts[2], 10, 32)
	a, err3 := strconv.ParseInt(parts[3], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || s < 0 || m < 0 || a < 0 {
		return BlockID{}, false, false
	}
	return BlockID{ShuffleID: int32(s), MapID: int32(m), ReduceID: NoReduceID, AttemptID: a}, isIndex, true
}
