// Package pose implements the direction value object shared by the
// convolution engine and the filter store.
package pose

import (
	"fmt"
	"strconv"
	"strings"
)

// NumFields is the number of integer slots carried by a Pose. Only the
// first two (azimuth, elevation) are used for spatial lookup; the rest
// are forward-compatibility slots that participate in the key but never
// in the KD-tree query.
const NumFields = 9

// Pose is an immutable direction tuple. The zero value is the pose at
// (0, 0) with all auxiliary fields zero.
type Pose struct {
	fields [NumFields]int
}

// FromFields builds a Pose from a slice of integers. Missing trailing
// fields are zero-filled; extra fields beyond NumFields are ignored.
func FromFields(fields []int) Pose {
	var p Pose
	n := len(fields)
	if n > NumFields {
		n = NumFields
	}
	copy(p.fields[:n], fields[:n])
	return p
}

// Azimuth returns the first field.
func (p Pose) Azimuth() int { return p.fields[0] }

// Elevation returns the second field.
func (p Pose) Elevation() int { return p.fields[1] }

// Coord returns the 2-D (azimuth, elevation) pair used for spatial
// lookup. The remaining fields are opaque for this purpose.
func (p Pose) Coord() (int, int) {
	return p.fields[0], p.fields[1]
}

// Key returns a deterministic, collision-free string identifier derived
// from all nine fields.
func (p Pose) Key() string {
	// A '|' separator between fields keeps distinct field boundaries
	// from ever aliasing (e.g. fields {1,23} vs {12,3}).
	buf := make([]byte, 0, NumFields*12)
	for i, f := range p.fields {
		if i > 0 {
			buf = append(buf, '|')
		}
		buf = strconv.AppendInt(buf, int64(f), 10)
	}
	return string(buf)
}

// Equal reports whether two poses carry identical fields.
func (p Pose) Equal(other Pose) bool {
	return p.fields == other.fields
}

// ParseKey inverts Key, reconstructing the Pose a cached key was built
// from. It is used to recover a (azimuth, elevation) coordinate from a
// key string alone, e.g. when rebuilding a KD-tree from an on-disk
// filter cache that stores only keys, not full Pose values.
func ParseKey(key string) (Pose, error) {
	parts := strings.Split(key, "|")
	if len(parts) != NumFields {
		return Pose{}, fmt.Errorf("pose: key %q has %d fields, want %d", key, len(parts), NumFields)
	}
	fields := make([]int, NumFields)
	for i, tok := range parts {
		v, err := strconv.Atoi(tok)
		if err != nil {
			return Pose{}, fmt.Errorf("pose: key %q: field %d: %w", key, i, err)
		}
		fields[i] = v
	}
	return FromFields(fields), nil
}

// FromCoordKey reconstructs the canonical Pose for a matched (az, el)
// coordinate, zero-filling the auxiliary fields. PoseTracker uses it to
// record each incoming (azimuth, elevation) as a Pose.
func FromCoordKey(az, el int) Pose {
	return FromFields([]int{az, el})
}
