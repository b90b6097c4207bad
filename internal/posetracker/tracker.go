// Package posetracker tracks the most recently received pose per channel
// and whether it has changed since the engine last consumed it, so the
// engine only re-queries the filter store when a channel's direction
// actually moved.
package posetracker

import (
	"fmt"

	"github.com/binsim/binsynth-server/internal/pose"
)

// ErrChannelOutOfRange is returned when a channel index is outside
// [0, maxChannels).
var ErrChannelOutOfRange = fmt.Errorf("posetracker: channel out of range")

// Tracker holds fixed-size per-channel pose state. All channels start
// dirty so the first block on every channel always triggers a filter
// lookup, matching a fresh engine start.
type Tracker struct {
	last  []pose.Pose
	dirty []bool
}

// New builds a Tracker for maxChannels channels, all initially dirty at
// the zero pose.
func New(maxChannels int) *Tracker {
	t := &Tracker{
		last:  make([]pose.Pose, maxChannels),
		dirty: make([]bool, maxChannels),
	}
	for i := range t.dirty {
		t.dirty[i] = true
	}
	return t
}

// Channels returns the number of channels this Tracker was built for.
func (t *Tracker) Channels() int { return len(t.last) }

func (t *Tracker) checkRange(channel int) error {
	if channel < 0 || channel >= len(t.last) {
		return fmt.Errorf("%w: %d (have %d channels)", ErrChannelOutOfRange, channel, len(t.last))
	}
	return nil
}

// Update records a new (azimuth, elevation) for channel, marking it
// dirty iff the coordinate differs from the last one recorded — the
// auxiliary pose fields are always zero, so comparison reduces to the
// two live fields.
func (t *Tracker) Update(channel, azimuth, elevation int) error {
	if err := t.checkRange(channel); err != nil {
		return err
	}
	az, el := t.last[channel].Coord()
	if az == azimuth && el == elevation {
		return nil
	}
	t.last[channel] = pose.FromCoordKey(azimuth, elevation)
	t.dirty[channel] = true
	return nil
}

// NeedsUpdate reports whether channel's pose has changed since it was
// last Consume-d.
func (t *Tracker) NeedsUpdate(channel int) (bool, error) {
	if err := t.checkRange(channel); err != nil {
		return false, err
	}
	return t.dirty[channel], nil
}

// Consume returns channel's current pose and clears its dirty flag.
func (t *Tracker) Consume(channel int) (pose.Pose, error) {
	if err := t.checkRange(channel); err != nil {
		return pose.Pose{}, err
	}
	t.dirty[channel] = false
	return t.last[channel], nil
}

// Peek returns channel's current pose without clearing the dirty flag.
func (t *Tracker) Peek(channel int) (pose.Pose, error) {
	if err := t.checkRange(channel); err != nil {
		return pose.Pose{}, err
	}
	return t.last[channel], nil
}
