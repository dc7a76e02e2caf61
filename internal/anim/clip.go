package anim

import (
	"fmt"
	"time"
)

// Clip is a named, time-bounded set of tracks. Clips are immutable once built.
type Clip struct {
	name     string
	duration time.Duration
	tracks   []*Track
}

// NewClip creates a clip. A negative duration is derived from the longest track.
func NewClip(name string, duration time.Duration, tracks ...*Track) (*Clip, error) {
	if len(tracks) == 0 {
		return nil, fmt.Errorf("clip %s: %w: no tracks", name, ErrBadKeyframes)
	}
	if duration < 0 {
		for _, t := range tracks {
			duration = max(duration, t.End())
		}
	}
	return &Clip{
		name:     name,
		duration: duration,
		tracks:   append([]*Track(nil), tracks...),
	}, nil
}

// Name returns the clip name.
func (c *Clip) Name() string { return c.name }

// Duration returns the clip length.
func (c *Clip) Duration() time.Duration { return c.duration }

// Tracks returns the number of tracks in the clip.
func (c *Clip) Tracks() int { return len(c.tracks) }

func (c *Clip) apply(obj *Object, at time.Duration) {
	for _, t := range c.tracks {
		t.Apply(obj, at)
	}
}
