package anim

import (
	"errors"
	"fmt"
	"time"

	"cogentcore.org/core/math32"
	"github.com/fogleman/ease"
)

// Property paths understood by the animation runtime.
const (
	PathPosition = ".position"
	PathOpacity  = ".material.opacity"
)

var (
	// ErrUnknownPath is returned when a track targets a property the runtime cannot animate.
	ErrUnknownPath = errors.New("unknown track path")

	// ErrBadKeyframes is returned for empty, unordered or mismatched keyframe data.
	ErrBadKeyframes = errors.New("bad keyframes")
)

// TrackKind identifies which property a track animates.
// The set is closed: a move track drives Object.Position, a fade track drives Object.Opacity.
type TrackKind int

const (
	TrackMove TrackKind = iota
	TrackFade
)

func (k TrackKind) String() string {
	switch k {
	case TrackMove:
		return "move"
	case TrackFade:
		return "fade"
	}
	return fmt.Sprintf("TrackKind(%d)", int(k))
}

// EaseFunc maps linear progress in [0,1] within a keyframe segment to eased progress.
type EaseFunc func(t float64) float64

// Track is an ordered set of keyframes for one animatable property.
type Track struct {
	Kind      TrackKind
	Path      string
	Times     []time.Duration
	Positions []math32.Vector3 // TrackMove only
	Opacities []float32        // TrackFade only
	Ease      EaseFunc
}

// MoveTrack creates a position track. Moves ease in and out by default.
func MoveTrack(times []time.Duration, positions []math32.Vector3) (*Track, error) {
	if len(times) != len(positions) {
		return nil, fmt.Errorf("%w: %d times, %d positions", ErrBadKeyframes, len(times), len(positions))
	}
	if err := checkTimes(times); err != nil {
		return nil, err
	}
	return &Track{
		Kind:      TrackMove,
		Path:      PathPosition,
		Times:     append([]time.Duration(nil), times...),
		Positions: append([]math32.Vector3(nil), positions...),
		Ease:      ease.InOutQuad,
	}, nil
}

// FadeTrack creates an opacity track. Fades follow a sine S-curve by default.
func FadeTrack(times []time.Duration, opacities []float32) (*Track, error) {
	if len(times) != len(opacities) {
		return nil, fmt.Errorf("%w: %d times, %d opacities", ErrBadKeyframes, len(times), len(opacities))
	}
	if err := checkTimes(times); err != nil {
		return nil, err
	}
	return &Track{
		Kind:      TrackFade,
		Path:      PathOpacity,
		Times:     append([]time.Duration(nil), times...),
		Opacities: append([]float32(nil), opacities...),
		Ease:      ease.OutSine,
	}, nil
}

// ParseTrack builds a track from a property path and flat sample values,
// three values per key for positions and one per key for opacity.
func ParseTrack(path string, times []time.Duration, values []float32) (*Track, error) {
	switch path {
	case PathPosition:
		if len(values) != 3*len(times) {
			return nil, fmt.Errorf("%w: %s needs 3 values per key, got %d for %d keys", ErrBadKeyframes, path, len(values), len(times))
		}
		positions := make([]math32.Vector3, len(times))
		for i := range positions {
			positions[i] = math32.Vec3(values[3*i], values[3*i+1], values[3*i+2])
		}
		return MoveTrack(times, positions)
	case PathOpacity:
		return FadeTrack(times, values)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPath, path)
}

func checkTimes(times []time.Duration) error {
	if len(times) == 0 {
		return fmt.Errorf("%w: no keys", ErrBadKeyframes)
	}
	for i, t := range times {
		if t < 0 {
			return fmt.Errorf("%w: negative time at key %d", ErrBadKeyframes, i)
		}
		if i > 0 && t < times[i-1] {
			return fmt.Errorf("%w: key %d before key %d", ErrBadKeyframes, i, i-1)
		}
	}
	return nil
}

// End returns the time of the last keyframe.
func (t *Track) End() time.Duration {
	return t.Times[len(t.Times)-1]
}

// segment returns the keyframe index i and eased progress p such that
// the value at 'at' lies between key i and key i+1.
func (t *Track) segment(at time.Duration) (int, float32) {
	last := len(t.Times) - 1
	if at <= t.Times[0] {
		return 0, 0
	}
	if at >= t.Times[last] {
		return last, 0
	}
	for i := 0; i < last; i++ {
		t0, t1 := t.Times[i], t.Times[i+1]
		if at < t1 {
			span := t1 - t0
			if span <= 0 {
				return i + 1, 0
			}
			p := float64(at-t0) / float64(span)
			if t.Ease != nil {
				p = t.Ease(p)
			}
			return i, float32(p)
		}
	}
	return last, 0
}

// Apply writes the track's value at time 'at' onto obj.
func (t *Track) Apply(obj *Object, at time.Duration) {
	i, p := t.segment(at)
	switch t.Kind {
	case TrackMove:
		obj.Position = lerpVec3(t.Positions[i], t.Positions[min(i+1, len(t.Positions)-1)], p)
	case TrackFade:
		obj.Opacity = math32.Lerp(t.Opacities[i], t.Opacities[min(i+1, len(t.Opacities)-1)], p)
	}
}

func lerpVec3(a, b math32.Vector3, p float32) math32.Vector3 {
	return math32.Vec3(math32.Lerp(a.X, b.X, p), math32.Lerp(a.Y, b.Y, p), math32.Lerp(a.Z, b.Z, p))
}
