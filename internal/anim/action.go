package anim

import "time"

// LoopMode controls what an action does when it reaches the end of its clip.
type LoopMode int

const (
	// LoopOnce stops at the end of the clip and raises a finished notification.
	LoopOnce LoopMode = iota
	// LoopRepeat wraps around and never finishes.
	LoopRepeat
)

// Action is a playable instance of a clip on one timeline.
type Action struct {
	clip     *Clip
	loop     LoopMode
	clamp    bool
	time     time.Duration
	running  bool
	finished bool
}

// Clip returns the clip this action plays.
func (a *Action) Clip() *Clip { return a.clip }

// Play starts or resumes the action from its current time.
func (a *Action) Play() *Action {
	a.running = true
	a.finished = false
	return a
}

// Stop halts the action and rewinds it.
func (a *Action) Stop() *Action {
	a.running = false
	a.time = 0
	return a
}

// Reset rewinds the action to time zero without changing its running state.
func (a *Action) Reset() *Action {
	a.time = 0
	a.finished = false
	return a
}

// SetLoop sets the loop mode.
func (a *Action) SetLoop(mode LoopMode) *Action {
	a.loop = mode
	return a
}

// SetClampWhenFinished keeps the final keyframe applied after the action finishes.
// Without it the object reverts to the first keyframe.
func (a *Action) SetClampWhenFinished(clamp bool) *Action {
	a.clamp = clamp
	return a
}

// Loop returns the loop mode.
func (a *Action) Loop() LoopMode { return a.loop }

// IsRunning reports whether the action is advancing.
func (a *Action) IsRunning() bool { return a.running }

// Finished reports whether a play-once action has reached its end.
func (a *Action) Finished() bool { return a.finished }

// Time returns the local playback time.
func (a *Action) Time() time.Duration { return a.time }

// advance moves the action forward and reports whether it finished during this step.
func (a *Action) advance(obj *Object, delta time.Duration) bool {
	if !a.running {
		return false
	}
	a.time += delta
	d := a.clip.duration

	if a.loop == LoopRepeat {
		if d > 0 {
			a.time %= d
		}
		a.clip.apply(obj, a.time)
		return false
	}

	if a.time < d {
		a.clip.apply(obj, a.time)
		return false
	}

	a.time = d
	a.running = false
	a.finished = true
	if a.clamp {
		a.clip.apply(obj, d)
	} else {
		a.clip.apply(obj, 0)
	}
	return true
}
