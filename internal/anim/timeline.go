package anim

import "time"

// FinishedEvent is delivered to timeline listeners when a play-once action ends.
type FinishedEvent struct {
	Timeline *Timeline
	Action   *Action
}

type listener struct {
	id int
	fn func(FinishedEvent)
}

// Timeline drives every action playing on one object.
// It is not safe for concurrent use; the frame loop owns it.
type Timeline struct {
	object    *Object
	actions   map[*Clip]*Action
	order     []*Action
	listeners []listener
	nextID    int
}

// NewTimeline creates a timeline for obj.
func NewTimeline(obj *Object) *Timeline {
	return &Timeline{
		object:  obj,
		actions: make(map[*Clip]*Action),
	}
}

// Object returns the object this timeline animates.
func (tl *Timeline) Object() *Object { return tl.object }

// ClipAction returns the action for clip, creating it on first use.
// Repeated calls with the same clip return the same action.
func (tl *Timeline) ClipAction(clip *Clip) *Action {
	if a, ok := tl.actions[clip]; ok {
		return a
	}
	a := &Action{clip: clip, loop: LoopRepeat}
	tl.actions[clip] = a
	tl.order = append(tl.order, a)
	return a
}

// OnFinished registers fn for finished notifications and returns a func that removes it.
func (tl *Timeline) OnFinished(fn func(FinishedEvent)) (cancel func()) {
	tl.nextID++
	id := tl.nextID
	tl.listeners = append(tl.listeners, listener{id: id, fn: fn})
	return func() {
		for i, l := range tl.listeners {
			if l.id == id {
				tl.listeners = append(tl.listeners[:i:i], tl.listeners[i+1:]...)
				return
			}
		}
	}
}

// ListenerCount returns the number of registered finished listeners.
func (tl *Timeline) ListenerCount() int { return len(tl.listeners) }

// Running returns the number of actions currently advancing.
func (tl *Timeline) Running() int {
	n := 0
	for _, a := range tl.order {
		if a.running {
			n++
		}
	}
	return n
}

// Update advances all running actions by delta.
// Finished notifications fire after every action has been advanced, so an
// action started by a listener does not move until the next Update.
func (tl *Timeline) Update(delta time.Duration) {
	var done []*Action
	for _, a := range tl.order {
		if a.advance(tl.object, delta) {
			done = append(done, a)
		}
	}
	if len(done) == 0 {
		return
	}
	ls := append([]listener(nil), tl.listeners...)
	for _, a := range done {
		ev := FinishedEvent{Timeline: tl, Action: a}
		for _, l := range ls {
			l.fn(ev)
		}
	}
}
