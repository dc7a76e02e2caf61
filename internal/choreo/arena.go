package choreo

import (
	"slices"

	"github.com/AaronLay10/linkstage/internal/anim"
)

// Handle identifies a timeline registered in an Arena. The zero Handle is never allocated.
type Handle int

// Arena owns every timeline the frame loop may advance.
// Timelines are referenced by Handle so ownership can move between
// choreographies without sharing pointers.
type Arena struct {
	slots []*anim.Timeline
	free  []Handle
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// Alloc registers tl and returns its handle. Released handles are reused.
func (a *Arena) Alloc(tl *anim.Timeline) Handle {
	if n := len(a.free); n > 0 {
		h := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[h-1] = tl
		return h
	}
	a.slots = append(a.slots, tl)
	return Handle(len(a.slots))
}

// Release drops the timeline for h. Releasing an unknown or freed handle is a no-op.
func (a *Arena) Release(h Handle) {
	if a.Get(h) == nil {
		return
	}
	a.slots[h-1] = nil
	a.free = append(a.free, h)
}

// Get returns the timeline for h, or nil if h is not live.
func (a *Arena) Get(h Handle) *anim.Timeline {
	if h <= 0 || int(h) > len(a.slots) {
		return nil
	}
	return a.slots[h-1]
}

// Len returns the number of live timelines.
func (a *Arena) Len() int {
	return len(a.slots) - len(a.free)
}

// ActiveSet is the set of handles the frame loop advances.
// It is a value: Add and Remove return an updated set and never modify the receiver,
// so a tick can iterate a set while callbacks hand ownership to other timelines.
type ActiveSet struct {
	handles []Handle
}

// Add returns the set with h appended, preserving insertion order.
func (s ActiveSet) Add(h Handle) ActiveSet {
	if h == 0 || s.Contains(h) {
		return s
	}
	out := make([]Handle, len(s.handles), len(s.handles)+1)
	copy(out, s.handles)
	return ActiveSet{handles: append(out, h)}
}

// Remove returns the set without h.
func (s ActiveSet) Remove(h Handle) ActiveSet {
	i := slices.Index(s.handles, h)
	if i < 0 {
		return s
	}
	out := make([]Handle, 0, len(s.handles)-1)
	out = append(out, s.handles[:i]...)
	out = append(out, s.handles[i+1:]...)
	return ActiveSet{handles: out}
}

// Contains reports whether h is in the set.
func (s ActiveSet) Contains(h Handle) bool {
	return slices.Contains(s.handles, h)
}

// Len returns the number of handles.
func (s ActiveSet) Len() int { return len(s.handles) }

// Handles returns a copy of the handles in insertion order.
func (s ActiveSet) Handles() []Handle {
	return slices.Clone(s.handles)
}
