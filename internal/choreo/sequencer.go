package choreo

import (
	"fmt"

	"github.com/AaronLay10/linkstage/internal/anim"
	"github.com/AaronLay10/linkstage/internal/events"
)

// Sequencer plays an ordered list of named actions on one timeline, one at a time.
// Each finished notification from the timeline advances to the next step; after
// the last step it calls the finish callback exactly once and unsubscribes.
type Sequencer struct {
	name     string
	timeline *anim.Timeline
	actions  map[string]*anim.Action
	sequence []string
	index    int
	advances int

	started  bool
	finished bool
	cancel   func()
	onFinish func()
}

// NewSequencer creates a sequencer over tl. The timeline is shared, not owned.
func NewSequencer(name string, tl *anim.Timeline) *Sequencer {
	return &Sequencer{
		name:     name,
		timeline: tl,
		actions:  make(map[string]*anim.Action),
	}
}

// Name returns the actor name the sequencer was created for.
func (s *Sequencer) Name() string { return s.name }

// RegisterAction makes action available under step name.
func (s *Sequencer) RegisterAction(name string, action *anim.Action) {
	s.actions[name] = action
}

// RegisterClip registers the timeline's action for clip under the clip's name.
func (s *Sequencer) RegisterClip(clip *anim.Clip) *anim.Action {
	a := s.timeline.ClipAction(clip).SetClampWhenFinished(true)
	s.RegisterAction(clip.Name(), a)
	return a
}

// QueueAction appends a registered step to the sequence.
// Steps may be queued before or during playback; queueing after the
// sequencer finished has no effect.
func (s *Sequencer) QueueAction(name string) error {
	if _, ok := s.actions[name]; !ok {
		return fmt.Errorf("%s: %w: %s", s.name, ErrUnknownStep, name)
	}
	if s.finished {
		return ErrExhausted
	}
	s.sequence = append(s.sequence, name)
	return nil
}

// OnFinish sets the callback run once the last step completes.
func (s *Sequencer) OnFinish(fn func()) {
	s.onFinish = fn
}

// Play starts the step at the current index. An empty sequence finishes
// immediately without subscribing to the timeline.
func (s *Sequencer) Play() error {
	if s.finished {
		return ErrExhausted
	}
	if s.started {
		return nil
	}
	s.started = true

	if len(s.sequence) == 0 {
		s.finish()
		return nil
	}

	s.cancel = s.timeline.OnFinished(s.handleFinished)
	s.emit("sequencer.started")
	s.playCurrent()
	return nil
}

// Cancel stops the current step and unsubscribes without calling the finish callback.
func (s *Sequencer) Cancel() {
	if s.finished {
		return
	}
	s.finished = true
	if s.started && len(s.sequence) > 0 {
		s.actions[s.sequence[s.index]].Stop()
	}
	s.unsubscribe()
}

func (s *Sequencer) handleFinished(ev anim.FinishedEvent) {
	if s.finished {
		s.emit("sequencer.ignored")
		return
	}
	if ev.Action != s.actions[s.sequence[s.index]] {
		// another clip on the same timeline
		return
	}

	if s.index == len(s.sequence)-1 {
		s.finish()
		return
	}

	s.index++
	s.advances++
	s.emit("sequencer.step")
	s.playCurrent()
}

func (s *Sequencer) playCurrent() {
	s.actions[s.sequence[s.index]].
		Reset().
		SetLoop(anim.LoopOnce).
		Play()
}

func (s *Sequencer) finish() {
	s.finished = true
	s.unsubscribe()
	s.emit("sequencer.finished")
	if s.onFinish != nil {
		s.onFinish()
	}
}

func (s *Sequencer) unsubscribe() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Sequencer) emit(name string) {
	fields := map[string]interface{}{
		"actor": s.name,
		"steps": len(s.sequence),
	}
	if len(s.sequence) > 0 {
		fields["step"] = s.sequence[s.index]
		fields["index"] = s.index
	}
	events.Emit("info", name, "", fields)
}

// Current returns the name of the current step, or "" for an empty sequence.
func (s *Sequencer) Current() string {
	if len(s.sequence) == 0 {
		return ""
	}
	return s.sequence[s.index]
}

// Index returns the current step index.
func (s *Sequencer) Index() int { return s.index }

// Len returns the number of queued steps.
func (s *Sequencer) Len() int { return len(s.sequence) }

// Advances returns how many times the sequencer moved to a following step.
func (s *Sequencer) Advances() int { return s.advances }

// Started reports whether Play has been called.
func (s *Sequencer) Started() bool { return s.started }

// Exhausted reports whether the sequencer has finished or been cancelled.
func (s *Sequencer) Exhausted() bool { return s.finished }
