package choreo

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"cogentcore.org/core/math32"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/AaronLay10/linkstage/internal/anim"
)

const stepDuration = 100 * time.Millisecond

func newTimeline(name string) *anim.Timeline {
	return anim.NewTimeline(anim.NewObject(name, math32.Vector3{}, colorful.Color{}))
}

func stepClip(t *testing.T, name string) *anim.Clip {
	t.Helper()
	track, err := anim.FadeTrack([]time.Duration{0, stepDuration}, []float32{0, 1})
	if err != nil {
		t.Fatalf("failed to build track: %v", err)
	}
	clip, err := anim.NewClip(name, stepDuration, track)
	if err != nil {
		t.Fatalf("failed to build clip: %v", err)
	}
	return clip
}

// newSequencer builds a sequencer with n queued steps named step_0..step_n-1.
func newSequencer(t *testing.T, name string, tl *anim.Timeline, n int) *Sequencer {
	t.Helper()
	s := NewSequencer(name, tl)
	for i := 0; i < n; i++ {
		clip := stepClip(t, fmt.Sprintf("step_%d", i))
		s.RegisterClip(clip)
		if err := s.QueueAction(clip.Name()); err != nil {
			t.Fatalf("failed to queue step: %v", err)
		}
	}
	return s
}

func TestSequencer_AdvancesThenFinishesOnce(t *testing.T) {
	for n := 1; n <= 6; n++ {
		tl := newTimeline("indicator")
		s := newSequencer(t, "indicator", tl, n)

		finished := 0
		s.OnFinish(func() { finished++ })

		if err := s.Play(); err != nil {
			t.Fatalf("n=%d: unexpected play error: %v", n, err)
		}
		for i := 0; i < n*3; i++ {
			tl.Update(stepDuration)
		}

		if s.Advances() != n-1 {
			t.Errorf("n=%d: expected %d advances, got %d", n, n-1, s.Advances())
		}
		if finished != 1 {
			t.Errorf("n=%d: expected exactly one finish, got %d", n, finished)
		}
		if !s.Exhausted() {
			t.Errorf("n=%d: expected sequencer to be exhausted", n)
		}
	}
}

func TestSequencer_OneStepPerNotification(t *testing.T) {
	tl := newTimeline("indicator")
	s := newSequencer(t, "indicator", tl, 3)
	s.Play()

	if s.Current() != "step_0" {
		t.Fatalf("expected step_0, got %s", s.Current())
	}
	tl.Update(stepDuration)
	if s.Current() != "step_1" {
		t.Errorf("expected step_1 after first completion, got %s", s.Current())
	}
	if tl.Running() != 1 {
		t.Errorf("expected exactly one running action, got %d", tl.Running())
	}
	tl.Update(stepDuration / 2)
	if s.Current() != "step_1" {
		t.Errorf("expected step_1 mid-clip, got %s", s.Current())
	}
	tl.Update(stepDuration / 2)
	if s.Current() != "step_2" {
		t.Errorf("expected step_2, got %s", s.Current())
	}
}

func TestSequencer_EmptySequenceFinishesWithoutSubscribing(t *testing.T) {
	tl := newTimeline("indicator")
	s := NewSequencer("indicator", tl)

	finished := 0
	s.OnFinish(func() { finished++ })
	if err := s.Play(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if finished != 1 {
		t.Errorf("expected immediate finish, got %d", finished)
	}
	if tl.ListenerCount() != 0 {
		t.Errorf("expected no timeline listener, got %d", tl.ListenerCount())
	}
}

func TestSequencer_IgnoresNotificationsAfterExhaustion(t *testing.T) {
	tl := newTimeline("node")
	s := newSequencer(t, "node", tl, 1)

	finished := 0
	s.OnFinish(func() { finished++ })
	s.Play()
	tl.Update(stepDuration)

	if tl.ListenerCount() != 0 {
		t.Errorf("expected listener removed after finish, got %d", tl.ListenerCount())
	}

	// A stray notification delivered after exhaustion.
	extra := tl.ClipAction(stepClip(t, "unrelated"))
	extra.SetLoop(anim.LoopOnce).Play()
	tl.Update(stepDuration)
	s.handleFinished(anim.FinishedEvent{Timeline: tl, Action: extra})

	if finished != 1 {
		t.Errorf("expected on_finish exactly once, got %d", finished)
	}
}

func TestSequencer_IgnoresUnrelatedClips(t *testing.T) {
	tl := newTimeline("node")
	s := newSequencer(t, "node", tl, 2)
	s.Play()

	other := tl.ClipAction(stepClip(t, "other"))
	other.SetLoop(anim.LoopOnce).Play()
	tl.Update(stepDuration / 2)

	// other is half done, step_0 is half done; finish only the unrelated one
	s.handleFinished(anim.FinishedEvent{Timeline: tl, Action: other})
	if s.Current() != "step_0" {
		t.Errorf("expected unrelated completion to be ignored, now at %s", s.Current())
	}
}

func TestSequencer_PlayAfterExhaustion(t *testing.T) {
	s := NewSequencer("node", newTimeline("node"))
	s.Play()
	if err := s.Play(); !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}
}

func TestSequencer_QueueUnknownStep(t *testing.T) {
	s := NewSequencer("node", newTimeline("node"))
	if err := s.QueueAction("fade_in"); !errors.Is(err, ErrUnknownStep) {
		t.Errorf("expected ErrUnknownStep, got %v", err)
	}
}

func TestSequencer_QueueDuringPlayback(t *testing.T) {
	tl := newTimeline("indicator")
	s := newSequencer(t, "indicator", tl, 1)
	extra := stepClip(t, "fade_out")
	s.RegisterClip(extra)

	finished := 0
	s.OnFinish(func() { finished++ })
	s.Play()
	tl.Update(stepDuration / 2)
	if err := s.QueueAction("fade_out"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tl.Update(stepDuration / 2)
	if finished != 0 {
		t.Fatalf("expected queued step to keep the sequencer running")
	}
	if s.Current() != "fade_out" {
		t.Errorf("expected fade_out, got %s", s.Current())
	}
	tl.Update(stepDuration)
	if finished != 1 {
		t.Errorf("expected finish after queued step, got %d", finished)
	}
}

func TestSequencer_CancelUnsubscribes(t *testing.T) {
	tl := newTimeline("node")
	s := newSequencer(t, "node", tl, 2)
	finished := 0
	s.OnFinish(func() { finished++ })
	s.Play()

	s.Cancel()
	tl.Update(stepDuration * 4)

	if finished != 0 {
		t.Errorf("expected no finish after cancel, got %d", finished)
	}
	if tl.ListenerCount() != 0 {
		t.Errorf("expected listener removed, got %d", tl.ListenerCount())
	}
	if tl.Running() != 0 {
		t.Errorf("expected current action stopped, got %d running", tl.Running())
	}
}
