package choreo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AaronLay10/linkstage/internal/anim"
	"github.com/AaronLay10/linkstage/internal/events"
)

// Frame describes one completed tick.
type Frame struct {
	Seq     uint64
	Delta   time.Duration
	Elapsed time.Duration
}

// Stage is the part of the frame loop a choreography uses to hand timelines
// in and out of the active set.
type Stage interface {
	Activate(h Handle)
	Deactivate(h Handle)
	Retire(h Handle)
}

// Loop advances active timelines once per frame.
//
// All timeline, sequencer and coordinator state belongs to the goroutine
// calling Tick (or Run). Other goroutines reach that state through Do.
type Loop struct {
	arena   *Arena
	active  ActiveSet
	elapsed time.Duration
	onFrame []func(Frame)

	frames    atomic.Uint64
	activeLen atomic.Int64

	cmds     chan func()
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewLoop creates a frame loop with an empty arena.
func NewLoop() *Loop {
	return &Loop{
		arena:   NewArena(),
		cmds:    make(chan func()),
		stopped: make(chan struct{}),
	}
}

// Arena returns the loop's timeline arena.
func (l *Loop) Arena() *Arena { return l.arena }

// Active returns the current active set.
func (l *Loop) Active() ActiveSet { return l.active }

// Activate adds h to the active set.
func (l *Loop) Activate(h Handle) {
	l.setActive(l.active.Add(h))
}

// Deactivate removes h from the active set. The timeline stays in the arena.
func (l *Loop) Deactivate(h Handle) {
	l.setActive(l.active.Remove(h))
}

// Retire removes h from the active set and releases it from the arena.
func (l *Loop) Retire(h Handle) {
	l.setActive(l.active.Remove(h))
	l.arena.Release(h)
}

func (l *Loop) setActive(s ActiveSet) {
	l.active = s
	l.activeLen.Store(int64(s.Len()))
}

// OnFrame registers fn to run after every tick, once all timelines have advanced.
// This is where rendering hooks in.
func (l *Loop) OnFrame(fn func(Frame)) {
	l.onFrame = append(l.onFrame, fn)
}

// Tick advances every timeline in the active set by delta, then runs frame hooks.
// Completion notifications fire synchronously inside Tick; any set changes they
// make apply from the next tick on.
func (l *Loop) Tick(delta time.Duration) {
	set := l.active
	for _, h := range set.handles {
		if tl := l.arena.Get(h); tl != nil {
			tl.Update(delta)
		}
	}
	l.elapsed += delta
	f := Frame{Seq: l.frames.Add(1), Delta: delta, Elapsed: l.elapsed}
	for _, fn := range l.onFrame {
		fn(f)
	}
}

// Frames returns the number of ticks so far. Safe from any goroutine.
func (l *Loop) Frames() uint64 { return l.frames.Load() }

// ActiveCount returns the size of the active set. Safe from any goroutine.
func (l *Loop) ActiveCount() int { return int(l.activeLen.Load()) }

// Timeline returns the timeline behind h, or nil.
func (l *Loop) Timeline(h Handle) *anim.Timeline { return l.arena.Get(h) }

// Run ticks the loop for every delta received on ticks and executes functions
// passed to Do between ticks. It returns when ctx is done or ticks is closed.
func (l *Loop) Run(ctx context.Context, ticks <-chan time.Duration) error {
	events.Emit("info", "loop.started", "", nil)
	defer func() {
		l.stopOnce.Do(func() { close(l.stopped) })
		events.Emit("info", "loop.stopped", "", map[string]interface{}{
			"frames": l.Frames(),
		})
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-ticks:
			if !ok {
				return nil
			}
			l.Tick(d)
		case fn := <-l.cmds:
			fn()
		}
	}
}

// Do runs fn on the loop goroutine and waits for it to return.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	select {
	case l.cmds <- wrapped:
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	<-done
	return nil
}

// WallClock emits the measured wall time between ticks of a ticker with the given interval.
// The channel closes when ctx is done.
func WallClock(ctx context.Context, interval time.Duration) <-chan time.Duration {
	out := make(chan time.Duration)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				delta := now.Sub(last)
				last = now
				select {
				case out <- delta:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
