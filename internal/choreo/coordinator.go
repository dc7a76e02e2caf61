package choreo

import (
	"fmt"

	"github.com/AaronLay10/linkstage/internal/events"
)

// Part is one actor's contribution to a choreography.
type Part struct {
	Actor     string
	Handle    Handle
	Sequencer *Sequencer
}

// Coordinator runs the sequencers of one logical operation strictly in order:
// each part starts only after the previous part's sequencer finished, and the
// whole operation resolves once, when the last part finishes or it is failed.
type Coordinator struct {
	id      string
	stage   Stage
	parts   []Part
	current int

	started   bool
	resolved  bool
	err       error
	done      chan struct{}
	onStart   []func()
	onResolve []func(error)
}

// NewCoordinator wires parts in the given order. Each part's timeline must
// already be allocated in the stage's arena.
func NewCoordinator(id string, stage Stage, parts ...Part) *Coordinator {
	c := &Coordinator{
		id:    id,
		stage: stage,
		parts: append([]Part(nil), parts...),
		done:  make(chan struct{}),
	}
	for i := range c.parts {
		if i == len(c.parts)-1 {
			c.parts[i].Sequencer.OnFinish(func() { c.resolve(nil) })
		} else {
			c.parts[i].Sequencer.OnFinish(func() { c.handoff(i) })
		}
	}
	return c
}

// ID returns the choreography id.
func (c *Coordinator) ID() string { return c.id }

// Parts returns the number of actors in the choreography.
func (c *Coordinator) Parts() int { return len(c.parts) }

// Current returns the index of the part being played.
func (c *Coordinator) Current() int { return c.current }

// OnStart registers fn to run when Start is called, before the first part plays.
func (c *Coordinator) OnStart(fn func()) {
	c.onStart = append(c.onStart, fn)
}

// OnResolve registers fn to run when the choreography completes or fails.
func (c *Coordinator) OnResolve(fn func(err error)) {
	c.onResolve = append(c.onResolve, fn)
}

// Start activates the first part and plays it. Calling Start twice is a no-op.
func (c *Coordinator) Start() {
	if c.started {
		return
	}
	c.started = true

	for _, fn := range c.onStart {
		fn()
	}
	events.Emit("info", "choreography.started", "", map[string]interface{}{
		"choreography_id": c.id,
		"parts":           len(c.parts),
	})

	if len(c.parts) == 0 {
		c.resolve(nil)
		return
	}
	c.play(0)
}

// play starts part i. A part whose sequencer was already cancelled can
// never finish, so the choreography fails with that cause instead.
func (c *Coordinator) play(i int) {
	c.current = i
	p := c.parts[i]
	c.stage.Activate(p.Handle)
	if err := p.Sequencer.Play(); err != nil {
		c.resolve(fmt.Errorf("part %s: %w", p.Actor, err))
	}
}

func (c *Coordinator) handoff(i int) {
	if c.resolved {
		return
	}
	from, to := c.parts[i], c.parts[i+1]
	c.stage.Deactivate(from.Handle)
	events.Emit("info", "choreography.handoff", "", map[string]interface{}{
		"choreography_id": c.id,
		"from":            from.Actor,
		"to":              to.Actor,
	})
	c.play(i + 1)
}

// Fail resolves the choreography with err, cancelling the part in progress.
// It has no effect once the choreography resolved.
func (c *Coordinator) Fail(err error) {
	if c.resolved {
		return
	}
	if c.started && len(c.parts) > 0 {
		c.parts[c.current].Sequencer.Cancel()
	}
	c.resolve(err)
}

func (c *Coordinator) resolve(err error) {
	if c.resolved {
		return
	}
	c.resolved = true
	c.err = err

	for _, p := range c.parts {
		c.stage.Retire(p.Handle)
	}

	fields := map[string]interface{}{"choreography_id": c.id}
	if err != nil {
		fields["error"] = err.Error()
		events.Emit("error", "choreography.failed", err.Error(), fields)
	} else {
		events.Emit("info", "choreography.completed", "", fields)
	}

	for _, fn := range c.onResolve {
		fn(err)
	}
	close(c.done)
}

// Done is closed once the choreography resolved.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Err returns the failure cause. It is only meaningful after Done is closed.
func (c *Coordinator) Err() error { return c.err }

// Resolved reports whether the choreography finished or failed.
// It must be called from the loop goroutine; other goroutines use Done.
func (c *Coordinator) Resolved() bool { return c.resolved }
