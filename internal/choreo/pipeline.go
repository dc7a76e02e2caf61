package choreo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AaronLay10/linkstage/internal/events"
)

// Op selects the kind of structural change a request makes.
type Op int

const (
	OpInsert Op = iota
	OpRemove
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpRemove:
		return "remove"
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// Request asks for one element to be inserted or removed.
// Index is the 0-based position of the new element; a negative Index appends.
type Request struct {
	Op    Op
	Index int
	Label string
}

// Builder constructs the choreography for a request. Build runs on the loop goroutine.
type Builder interface {
	Build(req Request) (*Coordinator, error)
}

// Pipeline executes requests strictly in FIFO order. A request's choreography
// is not built until the previous one resolved, so at most one runs at a time.
type Pipeline struct {
	loop    *Loop
	builder Builder

	// StallTimeout bounds how long a single choreography may run.
	// Zero waits forever.
	StallTimeout time.Duration

	mu      sync.Mutex
	queue   []Request
	wake    chan struct{}
	running atomic.Bool

	completed atomic.Int64
	rejected  atomic.Int64
}

// NewPipeline creates a pipeline that builds choreographies with b and runs them on loop.
func NewPipeline(loop *Loop, b Builder) *Pipeline {
	return &Pipeline{
		loop:    loop,
		builder: b,
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue appends req to the queue. Safe from any goroutine.
func (p *Pipeline) Enqueue(req Request) {
	p.mu.Lock()
	p.queue = append(p.queue, req)
	pending := len(p.queue)
	p.mu.Unlock()

	events.Emit("info", "pipeline.enqueued", "", map[string]interface{}{
		"op":      req.Op.String(),
		"index":   req.Index,
		"label":   req.Label,
		"pending": pending,
	})

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of requests not yet started.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Completed returns the number of choreographies that resolved successfully.
func (p *Pipeline) Completed() int { return int(p.completed.Load()) }

// Rejected returns the number of requests the builder refused.
func (p *Pipeline) Rejected() int { return int(p.rejected.Load()) }

// Busy reports whether a choreography is currently running.
func (p *Pipeline) Busy() bool { return p.running.Load() }

func (p *Pipeline) next(ctx context.Context) (Request, bool) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			req := p.queue[0]
			p.queue = p.queue[1:]
			p.mu.Unlock()
			return req, true
		}
		p.mu.Unlock()

		select {
		case <-p.wake:
		case <-ctx.Done():
			return Request{}, false
		}
	}
}

// Run processes requests until ctx is done. It returns ErrStalled (wrapped)
// when a choreography exceeds StallTimeout; later requests are left queued.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		req, ok := p.next(ctx)
		if !ok {
			return ctx.Err()
		}
		if err := p.process(ctx, req); err != nil {
			return err
		}
		if p.Pending() == 0 {
			events.Emit("info", "pipeline.idle", "", map[string]interface{}{
				"completed": p.Completed(),
			})
		}
	}
}

func (p *Pipeline) process(ctx context.Context, req Request) error {
	var (
		c        *Coordinator
		buildErr error
	)
	err := p.loop.Do(ctx, func() {
		c, buildErr = p.builder.Build(req)
		if buildErr == nil {
			events.Emit("info", "pipeline.started", "", map[string]interface{}{
				"op":              req.Op.String(),
				"label":           req.Label,
				"choreography_id": c.ID(),
			})
			c.Start()
		}
	})
	if err != nil {
		return err
	}
	if buildErr != nil {
		p.rejected.Add(1)
		events.Emit("error", "system.error", "request rejected", map[string]interface{}{
			"op":    req.Op.String(),
			"index": req.Index,
			"error": buildErr.Error(),
		})
		return nil
	}

	p.running.Store(true)
	defer p.running.Store(false)

	if err := p.wait(ctx, c); err != nil {
		return err
	}
	p.completed.Add(1)
	return nil
}

func (p *Pipeline) wait(ctx context.Context, c *Coordinator) error {
	var timeout <-chan time.Time
	if p.StallTimeout > 0 {
		timer := time.NewTimer(p.StallTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-c.Done():
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
	}

	if err := p.loop.Do(ctx, func() { c.Fail(ErrStalled) }); err != nil {
		return err
	}
	<-c.Done()
	if !errors.Is(c.Err(), ErrStalled) {
		// resolved while the timeout fired
		return c.Err()
	}

	events.Emit("error", "pipeline.stalled", "", map[string]interface{}{
		"choreography_id": c.ID(),
		"timeout":         p.StallTimeout.String(),
		"pending":         p.Pending(),
	})
	return fmt.Errorf("choreography %s: %w", c.ID(), ErrStalled)
}
