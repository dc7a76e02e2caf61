package stage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cogentcore.org/core/math32"
	"github.com/google/uuid"

	"github.com/AaronLay10/linkstage/internal/anim"
	"github.com/AaronLay10/linkstage/internal/choreo"
	"github.com/AaronLay10/linkstage/internal/events"
)

var (
	ErrIndexOutOfRange = errors.New("index out of range")
	errPopulated       = errors.New("chain already populated")
)

// Step names used by the chain's choreographies.
const (
	StepFadeIn  = "fade_in"
	StepFadeOut = "fade_out"
)

// IterateStep names the indicator move onto slot i.
func IterateStep(i int) string {
	return "iterate_" + strconv.Itoa(i)
}

// Placement is the committed position of one node.
type Placement struct {
	Label string  `json:"label"`
	Index int     `json:"index"`
	X     float32 `json:"x"`
}

type link struct {
	label     string
	node      *anim.Object
	connector *anim.Object
}

// Options configures a Chain.
type Options struct {
	Layout  Layout
	Timing  Timing
	Palette Palette
}

func DefaultOptions() Options {
	return Options{
		Layout:  DefaultLayout(),
		Timing:  DefaultTiming(),
		Palette: DefaultPalette(),
	}
}

// Chain is the visualised linked list. It builds one choreography per
// request and commits the structural change when that choreography resolves.
//
// A Chain belongs to the loop goroutine: Build, Placements, Len and Restore
// must run there. Other goroutines use Snapshot.
type Chain struct {
	loop  *choreo.Loop
	scene Scene
	opts  Options
	links []link
}

// NewChain creates an empty chain that allocates timelines in loop's arena.
func NewChain(loop *choreo.Loop, scene Scene, opts Options) *Chain {
	return &Chain{
		loop:  loop,
		scene: scene,
		opts:  opts,
	}
}

// Len returns the number of committed nodes.
func (c *Chain) Len() int { return len(c.links) }

// Placements returns the committed nodes in chain order.
func (c *Chain) Placements() []Placement {
	out := make([]Placement, len(c.links))
	for i, l := range c.links {
		out[i] = Placement{Label: l.label, Index: i, X: l.node.Position.X}
	}
	return out
}

// Snapshot returns Placements read on the loop goroutine.
func (c *Chain) Snapshot(ctx context.Context) ([]Placement, error) {
	var out []Placement
	err := c.loop.Do(ctx, func() { out = c.Placements() })
	return out, err
}

// Build implements choreo.Builder.
func (c *Chain) Build(req choreo.Request) (*choreo.Coordinator, error) {
	switch req.Op {
	case choreo.OpInsert:
		return c.buildInsert(req)
	case choreo.OpRemove:
		return c.buildRemove()
	}
	return nil, fmt.Errorf("unsupported op %s", req.Op)
}

// buildInsert creates the indicator, node and connector for a new tail node.
// The indicator walks from slot 0 to the new slot and fades out, then the
// node fades in, then the connector.
func (c *Chain) buildInsert(req choreo.Request) (*choreo.Coordinator, error) {
	index := req.Index
	if index < 0 {
		index = len(c.links)
	}
	if index != len(c.links) {
		return nil, fmt.Errorf("insert at %d into chain of %d: %w", index, len(c.links), ErrIndexOutOfRange)
	}
	label := req.Label
	if label == "" {
		label = strconv.Itoa(len(c.links))
	}

	lay, tm, pal := c.opts.Layout, c.opts.Timing, c.opts.Palette

	indicator := anim.NewObject("indicator-"+label, lay.IndicatorPosition(0), pal.Indicator)
	node := anim.NewObject("node-"+label, lay.NodePosition(index), pal.Node)
	connector := anim.NewObject("connector-"+label, lay.ConnectorPosition(index), pal.Connector)
	for _, o := range []*anim.Object{indicator, node, connector} {
		o.Label = label
	}

	var walk []*anim.Clip
	if index > 0 {
		indicator.Opacity = 1
		for i := 1; i <= index; i++ {
			clip, err := moveClip(IterateStep(i), tm.Move, lay.IndicatorPosition(i-1), lay.IndicatorPosition(i))
			if err != nil {
				return nil, err
			}
			walk = append(walk, clip)
		}
		out, err := fadeClip(StepFadeOut, tm.FadeOut, 1, 0)
		if err != nil {
			return nil, err
		}
		walk = append(walk, out)
	}
	nodeIn, err := fadeClip(StepFadeIn, tm.FadeIn, 0, 1)
	if err != nil {
		return nil, err
	}
	connectorIn, err := fadeClip(StepFadeIn, tm.FadeIn, 0, 1)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	coord := choreo.NewCoordinator(id, c.loop,
		c.part(indicator, walk...),
		c.part(node, nodeIn),
		c.part(connector, connectorIn),
	)
	coord.OnStart(func() {
		c.attach(id, indicator, node, connector)
	})
	coord.OnResolve(func(err error) {
		c.detach(id, indicator)
		if err != nil {
			c.detach(id, node, connector)
			return
		}
		c.links = append(c.links, link{label: label, node: node, connector: connector})
		events.Emit("info", "chain.inserted", "", map[string]interface{}{
			"choreography_id": id,
			"label":           label,
			"index":           index,
			"length":          len(c.links),
			"x":               node.Position.X,
		})
	})
	return coord, nil
}

// buildRemove fades out the tail connector, then the tail node, and detaches
// both. On an empty chain it returns a choreography with no parts.
func (c *Chain) buildRemove() (*choreo.Coordinator, error) {
	id := uuid.NewString()
	if len(c.links) == 0 {
		coord := choreo.NewCoordinator(id, c.loop)
		coord.OnResolve(func(error) {
			events.Emit("info", "chain.removed", "", map[string]interface{}{
				"choreography_id": id,
				"length":          0,
				"noop":            true,
			})
		})
		return coord, nil
	}

	index := len(c.links) - 1
	tail := c.links[index]
	tm := c.opts.Timing

	connectorOut, err := fadeClip(StepFadeOut, tm.FadeOut, 1, 0)
	if err != nil {
		return nil, err
	}
	nodeOut, err := fadeClip(StepFadeOut, tm.FadeOut, 1, 0)
	if err != nil {
		return nil, err
	}

	coord := choreo.NewCoordinator(id, c.loop,
		c.part(tail.connector, connectorOut),
		c.part(tail.node, nodeOut),
	)
	coord.OnResolve(func(err error) {
		if err != nil {
			tail.connector.Opacity = 1
			tail.node.Opacity = 1
			return
		}
		c.detach(id, tail.connector, tail.node)
		c.links = c.links[:index]
		events.Emit("info", "chain.removed", "", map[string]interface{}{
			"choreography_id": id,
			"label":           tail.label,
			"index":           index,
			"length":          len(c.links),
			"noop":            false,
		})
	})
	return coord, nil
}

// Restore replaces the chain with fully visible nodes for labels, without
// animation. It must only be called before any request is processed.
func (c *Chain) Restore(labels []string) error {
	if len(c.links) > 0 {
		return errPopulated
	}
	lay, pal := c.opts.Layout, c.opts.Palette
	for i, label := range labels {
		node := anim.NewObject("node-"+label, lay.NodePosition(i), pal.Node)
		connector := anim.NewObject("connector-"+label, lay.ConnectorPosition(i), pal.Connector)
		node.Label, connector.Label = label, label
		node.Opacity, connector.Opacity = 1, 1
		c.attach("", node, connector)
		c.links = append(c.links, link{label: label, node: node, connector: connector})
	}
	events.Emit("info", "system.startup_restore", "", map[string]interface{}{
		"nodes": len(labels),
	})
	return nil
}

func (c *Chain) part(obj *anim.Object, clips ...*anim.Clip) choreo.Part {
	tl := anim.NewTimeline(obj)
	seq := choreo.NewSequencer(obj.Name, tl)
	for _, clip := range clips {
		seq.RegisterClip(clip)
		_ = seq.QueueAction(clip.Name())
	}
	return choreo.Part{
		Actor:     obj.Name,
		Handle:    c.loop.Arena().Alloc(tl),
		Sequencer: seq,
	}
}

func (c *Chain) attach(id string, objs ...*anim.Object) {
	for _, o := range objs {
		c.scene.Attach(o)
		events.Emit("info", "actor.attached", "", actorFields(id, o))
	}
}

func (c *Chain) detach(id string, objs ...*anim.Object) {
	for _, o := range objs {
		c.scene.Detach(o)
		events.Emit("info", "actor.detached", "", actorFields(id, o))
	}
}

func actorFields(id string, o *anim.Object) map[string]interface{} {
	fields := map[string]interface{}{
		"actor": o.Name,
		"label": o.Label,
	}
	if id != "" {
		fields["choreography_id"] = id
	}
	return fields
}

func moveClip(name string, d time.Duration, from, to math32.Vector3) (*anim.Clip, error) {
	return pathClip(name, d, anim.PathPosition, []float32{from.X, from.Y, from.Z, to.X, to.Y, to.Z})
}

func fadeClip(name string, d time.Duration, from, to float32) (*anim.Clip, error) {
	return pathClip(name, d, anim.PathOpacity, []float32{from, to})
}

// pathClip builds a two-key clip for the property at path.
func pathClip(name string, d time.Duration, path string, values []float32) (*anim.Clip, error) {
	track, err := anim.ParseTrack(path, keys(d), values)
	if err != nil {
		return nil, fmt.Errorf("clip %s: %w", name, err)
	}
	return anim.NewClip(name, d, track)
}

func keys(d time.Duration) []time.Duration {
	return []time.Duration{0, d}
}
