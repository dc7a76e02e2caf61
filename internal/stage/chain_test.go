package stage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cogentcore.org/core/math32"

	"github.com/AaronLay10/linkstage/internal/anim"
	"github.com/AaronLay10/linkstage/internal/choreo"
	"github.com/AaronLay10/linkstage/internal/events"
	"github.com/AaronLay10/linkstage/internal/storage/postgres"
)

const frame = 50 * time.Millisecond

func testOptions() Options {
	opts := DefaultOptions()
	opts.Layout.Offset = 10
	opts.Timing = Timing{FadeIn: 100 * time.Millisecond, FadeOut: 100 * time.Millisecond, Move: 50 * time.Millisecond}
	return opts
}

// recordingScene logs attach and detach calls by object name.
type recordingScene struct {
	*MemoryScene
	mu  sync.Mutex
	log []string
}

func newRecordingScene() *recordingScene {
	return &recordingScene{MemoryScene: NewMemoryScene()}
}

func (s *recordingScene) Attach(obj *anim.Object) {
	s.mu.Lock()
	s.log = append(s.log, "attach "+obj.Name)
	s.mu.Unlock()
	s.MemoryScene.Attach(obj)
}

func (s *recordingScene) Detach(obj *anim.Object) {
	s.mu.Lock()
	s.log = append(s.log, "detach "+obj.Name)
	s.mu.Unlock()
	s.MemoryScene.Detach(obj)
}

func (s *recordingScene) position(entry string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.log {
		if e == entry {
			return i
		}
	}
	return -1
}

// drive starts coord and ticks until it resolves, returning the tick count.
func drive(t *testing.T, loop *choreo.Loop, coord *choreo.Coordinator) int {
	t.Helper()
	coord.Start()
	ticks := 0
	for !coord.Resolved() {
		if ticks > 1000 {
			t.Fatal("choreography never resolved")
		}
		loop.Tick(frame)
		ticks++
	}
	return ticks
}

func insert(t *testing.T, loop *choreo.Loop, c *Chain, label string) int {
	t.Helper()
	coord, err := c.Build(choreo.Request{Op: choreo.OpInsert, Index: -1, Label: label})
	if err != nil {
		t.Fatalf("build insert %s: %v", label, err)
	}
	return drive(t, loop, coord)
}

func TestChain_FirstInsertSkipsIndicator(t *testing.T) {
	loop := choreo.NewLoop()
	scene := NewMemoryScene()
	c := NewChain(loop, scene, testOptions())

	// no indicator walk: node fade (2 ticks) then connector fade (2 ticks)
	if ticks := insert(t, loop, c, "0"); ticks != 4 {
		t.Errorf("expected 4 ticks, got %d", ticks)
	}

	p := c.Placements()
	if len(p) != 1 || p[0].Label != "0" || p[0].X != 0 {
		t.Fatalf("unexpected placements: %+v", p)
	}
	if _, ok := scene.Find("indicator-0"); ok {
		t.Error("expected indicator to be detached")
	}
	node, ok := scene.Find("node-0")
	if !ok {
		t.Fatal("expected node-0 in scene")
	}
	if node.Opacity != 1 {
		t.Errorf("expected node fully visible, got %v", node.Opacity)
	}
	if loop.Arena().Len() != 0 {
		t.Errorf("expected timelines retired, got %d", loop.Arena().Len())
	}
}

func TestChain_InsertWalksIndicator(t *testing.T) {
	loop := choreo.NewLoop()
	scene := NewMemoryScene()
	c := NewChain(loop, scene, testOptions())
	insert(t, loop, c, "a")
	insert(t, loop, c, "b")

	coord, err := c.Build(choreo.Request{Op: choreo.OpInsert, Index: 2, Label: "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	coord.Start()
	loop.Tick(frame)
	loop.Tick(frame)

	indicator, ok := scene.Find("indicator-c")
	if !ok {
		t.Fatal("expected indicator in scene while walking")
	}
	if indicator.Position.X != 20 {
		t.Errorf("expected indicator at x=20 after two moves, got %v", indicator.Position.X)
	}
	if node, _ := scene.Find("node-c"); node.Opacity != 0 {
		t.Errorf("expected node hidden until the indicator is gone, got %v", node.Opacity)
	}

	// fade_out, node fade_in, connector fade_in: two ticks each
	for i := 0; i < 6; i++ {
		if coord.Resolved() {
			t.Fatalf("resolved early at tick %d", i+3)
		}
		loop.Tick(frame)
	}
	if !coord.Resolved() {
		t.Fatal("expected resolution after 8 ticks")
	}

	p := c.Placements()
	if len(p) != 3 || p[2].Label != "c" || p[2].X != 20 {
		t.Errorf("unexpected placements: %+v", p)
	}
}

func TestChain_RejectsNonTailIndex(t *testing.T) {
	loop := choreo.NewLoop()
	c := NewChain(loop, NewMemoryScene(), testOptions())

	_, err := c.Build(choreo.Request{Op: choreo.OpInsert, Index: 3})
	if !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
	if loop.Arena().Len() != 0 {
		t.Errorf("expected no timelines allocated, got %d", loop.Arena().Len())
	}
}

func TestChain_DefaultLabels(t *testing.T) {
	loop := choreo.NewLoop()
	c := NewChain(loop, NewMemoryScene(), testOptions())
	insert(t, loop, c, "")
	insert(t, loop, c, "")

	p := c.Placements()
	if p[0].Label != "0" || p[1].Label != "1" {
		t.Errorf("expected labels 0 and 1, got %q and %q", p[0].Label, p[1].Label)
	}
}

func TestChain_RemoveTail(t *testing.T) {
	loop := choreo.NewLoop()
	scene := NewMemoryScene()
	c := NewChain(loop, scene, testOptions())
	insert(t, loop, c, "0")
	insert(t, loop, c, "1")

	coord, err := c.Build(choreo.Request{Op: choreo.OpRemove})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ticks := drive(t, loop, coord); ticks != 4 {
		t.Errorf("expected 4 ticks, got %d", ticks)
	}

	if c.Len() != 1 {
		t.Errorf("expected 1 node left, got %d", c.Len())
	}
	if _, ok := scene.Find("node-1"); ok {
		t.Error("expected node-1 detached")
	}
	if _, ok := scene.Find("connector-1"); ok {
		t.Error("expected connector-1 detached")
	}
	if scene.Len() != 2 {
		t.Errorf("expected node-0 and connector-0 left, got %d objects", scene.Len())
	}
}

func TestChain_RemoveFromEmptyIsNoop(t *testing.T) {
	loop := choreo.NewLoop()
	c := NewChain(loop, NewMemoryScene(), testOptions())

	coord, err := c.Build(choreo.Request{Op: choreo.OpRemove})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	coord.Start()
	if !coord.Resolved() {
		t.Error("expected empty removal to resolve on start")
	}
	if coord.Parts() != 0 {
		t.Errorf("expected no parts, got %d", coord.Parts())
	}
}

func TestChain_FailedInsertLeavesNoTrace(t *testing.T) {
	loop := choreo.NewLoop()
	scene := NewMemoryScene()
	c := NewChain(loop, scene, testOptions())

	coord, err := c.Build(choreo.Request{Op: choreo.OpInsert, Index: 0, Label: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	coord.Start()
	loop.Tick(frame)
	coord.Fail(choreo.ErrStalled)

	if c.Len() != 0 {
		t.Errorf("expected empty chain, got %d", c.Len())
	}
	if scene.Len() != 0 {
		t.Errorf("expected empty scene, got %d objects", scene.Len())
	}
}

func TestChain_Restore(t *testing.T) {
	loop := choreo.NewLoop()
	scene := NewMemoryScene()
	c := NewChain(loop, scene, testOptions())

	if err := c.Restore([]string{"a", "b", "c"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := c.Placements()
	if len(p) != 3 || p[1].X != 10 || p[2].Label != "c" {
		t.Errorf("unexpected placements: %+v", p)
	}
	if scene.Len() != 6 {
		t.Errorf("expected 6 objects, got %d", scene.Len())
	}
	if err := c.Restore([]string{"d"}); err == nil {
		t.Error("expected error restoring into a populated chain")
	}

	// restored chain keeps growing from the tail
	insert(t, loop, c, "")
	if p := c.Placements(); p[3].Label != "3" || p[3].X != 30 {
		t.Errorf("unexpected tail after restore: %+v", p[3])
	}
}

// runPipeline pushes reqs through a live loop and pipeline and returns the
// final placements and the scene log.
func runPipeline(t *testing.T, reqs []choreo.Request) ([]Placement, *recordingScene) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := choreo.NewLoop()
	scene := newRecordingScene()
	c := NewChain(loop, scene, testOptions())
	p := choreo.NewPipeline(loop, c)

	ticks := make(chan time.Duration)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx, ticks)
	}()
	go p.Run(ctx)

	for _, r := range reqs {
		p.Enqueue(r)
	}

	deadline := time.After(5 * time.Second)
	for p.Completed() < len(reqs) {
		select {
		case ticks <- frame:
		case <-deadline:
			t.Fatalf("timeout: %d of %d completed", p.Completed(), len(reqs))
		}
	}

	placements, err := c.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	cancel()
	<-loopDone
	return placements, scene
}

func TestPipeline_InsertionsCompleteInOrder(t *testing.T) {
	reqs := []choreo.Request{
		{Op: choreo.OpInsert, Index: 0, Label: "0"},
		{Op: choreo.OpInsert, Index: 1, Label: "1"},
		{Op: choreo.OpInsert, Index: 2, Label: "2"},
	}
	placements, scene := runPipeline(t, reqs)

	for i, p := range placements {
		if p.X != float32(i)*10 {
			t.Errorf("node %s: expected x=%d, got %v", p.Label, i*10, p.X)
		}
	}

	// request k+1 only touches the scene after request k resolved
	pairs := [][2]string{
		{"detach indicator-0", "attach indicator-1"},
		{"detach indicator-1", "attach indicator-2"},
	}
	for _, pair := range pairs {
		before, after := scene.position(pair[0]), scene.position(pair[1])
		if before < 0 || after < 0 || before > after {
			t.Errorf("expected %q before %q, log: %v", pair[0], pair[1], scene.log)
		}
	}
}

func TestPipeline_PlacementsAreDeterministic(t *testing.T) {
	reqs := []choreo.Request{
		{Op: choreo.OpInsert, Index: -1, Label: "a"},
		{Op: choreo.OpInsert, Index: -1, Label: "b"},
		{Op: choreo.OpRemove},
		{Op: choreo.OpInsert, Index: -1, Label: "c"},
		{Op: choreo.OpInsert, Index: -1, Label: "d"},
	}
	first, _ := runPipeline(t, reqs)
	second, _ := runPipeline(t, reqs)

	if len(first) != 3 || len(first) != len(second) {
		t.Fatalf("expected 3 placements twice, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("placement %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
	if first[1].Label != "c" || first[1].X != 10 {
		t.Errorf("expected c at x=10, got %+v", first[1])
	}
}

func inserted(id int64, index int, label string) postgres.EventRow {
	return postgres.EventRow{EventID: id, Event: "chain.inserted", Fields: map[string]interface{}{
		"index": float64(index), "label": label, "length": float64(index + 1),
	}}
}

func removed(id int64, index int) postgres.EventRow {
	return postgres.EventRow{EventID: id, Event: "chain.removed", Fields: map[string]interface{}{
		"index": float64(index), "length": float64(index), "noop": false,
	}}
}

func TestReplayLabels(t *testing.T) {
	rows := []postgres.EventRow{
		inserted(1, 0, "a"),
		inserted(2, 1, "b"),
		removed(3, 1),
		inserted(4, 1, "c"),
		{EventID: 5, Event: "chain.removed", Fields: map[string]interface{}{"noop": true, "length": float64(0)}},
	}
	labels, err := ReplayLabels(rows[:4])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(labels) != 2 || labels[0] != "a" || labels[1] != "c" {
		t.Errorf("expected [a c], got %v", labels)
	}

	if labels, err := ReplayLabels(nil); err != nil || len(labels) != 0 {
		t.Errorf("expected empty chain from no history, got %v, %v", labels, err)
	}
}

func TestReplayLabels_WindowKeepsNewestState(t *testing.T) {
	// full history: a b c inserted, c b removed, d e inserted -> [a d e];
	// the window starts after the first three inserts
	rows := []postgres.EventRow{
		removed(4, 2),
		removed(5, 1),
		inserted(6, 1, "d"),
		inserted(7, 2, "e"),
	}
	labels, err := ReplayLabels(rows)
	if !errors.Is(err, ErrHistoryTruncated) {
		t.Fatalf("expected ErrHistoryTruncated for slot 0, got %v", err)
	}
	if len(labels) != 0 {
		t.Errorf("expected no labels before the missing slot, got %v", labels)
	}

	// with slot 0 in the window the newest labels win, not the oldest
	rows = append([]postgres.EventRow{inserted(1, 0, "a"), inserted(3, 2, "c")}, rows...)
	labels, err = ReplayLabels(rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(labels) != 3 || labels[0] != "a" || labels[1] != "d" || labels[2] != "e" {
		t.Errorf("expected [a d e], got %v", labels)
	}
}

func TestReplayLabels_MissingIndex(t *testing.T) {
	rows := []postgres.EventRow{{EventID: 9, Event: "chain.inserted", Fields: map[string]interface{}{"label": "x"}}}
	if _, err := ReplayLabels(rows); err == nil {
		t.Error("expected error for an insert without index")
	}
}

func TestChain_CommitEventsReplay(t *testing.T) {
	events.Clear()
	loop := choreo.NewLoop()
	c := NewChain(loop, NewMemoryScene(), testOptions())
	insert(t, loop, c, "a")
	insert(t, loop, c, "b")
	coord, err := c.Build(choreo.Request{Op: choreo.OpRemove})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	drive(t, loop, coord)

	var rows []postgres.EventRow
	for i, e := range events.Snapshot() {
		if e.Name == "chain.inserted" || e.Name == "chain.removed" {
			rows = append(rows, postgres.EventRow{EventID: int64(i), Event: e.Name, Fields: e.Fields})
		}
	}
	labels, err := ReplayLabels(rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(labels) != 1 || labels[0] != "a" {
		t.Errorf("expected replay of emitted events to give [a], got %v", labels)
	}
}

type fakeSource struct {
	names []string
	rows  []postgres.EventRow
	err   error
}

func (f *fakeSource) QueryNamed(names []string, limit int) ([]postgres.EventRow, error) {
	f.names = names
	return f.rows, f.err
}

func TestRestoreLabels(t *testing.T) {
	src := &fakeSource{rows: []postgres.EventRow{inserted(1, 0, "x")}}
	labels, err := RestoreLabels(src, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(labels) != 1 || labels[0] != "x" {
		t.Errorf("expected [x], got %v", labels)
	}
	if len(src.names) != 2 {
		t.Errorf("expected query for 2 event names, got %v", src.names)
	}

	src.err = errors.New("connection refused")
	if _, err := RestoreLabels(src, 100); err == nil {
		t.Error("expected query error to propagate")
	}
}

func TestLayout(t *testing.T) {
	l := DefaultLayout()
	if got := l.NodePosition(3).X; got != 42 {
		t.Errorf("expected node 3 at x=42, got %v", got)
	}
	c := l.ConnectorPosition(1)
	if c.X != 16 || c.Z != 0.1 {
		t.Errorf("expected connector at (16, 0, 0.1), got %+v", c)
	}
	if l.ConnectorLength() != 10 {
		t.Errorf("expected connector length 10, got %v", l.ConnectorLength())
	}
	if got := l.IndicatorPosition(2); got.X != 28 || got.Y != 5 {
		t.Errorf("expected indicator above node 2, got %+v", got)
	}
}

func TestClipsTargetPropertyPaths(t *testing.T) {
	obj := anim.NewObject("node-x", math32.Vector3{}, DefaultPalette().Node)
	move, err := moveClip("iterate_1", 100*time.Millisecond, math32.Vec3(0, 5, 0), math32.Vec3(14, 5, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fade, err := fadeClip(StepFadeIn, 100*time.Millisecond, 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tl := anim.NewTimeline(obj)
	tl.ClipAction(move).SetClampWhenFinished(true).Play()
	tl.ClipAction(fade).SetClampWhenFinished(true).Play()
	tl.Update(100 * time.Millisecond)

	if obj.Position != math32.Vec3(14, 5, 0) {
		t.Errorf("expected move to end at (14, 5, 0), got %+v", obj.Position)
	}
	if obj.Opacity != 1 {
		t.Errorf("expected fade to end at 1, got %v", obj.Opacity)
	}

	if _, err := pathClip("bad", time.Second, ".material.color", []float32{0, 1}); !errors.Is(err, anim.ErrUnknownPath) {
		t.Errorf("expected ErrUnknownPath, got %v", err)
	}
}
