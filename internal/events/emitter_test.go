package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEmitRejectsUnknownEvent(t *testing.T) {
	Clear()
	if _, err := Emit("info", "node.started", "", nil); err == nil {
		t.Fatal("expected error for unknown event")
	}
	if len(Snapshot()) != 0 {
		t.Errorf("expected rejected event not buffered, got %d", len(Snapshot()))
	}
}

func TestEmitReturnsJSON(t *testing.T) {
	Clear()
	b, err := Emit("error", "pipeline.stalled", "", map[string]interface{}{"choreography_id": "abc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if decoded["event"] != "pipeline.stalled" {
		t.Errorf("expected event 'pipeline.stalled', got %v", decoded["event"])
	}
	if decoded["level"] != "error" {
		t.Errorf("expected level 'error', got %v", decoded["level"])
	}
	if _, ok := decoded["msg"]; ok {
		t.Error("expected empty msg to be omitted")
	}
}

func TestRingBufferWrapsAndCountsTotal(t *testing.T) {
	rb := NewRingBuffer(4)
	for i := 0; i < 6; i++ {
		rb.Add(Event{Name: "loop.started", Fields: map[string]interface{}{"i": i}})
	}

	snap := rb.Snapshot()
	if len(snap) != 4 || rb.Len() != 4 {
		t.Fatalf("expected 4 buffered events, got %d", len(snap))
	}
	if snap[0].Fields["i"] != 2 || snap[3].Fields["i"] != 5 {
		t.Errorf("expected oldest-first window [2..5], got %v..%v", snap[0].Fields["i"], snap[3].Fields["i"])
	}
	if last := rb.Last(2); len(last) != 2 || last[0].Fields["i"] != 4 {
		t.Errorf("expected last two to start at i=4, got %v", last)
	}
	if rb.Total() != 6 {
		t.Errorf("expected total 6, got %d", rb.Total())
	}

	rb.Clear()
	if rb.Len() != 0 || len(rb.Last(3)) != 0 || rb.Total() != 0 {
		t.Error("expected empty buffer after Clear")
	}
}

func TestRingBufferPartialFill(t *testing.T) {
	rb := NewRingBuffer(0)
	rb.Add(Event{Name: "loop.started"})
	rb.Add(Event{Name: "loop.stopped"})
	if got := rb.Snapshot(); len(got) != 1 || got[0].Name != "loop.stopped" {
		t.Errorf("expected single-slot buffer to keep the newest event, got %v", got)
	}
}

func TestTotalCount(t *testing.T) {
	Clear()
	Emit("info", "loop.started", "", nil)
	Emit("info", "loop.stopped", "", nil)
	if TotalCount() != 2 {
		t.Errorf("expected 2, got %d", TotalCount())
	}
}

type appended struct {
	name, choreographyID string
}

type recordingAppender struct {
	mu   sync.Mutex
	rows []appended
	err  error
}

func (a *recordingAppender) Append(_ context.Context, _ time.Time, _, event, _ string, _ map[string]interface{}, choreographyID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, appended{event, choreographyID})
	return a.err
}

func (a *recordingAppender) names() []appended {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]appended(nil), a.rows...)
}

// stuckAppender never returns until released, like a database that
// accepted the connection and went silent.
type stuckAppender struct{ release chan struct{} }

func (a stuckAppender) Append(context.Context, time.Time, string, string, string, map[string]interface{}, string) error {
	<-a.release
	return nil
}

func flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := Flush(ctx); err != nil {
		t.Fatalf("persistence queue did not drain: %v", err)
	}
}

func TestEmitPersistsInOrder(t *testing.T) {
	rec := &recordingAppender{}
	SetAppender(rec)
	defer SetAppender(nil)

	Emit("info", "choreography.started", "", map[string]interface{}{"choreography_id": "c-1"})
	Emit("info", "chain.inserted", "", map[string]interface{}{"choreography_id": "c-1", "label": "a"})
	Emit("info", "loop.started", "", nil)
	flush(t)

	expected := []appended{{"choreography.started", "c-1"}, {"chain.inserted", "c-1"}, {"loop.started", ""}}
	got := rec.names()
	if len(got) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("row %d: expected %v, got %v", i, expected[i], got[i])
		}
	}
}

func TestEmitReportsFirstAppendFailureOnly(t *testing.T) {
	Clear()
	SetAppender(&recordingAppender{err: errors.New("disk full")})
	defer SetAppender(nil)

	for i := 0; i < 3; i++ {
		Emit("info", "sequencer.step", "", nil)
	}
	flush(t)

	reported := 0
	for _, e := range Snapshot() {
		if e.Name == "system.error" {
			reported++
			if e.Fields["error"] != "disk full" {
				t.Errorf("expected disk full, got %v", e.Fields["error"])
			}
		}
	}
	if reported != 1 {
		t.Errorf("expected one system.error, got %d", reported)
	}
}

func TestEmitDoesNotWaitForStuckDatabase(t *testing.T) {
	stuck := stuckAppender{release: make(chan struct{})}
	SetAppender(stuck)
	defer flush(t)
	defer close(stuck.release)
	defer SetAppender(nil)
	before := PersistDropped()

	done := make(chan struct{})
	go func() {
		for i := 0; i < persistQueueSize+10; i++ {
			Emit("info", "sequencer.step", "", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked behind a stuck appender")
	}

	// the writer holds at most one event while the queue is full
	if dropped := PersistDropped() - before; dropped < 9 || dropped > 10 {
		t.Errorf("expected 9 or 10 dropped events, got %d", dropped)
	}
}
