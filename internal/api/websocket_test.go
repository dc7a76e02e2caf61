package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AaronLay10/linkstage/internal/events"
	"github.com/gorilla/websocket"
)

// waitFor polls a condition until it returns true or timeout expires.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("timeout waiting for: %s", msg)
}

func dialEvents(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	var e events.Event
	if err := json.Unmarshal(msg, &e); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	return e
}

func TestWebSocketReceivesRecentEvents(t *testing.T) {
	events.Clear()
	for i := 0; i < 5; i++ {
		events.Emit("info", "chain.inserted", "", map[string]interface{}{"index": i})
	}

	server := httptest.NewServer(http.HandlerFunc(wsEventsHandler))
	defer server.Close()
	conn := dialEvents(t, server, "")
	defer conn.Close()

	for i := 0; i < 5; i++ {
		e := readEvent(t, conn)
		if e.Name != "chain.inserted" {
			t.Errorf("expected 'chain.inserted', got '%s'", e.Name)
		}
		if e.Fields["index"] != float64(i) {
			t.Errorf("expected index %d, got %v", i, e.Fields["index"])
		}
	}
}

func TestWebSocketReceivesNewEvents(t *testing.T) {
	events.Clear()
	events.CloseAllSubscribers()
	server := httptest.NewServer(http.HandlerFunc(wsEventsHandler))
	defer server.Close()
	conn := dialEvents(t, server, "")
	defer conn.Close()

	waitFor(t, time.Second, func() bool { return events.SubscriberCount() == 1 }, "subscriber")
	events.Emit("info", "chain.removed", "", map[string]interface{}{"label": "b"})

	e := readEvent(t, conn)
	if e.Name != "chain.removed" {
		t.Errorf("expected 'chain.removed', got '%s'", e.Name)
	}
	if e.Fields["label"] != "b" {
		t.Errorf("expected label 'b', got '%v'", e.Fields["label"])
	}
}

func TestWebSocketFiltersByPrefix(t *testing.T) {
	events.Clear()
	events.Emit("info", "sequencer.step", "", nil)
	events.Emit("info", "chain.inserted", "", map[string]interface{}{"label": "a"})

	server := httptest.NewServer(http.HandlerFunc(wsEventsHandler))
	defer server.Close()
	conn := dialEvents(t, server, "?event=chain.,pipeline.stalled")
	defer conn.Close()

	if e := readEvent(t, conn); e.Name != "chain.inserted" {
		t.Errorf("expected recent 'chain.inserted', got '%s'", e.Name)
	}

	events.Emit("info", "actor.attached", "", nil)
	events.Emit("error", "pipeline.stalled", "", nil)
	if e := readEvent(t, conn); e.Name != "pipeline.stalled" {
		t.Errorf("expected 'pipeline.stalled', got '%s'", e.Name)
	}
}

func TestEventFilter(t *testing.T) {
	f := parseEventFilter(" chain. , ,transport.")
	if len(f) != 2 {
		t.Fatalf("expected 2 prefixes, got %v", f)
	}
	if !f.match("transport.error") || f.match("sequencer.step") {
		t.Error("unexpected prefix match result")
	}
	if !parseEventFilter("").match("anything") {
		t.Error("expected empty filter to match everything")
	}
}

func TestWebSocketDisconnectCleansUp(t *testing.T) {
	events.Clear()
	events.CloseAllSubscribers()

	server := httptest.NewServer(http.HandlerFunc(wsEventsHandler))
	defer server.Close()
	conn := dialEvents(t, server, "")

	waitFor(t, time.Second, func() bool { return events.SubscriberCount() == 1 }, "subscriber")
	conn.Close()

	// the writer notices the close on its next send or the reader's error
	for i := 0; i < 5; i++ {
		events.Emit("info", "sequencer.step", "", nil)
		time.Sleep(50 * time.Millisecond)
	}
	waitFor(t, 5*time.Second, func() bool {
		return events.SubscriberCount() == 0
	}, "subscriber count to return to 0 after close")
}

func TestWebSocketMultipleClients(t *testing.T) {
	events.Clear()
	events.CloseAllSubscribers()
	server := httptest.NewServer(http.HandlerFunc(wsEventsHandler))
	defer server.Close()

	conn1 := dialEvents(t, server, "")
	defer conn1.Close()
	conn2 := dialEvents(t, server, "")
	defer conn2.Close()

	waitFor(t, time.Second, func() bool { return events.SubscriberCount() == 2 }, "two subscribers")
	events.Emit("info", "choreography.completed", "", map[string]interface{}{"choreography_id": "c1"})

	for i, conn := range []*websocket.Conn{conn1, conn2} {
		if e := readEvent(t, conn); e.Name != "choreography.completed" {
			t.Errorf("client%d: expected 'choreography.completed', got '%s'", i+1, e.Name)
		}
	}
}
