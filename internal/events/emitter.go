package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AaronLay10/linkstage/internal/storage/postgres"
)

const historySize = 256

var history = NewRingBuffer(historySize)

// Event is one structured log record. Its JSON form is what the websocket,
// the events endpoint and --log-events print.
type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

const (
	persistQueueSize = 1024
	appendTimeout    = 5 * time.Second
)

// Appender persists one event. *postgres.Client implements it.
type Appender interface {
	Append(ctx context.Context, ts time.Time, level, event, msg string, fields map[string]interface{}, choreographyID string) error
}

type persisted struct {
	ts time.Time
	e  Event
}

// sink hands events to a single writer goroutine through a bounded queue so
// Emit never waits on the database. A full queue drops the event and counts
// it. Only the first append failure is reported until the sink is reset.
type sink struct {
	mu       sync.RWMutex
	client   *postgres.Client
	appender Appender
	reported bool

	queue   chan persisted
	start   sync.Once
	pending atomic.Int64
	dropped atomic.Uint64
}

var store = &sink{queue: make(chan persisted, persistQueueSize)}

// SetPostgresClient enables persistence. A nil client disables it.
func SetPostgresClient(client *postgres.Client) {
	if client == nil {
		store.set(nil, nil)
		return
	}
	store.set(client, client)
}

// SetAppender persists through a instead of Postgres; nil disables
// persistence. GetPostgresClient returns nil afterwards.
func SetAppender(a Appender) {
	store.set(nil, a)
}

// GetPostgresClient returns the client used for persistence and the
// db-backed events query, or nil.
func GetPostgresClient() *postgres.Client {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return store.client
}

// PersistDropped returns how many events were not persisted because the
// writer queue was full.
func PersistDropped() uint64 {
	return store.dropped.Load()
}

// Flush waits until every queued event has been handed to the appender, or
// ctx is done.
func Flush(ctx context.Context) error {
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for store.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
	return nil
}

func (s *sink) set(client *postgres.Client, a Appender) {
	s.mu.Lock()
	s.client, s.appender, s.reported = client, a, false
	s.mu.Unlock()
}

func (s *sink) current() Appender {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appender
}

func (s *sink) enqueue(ts time.Time, e Event) {
	if s.current() == nil {
		return
	}
	s.start.Do(func() { go s.run() })
	s.pending.Add(1)
	select {
	case s.queue <- persisted{ts: ts, e: e}:
	default:
		s.pending.Add(-1)
		s.dropped.Add(1)
	}
}

func (s *sink) run() {
	for p := range s.queue {
		s.write(p.ts, p.e)
		s.pending.Add(-1)
	}
}

func (s *sink) write(ts time.Time, e Event) {
	a := s.current()
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	id, _ := e.Fields["choreography_id"].(string)
	err := a.Append(ctx, ts, e.Level, e.Name, e.Message, e.Fields, id)
	if err == nil {
		return
	}

	s.mu.Lock()
	first := !s.reported
	s.reported = true
	s.mu.Unlock()
	if first {
		// recorded without persistence so a broken database cannot recurse
		record(Event{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Level:     "error",
			Name:      "system.error",
			Message:   "postgres append failed",
			Fields:    map[string]interface{}{"error": err.Error()},
		})
	}
}

func record(e Event) {
	history.Add(e)
	subscribers.publish(e)
}

// Emit validates name against the registry, buffers and publishes the event,
// and queues it for persistence. It returns the event's JSON encoding.
func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}
	record(e)
	store.enqueue(ts, e)

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", name, err)
	}
	return b, nil
}

// Snapshot returns every buffered event, oldest first.
func Snapshot() []Event { return history.Snapshot() }

// TotalCount returns the number of events emitted since startup or the last Clear.
func TotalCount() uint64 { return history.Total() }

// Clear empties the history buffer.
func Clear() { history.Clear() }
