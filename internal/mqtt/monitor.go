package mqtt

import (
	"context"
	"sort"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/linkstage/internal/events"
)

// RendererState is the last known presence of one renderer.
type RendererState struct {
	RendererID   string    `json:"renderer_id"`
	Kind         string    `json:"kind"`
	LastSeen     time.Time `json:"last_seen"`
	HeartbeatSec int       `json:"heartbeat_sec"`
	Connected    bool      `json:"connected"`
}

// deadline is when the renderer counts as gone without another hello.
func (s RendererState) deadline(tolerance float64) time.Time {
	grace := time.Duration(float64(s.HeartbeatSec) * tolerance * float64(time.Second))
	return s.LastSeen.Add(grace)
}

// Monitor follows renderer hellos and marks a renderer disconnected once it
// misses tolerance heartbeats in a row.
type Monitor struct {
	tolerance float64
	now       func() time.Time

	mu        sync.RWMutex
	renderers map[string]RendererState
}

// NewMonitor returns a monitor; tolerance values of 1 or less become 2.
func NewMonitor(tolerance float64) *Monitor {
	if tolerance <= 1 {
		tolerance = 2
	}
	return &Monitor{
		tolerance: tolerance,
		now:       time.Now,
		renderers: make(map[string]RendererState),
	}
}

// HelloTopic matches every renderer's hello under prefix.
func HelloTopic(prefix string) string {
	return prefix + "/renderer/+/hello"
}

// Handler decodes hello payloads; undecodable ones emit transport.error.
func (m *Monitor) Handler() paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		hello, err := ParseHello(msg.Payload())
		if err != nil {
			events.Emit("error", "transport.error", "bad renderer hello", map[string]interface{}{
				"topic": msg.Topic(),
				"error": err.Error(),
			})
			return
		}
		m.HandleHello(hello)
	}
}

// HandleHello refreshes a renderer. A renderer that was unknown or timed
// out is announced with transport.connected.
func (m *Monitor) HandleHello(hello *HelloPayload) {
	info := hello.Renderer
	m.mu.Lock()
	prev, seen := m.renderers[info.ID]
	m.renderers[info.ID] = RendererState{
		RendererID:   info.ID,
		Kind:         info.Kind,
		LastSeen:     m.now(),
		HeartbeatSec: info.HeartbeatSec,
		Connected:    true,
	}
	m.mu.Unlock()

	if !seen || !prev.Connected {
		events.Emit("info", "transport.connected", "", map[string]interface{}{
			"renderer_id": info.ID,
			"kind":        info.Kind,
			"reconnect":   seen,
		})
	}
}

// Run sweeps for expired renderers every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Monitor) sweep() {
	now := m.now()

	m.mu.Lock()
	var expired []RendererState
	for id, st := range m.renderers {
		if st.Connected && now.After(st.deadline(m.tolerance)) {
			st.Connected = false
			m.renderers[id] = st
			expired = append(expired, st)
		}
	}
	m.mu.Unlock()

	for _, st := range expired {
		events.Emit("warning", "transport.disconnected", "heartbeat timeout", map[string]interface{}{
			"renderer_id": st.RendererID,
			"last_seen":   st.LastSeen.Format(time.RFC3339),
			"timeout_sec": st.deadline(m.tolerance).Sub(st.LastSeen).Seconds(),
		})
	}
}

// Renderer returns the state of id, or nil if it never said hello.
func (m *Monitor) Renderer(id string) *RendererState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.renderers[id]
	if !ok {
		return nil
	}
	return &st
}

// Renderers lists every known renderer ordered by id.
func (m *Monitor) Renderers() []RendererState {
	m.mu.RLock()
	out := make([]RendererState, 0, len(m.renderers))
	for _, st := range m.renderers {
		out = append(out, st)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RendererID < out[j].RendererID })
	return out
}

func (m *Monitor) ConnectedRenderers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, st := range m.renderers {
		if st.Connected {
			n++
		}
	}
	return n
}
