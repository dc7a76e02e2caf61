package api

import (
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/AaronLay10/linkstage/internal/events"
	"github.com/AaronLay10/linkstage/internal/mqtt"
	"github.com/AaronLay10/linkstage/internal/version"
)

// LoopStats exposes frame loop counters safe to read from any goroutine.
type LoopStats interface {
	Frames() uint64
	ActiveCount() int
}

// RendererDirectory reports the renderers mirroring the scene.
type RendererDirectory interface {
	ConnectedRenderers() int
	Renderers() []mqtt.RendererState
}

var metricsState = &MetricsState{}

// MetricsState holds runtime metrics for the /metrics endpoint.
type MetricsState struct {
	mu        sync.RWMutex
	startTime time.Time
	stageID   string
	loop      LoopStats
	renderers RendererDirectory
}

// InitMetrics records the start time. Must be called at startup.
func InitMetrics(stageID string) {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.startTime = time.Now()
	metricsState.stageID = stageID
}

// StageID returns the stage label used by metrics and alerts.
func StageID() string {
	metricsState.mu.RLock()
	defer metricsState.mu.RUnlock()
	return metricsState.stageID
}

// SetLoopStats sets the loop whose counters are exported.
func SetLoopStats(l LoopStats) {
	metricsState.mu.Lock()
	metricsState.loop = l
	metricsState.mu.Unlock()
}

// SetRenderers sets the renderer presence source.
func SetRenderers(rd RendererDirectory) {
	metricsState.mu.Lock()
	metricsState.renderers = rd
	metricsState.mu.Unlock()
}

func rendererDirectory() RendererDirectory {
	metricsState.mu.RLock()
	defer metricsState.mu.RUnlock()
	return metricsState.renderers
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

// metricsHandler returns Prometheus-compatible metrics in text format.
func metricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	metricsState.mu.RLock()
	startTime := metricsState.startTime
	stageID := metricsState.stageID
	loop := metricsState.loop
	renderers := metricsState.renderers
	metricsState.mu.RUnlock()

	readiness.mu.RLock()
	loopReady := readiness.loopReady
	mqttConnected := readiness.mqttConnected
	postgresConnected := readiness.postgresConnected
	readiness.mu.RUnlock()

	var frames uint64
	var active int
	if loop != nil {
		frames = loop.Frames()
		active = loop.ActiveCount()
	}
	var pending, completed, rejected int
	if queue != nil {
		pending = queue.Pending()
		completed = queue.Completed()
		rejected = queue.Rejected()
	}
	connectedRenderers := 0
	if renderers != nil {
		connectedRenderers = renderers.ConnectedRenderers()
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeMetric := func(name, mtype, help string, value interface{}, labels string) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		fmt.Fprintf(w, "%s{%s} %v\n", name, labels, value)
	}

	labels := fmt.Sprintf(`stage="%s",instance="%s",version="%s"`, stageID, hostname, version.Version)

	writeMetric("linkstage_uptime_seconds", "gauge",
		"Number of seconds since the process started", time.Since(startTime).Seconds(), labels)
	writeMetric("linkstage_loop_ready", "gauge",
		"Whether the frame loop is running (1) or not (0)", boolGauge(loopReady), labels)
	writeMetric("linkstage_frames_total", "counter",
		"Frames ticked since startup", frames, labels)
	writeMetric("linkstage_active_timelines", "gauge",
		"Timelines advanced on the last frame", active, labels)
	writeMetric("linkstage_pipeline_pending", "gauge",
		"Requests waiting in the pipeline queue", pending, labels)
	writeMetric("linkstage_choreographies_completed_total", "counter",
		"Choreographies resolved successfully", completed, labels)
	writeMetric("linkstage_requests_rejected_total", "counter",
		"Requests rejected before a choreography was built", rejected, labels)
	writeMetric("linkstage_events_total", "counter",
		"Total number of events emitted since startup", events.TotalCount(), labels)
	writeMetric("linkstage_events_dropped_total", "counter",
		"Events not delivered to a slow subscriber", events.Dropped(), labels)
	writeMetric("linkstage_events_persist_dropped_total", "counter",
		"Events not persisted because the writer queue was full", events.PersistDropped(), labels)
	writeMetric("linkstage_mqtt_connected", "gauge",
		"Whether the MQTT broker is connected (1) or not (0)", boolGauge(mqttConnected), labels)
	writeMetric("linkstage_postgres_connected", "gauge",
		"Whether PostgreSQL is connected (1) or not (0)", boolGauge(postgresConnected), labels)
	writeMetric("linkstage_renderers_connected", "gauge",
		"Renderers with a live heartbeat", connectedRenderers, labels)
	writeMetric("linkstage_ws_clients", "gauge",
		"Number of active WebSocket client connections", events.SubscriberCount(), labels)
}
