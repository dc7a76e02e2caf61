package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/AaronLay10/linkstage/internal/events"
)

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

const (
	AlertMQTTDisconnected    = "mqtt_disconnected"
	AlertPostgresUnavailable = "postgres_unavailable"
	AlertPipelineStalled     = "pipeline_stalled"
)

const (
	EnvAlertWebhook       = "LINKSTAGE_ALERT_WEBHOOK_URL"
	EnvMQTTAlertDelay     = "LINKSTAGE_MQTT_ALERT_DELAY"
	EnvPostgresAlertDelay = "LINKSTAGE_POSTGRES_ALERT_DELAY"
)

// AlertPayload is the JSON body posted to the webhook.
type AlertPayload struct {
	StageID   string                 `json:"stage_id"`
	Event     string                 `json:"event"`
	Timestamp string                 `json:"timestamp"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// outage tracks one dependency and alerts once it has been down for delay,
// then again when it recovers.
type outage struct {
	event    string
	severity string
	message  string
	delay    time.Duration

	up      bool
	since   time.Time
	alerted bool
}

func newOutage(event, severity, message string, delay time.Duration) *outage {
	return &outage{event: event, severity: severity, message: message, delay: delay, up: true}
}

// observe returns the alert to send for the state at now, or nil.
func (o *outage) observe(now time.Time, up bool) *AlertPayload {
	if up {
		var a *AlertPayload
		if !o.up && o.alerted {
			a = &AlertPayload{Event: o.event, Severity: SeverityInfo, Message: o.message + " recovered",
				Details: map[string]interface{}{"recovered_at": now.UTC().Format(time.RFC3339)}}
		}
		o.up, o.since, o.alerted = true, time.Time{}, false
		return a
	}

	if o.up {
		o.since = now
	}
	o.up = false

	down := now.Sub(o.since)
	if o.alerted || down < o.delay {
		return nil
	}
	o.alerted = true
	return &AlertPayload{Event: o.event, Severity: o.severity, Message: o.message,
		Details: map[string]interface{}{
			"down_since":   o.since.UTC().Format(time.RFC3339),
			"down_seconds": int(down.Seconds()),
		}}
}

type alerter struct {
	mu         sync.Mutex
	webhookURL string
	mqtt       *outage
	postgres   *outage
	client     *http.Client
	wg         sync.WaitGroup
}

var alerts = newAlerter("", 30*time.Second, 5*time.Second)

func newAlerter(url string, mqttDelay, pgDelay time.Duration) *alerter {
	return &alerter{
		webhookURL: url,
		mqtt:       newOutage(AlertMQTTDisconnected, SeverityWarning, "MQTT broker disconnected", mqttDelay),
		postgres:   newOutage(AlertPostgresUnavailable, SeverityCritical, "PostgreSQL unavailable", pgDelay),
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// InitAlerts reads webhook and delay settings from the environment.
func InitAlerts() {
	mqttDelay, pgDelay := 30*time.Second, 5*time.Second
	if d, err := time.ParseDuration(os.Getenv(EnvMQTTAlertDelay)); err == nil {
		mqttDelay = d
	}
	if d, err := time.ParseDuration(os.Getenv(EnvPostgresAlertDelay)); err == nil {
		pgDelay = d
	}
	a := newAlerter(os.Getenv(EnvAlertWebhook), mqttDelay, pgDelay)
	if a.webhookURL != "" {
		log.Printf("Alerts enabled: webhook URL configured (mqtt_delay=%s, pg_delay=%s)", mqttDelay, pgDelay)
	}
	alerts = a
}

// SendAlert posts an alert in the background, or logs it when no webhook is set.
func SendAlert(event, severity, message string, details map[string]interface{}) {
	alerts.send(&AlertPayload{Event: event, Severity: severity, Message: message, Details: details})
}

func (a *alerter) send(p *AlertPayload) {
	if a.webhookURL == "" {
		log.Printf("[ALERT] %s severity=%s msg=%q details=%v", p.Event, p.Severity, p.Message, p.Details)
		return
	}
	p.StageID = StageID()
	if p.StageID == "" {
		p.StageID = "unknown"
	}
	p.Timestamp = time.Now().UTC().Format(time.RFC3339)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.post(*p)
	}()
}

func (a *alerter) post(p AlertPayload) {
	body, err := json.Marshal(p)
	if err != nil {
		log.Printf("alert: failed to marshal payload: %v", err)
		return
	}
	resp, err := a.client.Post(a.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("alert: webhook POST failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("alert: webhook returned status %d", resp.StatusCode)
	}
}

// check feeds the current connection states into the outage trackers.
func (a *alerter) check(now time.Time, mqttUp, pgUp bool) {
	a.mu.Lock()
	var fire []*AlertPayload
	if p := a.mqtt.observe(now, mqttUp); p != nil {
		fire = append(fire, p)
	}
	if p := a.postgres.observe(now, pgUp); p != nil {
		fire = append(fire, p)
	}
	a.mu.Unlock()

	for _, p := range fire {
		a.send(p)
	}
}

// alertFor maps an emitted event to an immediate alert, or nil.
func alertFor(e events.Event) *AlertPayload {
	if e.Name == "pipeline.stalled" {
		return &AlertPayload{Event: AlertPipelineStalled, Severity: SeverityCritical,
			Message: "choreography pipeline stalled", Details: e.Fields}
	}
	return nil
}

// StartAlertMonitor polls connection states every interval and watches the
// event stream for stalls until ctx is done.
func StartAlertMonitor(ctx context.Context, interval time.Duration) {
	a := alerts
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				readiness.mu.RLock()
				mqttUp := readiness.mqttConnected || readiness.mqttOptional
				pgUp := readiness.postgresConnected || readiness.postgresOptional
				readiness.mu.RUnlock()
				a.check(now, mqttUp, pgUp)
			}
		}
	}()
	go a.watchEvents(ctx)
}

func (a *alerter) watchEvents(ctx context.Context) {
	sub := events.Subscribe()
	defer events.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if p := alertFor(e); p != nil {
				a.send(p)
			}
		}
	}
}
