package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

type readinessState struct {
	mu                sync.RWMutex
	loopReady         bool
	mqttConnected     bool
	mqttOptional      bool
	postgresConnected bool
	postgresOptional  bool
}

var readiness = &readinessState{}

// SetLoopReady marks the frame loop and pipeline as running.
func SetLoopReady(ready bool) {
	readiness.mu.Lock()
	readiness.loopReady = ready
	readiness.mu.Unlock()
}

// SetMQTTStatus records broker connectivity. An optional broker never blocks readiness.
func SetMQTTStatus(connected, optional bool) {
	readiness.mu.Lock()
	readiness.mqttConnected = connected
	readiness.mqttOptional = optional
	readiness.mu.Unlock()
}

// SetPostgresStatus records database connectivity.
func SetPostgresStatus(connected, optional bool) {
	readiness.mu.Lock()
	readiness.postgresConnected = connected
	readiness.postgresOptional = optional
	readiness.mu.Unlock()
}

// CheckResult is the state of one dependency.
type CheckResult struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
}

type ReadinessResponse struct {
	Ready       bool                   `json:"ready"`
	Checks      map[string]CheckResult `json:"checks"`
	NotReadyMsg string                 `json:"message,omitempty"`
}

func dependencyCheck(ok, optional bool) CheckResult {
	switch {
	case ok:
		return CheckResult{Status: "ok", Optional: optional}
	case optional:
		return CheckResult{Status: "unavailable", Optional: true}
	}
	return CheckResult{Status: "not_ready"}
}

func readyHandler(w http.ResponseWriter, r *http.Request) {
	readiness.mu.RLock()
	checks := map[string]CheckResult{
		"loop":     dependencyCheck(readiness.loopReady, false),
		"mqtt":     dependencyCheck(readiness.mqttConnected, readiness.mqttOptional),
		"postgres": dependencyCheck(readiness.postgresConnected, readiness.postgresOptional),
	}
	readiness.mu.RUnlock()

	var failing []string
	for _, name := range []string{"loop", "mqtt", "postgres"} {
		if checks[name].Status == "not_ready" {
			failing = append(failing, name)
		}
	}

	resp := ReadinessResponse{Ready: len(failing) == 0, Checks: checks}
	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		resp.NotReadyMsg = "not ready: " + strings.Join(failing, ", ")
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
