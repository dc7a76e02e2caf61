package mqtt

import (
	"encoding/json"
	"fmt"
)

// HelloPayload is published by a renderer on prefix/renderer/<id>/hello when
// it starts mirroring the scene, and again as its heartbeat.
type HelloPayload struct {
	Version  int          `json:"version"`
	Renderer RendererInfo `json:"renderer"`
}

// RendererInfo describes one scene consumer.
type RendererInfo struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	HeartbeatSec int    `json:"heartbeat_sec"`
}

// ParseHello parses and validates a hello payload.
func ParseHello(data []byte) (*HelloPayload, error) {
	var payload HelloPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid hello JSON: %w", err)
	}

	if payload.Version != 1 {
		return nil, fmt.Errorf("unsupported hello version: %d", payload.Version)
	}
	if payload.Renderer.ID == "" {
		return nil, fmt.Errorf("renderer.id is required")
	}
	if payload.Renderer.HeartbeatSec < 0 {
		return nil, fmt.Errorf("renderer.heartbeat_sec must not be negative")
	}
	if payload.Renderer.HeartbeatSec == 0 {
		payload.Renderer.HeartbeatSec = 10
	}

	return &payload, nil
}
