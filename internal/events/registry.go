package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// loop
	"loop.started": {},
	"loop.stopped": {},

	// sequencer
	"sequencer.started":  {},
	"sequencer.step":     {},
	"sequencer.finished": {},
	"sequencer.ignored":  {},

	// choreography
	"choreography.started":   {},
	"choreography.handoff":   {},
	"choreography.completed": {},
	"choreography.failed":    {},

	// pipeline
	"pipeline.enqueued": {},
	"pipeline.started":  {},
	"pipeline.idle":     {},
	"pipeline.stalled":  {},

	// scene
	"actor.attached": {},
	"actor.detached": {},

	// chain
	"chain.inserted": {},
	"chain.removed":  {},

	// transport
	"transport.connected":    {},
	"transport.disconnected": {},
	"transport.error":        {},

	// system
	"system.startup":         {},
	"system.shutdown":        {},
	"system.error":           {},
	"system.startup_restore": {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
