package choreo

import "errors"

var (
	// ErrExhausted is returned when playing a sequencer that already finished.
	ErrExhausted = errors.New("sequencer exhausted")

	// ErrUnknownStep is returned when queueing a step that was never registered.
	ErrUnknownStep = errors.New("unknown step")

	// ErrStalled marks a choreography that did not complete within the stall timeout.
	ErrStalled = errors.New("choreography stalled")

	// ErrLoopStopped is returned by Loop.Do once the loop has exited.
	ErrLoopStopped = errors.New("frame loop stopped")
)
