package model

import (
	"fmt"

	"media-pipeline/internal/domain"
)

// Event drives an Output through its state machine.
type Event string

const (
	EventBeginScript Event = "begin_script"
	EventScriptReady Event = "script_ready"
	EventBeginMedia  Event = "begin_media"
	EventComplete    Event = "complete"
	EventFail        Event = "fail"
	EventRetryScript Event = "retry_script"
	EventRetryMedia  Event = "retry_media"
	EventRegenerate  Event = "regenerate"
)

var transitions = map[Event]map[OutputStatus]OutputStatus{
	EventBeginScript: {OutputPending: OutputProcessing},
	EventScriptReady: {OutputProcessing: OutputScriptReady},
	EventBeginMedia: {
		OutputScriptReady: OutputProcessing,
		OutputPending:     OutputProcessing, // monolithic path
	},
	EventComplete: {OutputProcessing: OutputCompleted},
	EventFail: {
		OutputPending:     OutputFailed,
		OutputScriptReady: OutputFailed,
		OutputProcessing:  OutputFailed,
	},
	EventRetryScript: {OutputProcessing: OutputPending},
	EventRetryMedia:  {OutputProcessing: OutputScriptReady},
	EventRegenerate: {
		OutputFailed:    OutputScriptReady,
		OutputCompleted: OutputScriptReady,
	},
}

// Transition returns the status reached from cur on ev, or an error wrapping
// domain.ErrInvalidTransition when the edge does not exist.
func Transition(cur OutputStatus, ev Event) (OutputStatus, error) {
	edges, ok := transitions[ev]
	if !ok {
		return cur, fmt.Errorf("%w: unknown event %q", domain.ErrInvalidTransition, ev)
	}
	next, ok := edges[cur]
	if !ok {
		return cur, fmt.Errorf("%w: %s on %s", domain.ErrInvalidTransition, ev, cur)
	}
	return next, nil
}

// Terminal reports whether s only leaves through regenerate.
func (s OutputStatus) Terminal() bool {
	return s == OutputCompleted || s == OutputFailed
}
