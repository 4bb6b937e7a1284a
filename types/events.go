// Package types defines core domain types for the Kaolin runtime.
//
//nolint:revive // types is a common Go package naming convention
package types

import "time"

// EventClass is the top-level discriminator on a stream event.
// Progress events are "status"; every query stream ends with exactly
// one of the terminal classes.
type EventClass string

// Event class constants.
const (
	EventClassStatus    EventClass = "status"
	EventClassCompleted EventClass = "completed"
	EventClassError     EventClass = "error"
	EventClassCancelled EventClass = "cancelled"
)

// Phase is the lifecycle phase of the reasoning loop that an event
// reports. Phases advance through the loop in order; terminal phases
// mirror the terminal event classes.
type Phase string

// Phase constants.
const (
	PhaseStarted           Phase = "started"
	PhaseThinking          Phase = "thinking"
	PhaseGeneratingCode    Phase = "generating_code"
	PhaseExecuting         Phase = "executing"
	PhaseIterationComplete Phase = "iteration_complete"
	PhaseCompleted         Phase = "completed"
	PhaseError             Phase = "error"
	PhaseCancelled         Phase = "cancelled"
)

// IsTerminal returns true if this phase ends the stream.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseError || p == PhaseCancelled
}

// Class returns the event class that carries this phase.
func (p Phase) Class() EventClass {
	switch p {
	case PhaseCompleted:
		return EventClassCompleted
	case PhaseError:
		return EventClassError
	case PhaseCancelled:
		return EventClassCancelled
	default:
		return EventClassStatus
	}
}

// StreamEvent is one unit of the ordered progress protocol delivered
// to the caller while a query runs. Events are ephemeral and never
// persisted; the terminal event carries the complete result payload
// because it is the only event the caller is guaranteed to retain.
//
// All fields use json tags to match the SSE wire format.
type StreamEvent struct {
	// Type is the event class discriminator.
	Type EventClass `json:"type"`
	// EventType is the lifecycle phase being reported.
	EventType Phase `json:"event_type"`
	// AgentName identifies the agent producing the event.
	AgentName string `json:"agent_name"`
	// Message is a human-readable progress message.
	Message string `json:"message"`
	// Data is the phase-specific payload.
	Data map[string]any `json:"data,omitempty"`
	// Iteration is the one-based iteration ordinal, when inside the loop.
	Iteration int `json:"iteration,omitempty"`
	// TotalIterations is the loop's iteration budget.
	TotalIterations int `json:"total_iterations,omitempty"`
	// Timestamp is the emission time in ISO 8601 UTC format.
	Timestamp string `json:"timestamp"`
}

// NewStreamEvent builds an event for the given phase with the emission
// time stamped at call time. The event class is derived from the phase.
func NewStreamEvent(phase Phase, agentName, message string) StreamEvent {
	return StreamEvent{
		Type:      phase.Class(),
		EventType: phase,
		AgentName: agentName,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}
