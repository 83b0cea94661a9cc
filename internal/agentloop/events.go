package agentloop

import (
	"context"
)

// EventType labels a loop lifecycle event.
type EventType string

const (
	EventLoopStarted      EventType = "loop.started"
	EventIterationStarted EventType = "loop.iteration.started"
	EventStepPlanned      EventType = "loop.step.planned"
	EventStepExecuted     EventType = "loop.step.executed"
	EventStepEvaluated    EventType = "loop.step.evaluated"
	EventLoopCompleted    EventType = "loop.completed"
	EventLoopError        EventType = "loop.error"
)

// Event is one observable moment in a loop run. Fields beyond Type and
// SessionID are populated when meaningful for the event type.
type Event[S, P, O any] struct {
	Type        EventType
	SessionID   string
	Iteration   int
	State       S
	Step        P
	Observation O
	Decision    Decision
	Reason      StopReason
	Error       string
}

// EventEmitter receives loop lifecycle events.
type EventEmitter[S, P, O any] interface {
	Emit(ctx context.Context, event Event[S, P, O]) error
}

// NoopEmitter discards all events. It is the default when a caller does not
// need observability.
type NoopEmitter[S, P, O any] struct{}

// Emit discards the event.
func (NoopEmitter[S, P, O]) Emit(context.Context, Event[S, P, O]) error {
	return nil
}

// EmitterFunc adapts a function to the EventEmitter interface.
type EmitterFunc[S, P, O any] func(ctx context.Context, event Event[S, P, O]) error

// Emit calls f.
func (f EmitterFunc[S, P, O]) Emit(ctx context.Context, event Event[S, P, O]) error {
	return f(ctx, event)
}
