// Package agentloop provides a generic resumable plan/execute/evaluate state
// machine. The loop is parameterized by state, step and observation types and
// composed of three injected collaborators; an optional checkpoint store
// persists the working state after every evaluated iteration so a crashed run
// resumes from its last evaluated state.
package agentloop

import (
	"context"
)

// StopReason explains why a loop run ended.
type StopReason string

const (
	ReasonSuccess         StopReason = "success"
	ReasonNoProgress      StopReason = "no_progress"
	ReasonBudgetExhausted StopReason = "budget_exhausted"
	ReasonError           StopReason = "error"
)

// Decision is the evaluator's verdict for one iteration.
type Decision string

const (
	DecisionContinue Decision = "continue"
	DecisionFinish   Decision = "finish"
)

// PlanInput is handed to the planner each iteration.
type PlanInput[S any] struct {
	SessionID string
	Iteration int
	State     S
}

// ExecuteInput is handed to the executor with the planned step.
type ExecuteInput[S, P any] struct {
	SessionID string
	Iteration int
	State     S
	Step      P
}

// EvaluateInput is handed to the evaluator. State is the pre-evaluation
// state, not the updated one.
type EvaluateInput[S, P, O any] struct {
	SessionID   string
	Iteration   int
	State       S
	Step        P
	Observation O
}

// Evaluation is the evaluator's result. Reason is meaningful only when
// Decision is finish and must be success or no_progress.
type Evaluation[S any] struct {
	Decision  Decision
	Reason    StopReason
	NextState S
}

// Planner proposes the next step for the current state.
type Planner[S, P any] interface {
	Plan(ctx context.Context, in PlanInput[S]) (P, error)
}

// Executor carries out a planned step and returns what it observed.
type Executor[S, P, O any] interface {
	Execute(ctx context.Context, in ExecuteInput[S, P]) (O, error)
}

// Evaluator judges an observation and produces the next working state.
type Evaluator[S, P, O any] interface {
	Evaluate(ctx context.Context, in EvaluateInput[S, P, O]) (Evaluation[S], error)
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc[S, P any] func(ctx context.Context, in PlanInput[S]) (P, error)

// Plan calls f.
func (f PlannerFunc[S, P]) Plan(ctx context.Context, in PlanInput[S]) (P, error) {
	return f(ctx, in)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc[S, P, O any] func(ctx context.Context, in ExecuteInput[S, P]) (O, error)

// Execute calls f.
func (f ExecutorFunc[S, P, O]) Execute(ctx context.Context, in ExecuteInput[S, P]) (O, error) {
	return f(ctx, in)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc[S, P, O any] func(ctx context.Context, in EvaluateInput[S, P, O]) (Evaluation[S], error)

// Evaluate calls f.
func (f EvaluatorFunc[S, P, O]) Evaluate(ctx context.Context, in EvaluateInput[S, P, O]) (Evaluation[S], error) {
	return f(ctx, in)
}

// CheckpointStore persists loop state between iterations, keyed by session
// id.
type CheckpointStore[S any] interface {
	Load(ctx context.Context, sessionID string) (S, bool, error)
	Save(ctx context.Context, sessionID string, state S) error
}

// Config wires a loop's collaborators. Planner, Executor and Evaluator are
// required; CheckpointStore and EventEmitter are optional.
type Config[S, P, O any] struct {
	Planner         Planner[S, P]
	Executor        Executor[S, P, O]
	Evaluator       Evaluator[S, P, O]
	CheckpointStore CheckpointStore[S]
	EventEmitter    EventEmitter[S, P, O]
}

// RunInput describes one loop invocation.
type RunInput[S any] struct {
	SessionID     string
	InitialState  S
	MaxIterations int
	// ResumeFromCheckpoint loads prior state for the session, when the loop
	// has a checkpoint store and a checkpoint exists, in place of
	// InitialState.
	ResumeFromCheckpoint bool
}

// Result reports how a loop run ended. On ReasonError, State is the last
// successfully evaluated state and Error holds a safe message.
type Result[S any] struct {
	SessionID  string
	State      S
	Iterations int
	Reason     StopReason
	Error      string
}

// Loop is a generic resumable plan/execute/evaluate engine.
type Loop[S, P, O any] struct {
	planner         Planner[S, P]
	executor        Executor[S, P, O]
	evaluator       Evaluator[S, P, O]
	checkpointStore CheckpointStore[S]
	eventEmitter    EventEmitter[S, P, O]
}

// New creates a loop from the given collaborators. A nil event emitter
// defaults to a no-op.
func New[S, P, O any](cfg Config[S, P, O]) *Loop[S, P, O] {
	emitter := cfg.EventEmitter
	if emitter == nil {
		emitter = NoopEmitter[S, P, O]{}
	}

	return &Loop[S, P, O]{
		planner:         cfg.Planner,
		executor:        cfg.Executor,
		evaluator:       cfg.Evaluator,
		checkpointStore: cfg.CheckpointStore,
		eventEmitter:    emitter,
	}
}

// Run drives the loop until the evaluator finishes, the iteration budget is
// exhausted, or a collaborator fails. All outcomes are reported through the
// result; a collaborator error surfaces as ReasonError with the last
// evaluated state, never as a panic or partial result.
func (l *Loop[S, P, O]) Run(ctx context.Context, in RunInput[S]) Result[S] {
	maxIterations := in.MaxIterations
	if maxIterations < 1 {
		maxIterations = 1
	}

	state := in.InitialState

	if in.ResumeFromCheckpoint && l.checkpointStore != nil {
		checkpoint, found, err := l.checkpointStore.Load(ctx, in.SessionID)
		if err != nil {
			return l.fail(ctx, in.SessionID, state, 0, err)
		}
		if found {
			state = checkpoint
		}
	}

	if err := l.eventEmitter.Emit(ctx, Event[S, P, O]{
		Type:      EventLoopStarted,
		SessionID: in.SessionID,
		State:     state,
	}); err != nil {
		return l.fail(ctx, in.SessionID, state, 0, err)
	}

	for iteration := 1; iteration <= maxIterations; iteration++ {
		if err := l.eventEmitter.Emit(ctx, Event[S, P, O]{
			Type:      EventIterationStarted,
			SessionID: in.SessionID,
			Iteration: iteration,
			State:     state,
		}); err != nil {
			return l.fail(ctx, in.SessionID, state, iteration, err)
		}

		step, err := l.planner.Plan(ctx, PlanInput[S]{
			SessionID: in.SessionID,
			Iteration: iteration,
			State:     state,
		})
		if err != nil {
			return l.fail(ctx, in.SessionID, state, iteration, err)
		}

		if err := l.eventEmitter.Emit(ctx, Event[S, P, O]{
			Type:      EventStepPlanned,
			SessionID: in.SessionID,
			Iteration: iteration,
			State:     state,
			Step:      step,
		}); err != nil {
			return l.fail(ctx, in.SessionID, state, iteration, err)
		}

		observation, err := l.executor.Execute(ctx, ExecuteInput[S, P]{
			SessionID: in.SessionID,
			Iteration: iteration,
			State:     state,
			Step:      step,
		})
		if err != nil {
			return l.fail(ctx, in.SessionID, state, iteration, err)
		}

		if err := l.eventEmitter.Emit(ctx, Event[S, P, O]{
			Type:        EventStepExecuted,
			SessionID:   in.SessionID,
			Iteration:   iteration,
			State:       state,
			Step:        step,
			Observation: observation,
		}); err != nil {
			return l.fail(ctx, in.SessionID, state, iteration, err)
		}

		evaluation, err := l.evaluator.Evaluate(ctx, EvaluateInput[S, P, O]{
			SessionID:   in.SessionID,
			Iteration:   iteration,
			State:       state,
			Step:        step,
			Observation: observation,
		})
		if err != nil {
			return l.fail(ctx, in.SessionID, state, iteration, err)
		}

		state = evaluation.NextState

		// Checkpoint after every evaluated iteration, not only at
		// completion: a crash mid-run resumes from the last evaluated
		// state rather than the initial one.
		if l.checkpointStore != nil {
			if err := l.checkpointStore.Save(ctx, in.SessionID, state); err != nil {
				return l.fail(ctx, in.SessionID, state, iteration, err)
			}
		}

		if err := l.eventEmitter.Emit(ctx, Event[S, P, O]{
			Type:        EventStepEvaluated,
			SessionID:   in.SessionID,
			Iteration:   iteration,
			State:       state,
			Step:        step,
			Observation: observation,
			Decision:    evaluation.Decision,
		}); err != nil {
			return l.fail(ctx, in.SessionID, state, iteration, err)
		}

		if evaluation.Decision == DecisionFinish {
			if err := l.eventEmitter.Emit(ctx, Event[S, P, O]{
				Type:      EventLoopCompleted,
				SessionID: in.SessionID,
				Iteration: iteration,
				State:     state,
				Reason:    evaluation.Reason,
			}); err != nil {
				return l.fail(ctx, in.SessionID, state, iteration, err)
			}

			return Result[S]{
				SessionID:  in.SessionID,
				State:      state,
				Iterations: iteration,
				Reason:     evaluation.Reason,
			}
		}
	}

	if err := l.eventEmitter.Emit(ctx, Event[S, P, O]{
		Type:      EventLoopCompleted,
		SessionID: in.SessionID,
		State:     state,
		Reason:    ReasonBudgetExhausted,
	}); err != nil {
		return l.fail(ctx, in.SessionID, state, maxIterations, err)
	}

	return Result[S]{
		SessionID:  in.SessionID,
		State:      state,
		Iterations: maxIterations,
		Reason:     ReasonBudgetExhausted,
	}
}

// fail converts a collaborator error into the error result. The loop.error
// emit is best effort; a broken emitter cannot mask the original failure.
func (l *Loop[S, P, O]) fail(ctx context.Context, sessionID string, state S, iteration int, err error) Result[S] {
	safeError := "unknown"
	if err != nil {
		safeError = err.Error()
	}

	_ = l.eventEmitter.Emit(ctx, Event[S, P, O]{
		Type:      EventLoopError,
		SessionID: sessionID,
		Iteration: iteration,
		State:     state,
		Reason:    ReasonError,
		Error:     safeError,
	})

	return Result[S]{
		SessionID:  sessionID,
		State:      state,
		Iterations: iteration,
		Reason:     ReasonError,
		Error:      safeError,
	}
}
