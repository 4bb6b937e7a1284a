// Package loop drives the bounded reason, code, execute, observe cycle
// for one query.
//
// The loop owns the conversation transcript and the iteration budget.
// It reports progress through an emit callback and durably records
// every iteration through a record callback before moving on, so
// partial progress survives later failures. Terminal events are the
// orchestrator's job; the loop only returns an outcome.
package loop

import (
	"context"
	"fmt"

	"github.com/kaolin-io/kaolin/log"
	"github.com/kaolin-io/kaolin/reason"
	"github.com/kaolin-io/kaolin/sandbox"
	"github.com/kaolin-io/kaolin/types"
)

// DefaultBudget is the default iteration budget.
const DefaultBudget = 5

// DefaultAgentName is the agent identity stamped on events.
const DefaultAgentName = "coder"

// EmitFunc delivers one progress event.
type EmitFunc func(ctx context.Context, ev types.StreamEvent) error

// RecordFunc appends one iteration to the durable trace. A record
// failure is logged and the loop proceeds; losing one record must not
// lose the query.
type RecordFunc func(ctx context.Context, iteration types.Iteration) error

// Config configures a loop.
type Config struct {
	// AgentName is stamped on every event (default "coder").
	AgentName string
	// Budget is the iteration budget (default 5).
	Budget int
}

// Request is one query to run.
type Request struct {
	SessionID string
	// QueryID keys the iteration trace.
	QueryID string
	Query   string
	// Model optionally overrides the engine's configured model.
	Model string
	// Files is the workspace listing at loop start; it seeds the
	// engine's file inventory and the sandbox staging list.
	Files []types.WorkspaceFile
}

// Outcome is the loop's final result. Phase is one of PhaseCompleted,
// PhaseError, or PhaseCancelled. Exhausting the budget without a final
// answer is a completion, not an error; BudgetExhausted tells the two
// apart.
type Outcome struct {
	Phase           types.Phase
	FinalAnswer     string
	Observation     types.Observation
	Iterations      int
	BudgetExhausted bool
	// Err is set when Phase is PhaseError.
	Err error
}

// Loop runs queries against a reasoning engine and a sandbox.
type Loop struct {
	engine   reason.Engine
	executor sandbox.Executor
	cfg      Config
	logger   *log.Logger
}

// New creates a loop.
func New(engine reason.Engine, executor sandbox.Executor, cfg Config, logger *log.Logger) *Loop {
	if cfg.AgentName == "" {
		cfg.AgentName = DefaultAgentName
	}
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if logger == nil {
		logger = log.NewLogger("loop")
	}
	return &Loop{engine: engine, executor: executor, cfg: cfg, logger: logger}
}

// Run executes the loop for one query. It always returns an outcome;
// the error cases are folded into it.
func (l *Loop) Run(ctx context.Context, req Request, emit EmitFunc, record RecordFunc) *Outcome {
	logger := l.logger.WithSession(req.SessionID).WithQuery(req.QueryID)

	transcript := []reason.Turn{
		reason.SystemTurn(l.cfg.AgentName, req.Files),
		reason.QueryTurn(req.Query),
	}
	fileNames := make([]string, len(req.Files))
	for i, f := range req.Files {
		fileNames[i] = f.Name
	}

	if out := l.emit(ctx, emit, l.event(types.PhaseStarted, "Starting analysis", 0)); out != nil {
		return out
	}

	var lastObservation types.Observation
	for i := 1; i <= l.cfg.Budget; i++ {
		if out := l.emit(ctx, emit, l.event(types.PhaseThinking, "Reasoning about the next step", i)); out != nil {
			out.Iterations = i - 1
			out.Observation = lastObservation
			return out
		}

		step, err := l.engine.Step(ctx, reason.Request{Model: req.Model, Messages: transcript})
		if err != nil {
			if ctx.Err() != nil {
				return &Outcome{Phase: types.PhaseCancelled, Iterations: i - 1, Observation: lastObservation}
			}
			return &Outcome{
				Phase:       types.PhaseError,
				Iterations:  i - 1,
				Observation: lastObservation,
				Err:         fmt.Errorf("reasoning engine: %w", err),
			}
		}
		transcript = append(transcript, reason.StepTurn(step))

		iteration := types.Iteration{
			SessionID: req.SessionID,
			QueryID:   req.QueryID,
			Index:     i,
			Thoughts:  step.Thoughts,
			Code:      step.Code,
		}

		if step.Code == "" {
			// No code to run. A final step answers with its thoughts;
			// otherwise nudge the engine and spend the iteration.
			iteration.Success = true
			iteration.Observation = types.TextObservation(step.Thoughts)
			iteration.Final = step.Final
			if step.Final {
				iteration.FinalAnswer = step.Thoughts
			}
			l.record(ctx, record, logger, iteration)
			lastObservation = iteration.Observation

			if out := l.emitIterationComplete(ctx, emit, iteration); out != nil {
				out.Iterations = i
				out.Observation = lastObservation
				return out
			}
			if step.Final {
				return &Outcome{
					Phase:       types.PhaseCompleted,
					FinalAnswer: step.Thoughts,
					Observation: iteration.Observation,
					Iterations:  i,
				}
			}
			transcript = append(transcript, reason.NoCodeTurn())
			continue
		}

		if out := l.emit(ctx, emit, l.event(types.PhaseGeneratingCode, "Generated code for this step", i)); out != nil {
			out.Iterations = i - 1
			out.Observation = lastObservation
			return out
		}
		if out := l.emit(ctx, emit, l.event(types.PhaseExecuting, "Executing code in sandbox", i)); out != nil {
			out.Iterations = i - 1
			out.Observation = lastObservation
			return out
		}

		result, err := l.executor.Execute(ctx, sandbox.Request{
			SessionID: req.SessionID,
			Code:      step.Code,
			Files:     fileNames,
		})
		if err != nil {
			if ctx.Err() != nil {
				return &Outcome{Phase: types.PhaseCancelled, Iterations: i - 1, Observation: lastObservation}
			}
			return &Outcome{
				Phase:       types.PhaseError,
				Iterations:  i - 1,
				Observation: lastObservation,
				Err:         fmt.Errorf("executor: %w", err),
			}
		}

		iteration.ExecutionLog = result.Log
		iteration.Success = result.Success
		iteration.Error = result.Error
		iteration.Observation = result.Observation
		if iteration.Observation.IsZero() {
			iteration.Observation = types.TextObservation(result.Log)
		}
		final := result.Success && (step.Final || result.FinalAnswer != "")
		iteration.Final = final
		if final {
			iteration.FinalAnswer = result.FinalAnswer
			if iteration.FinalAnswer == "" {
				iteration.FinalAnswer = step.Thoughts
			}
		}

		l.record(ctx, record, logger, iteration)
		lastObservation = iteration.Observation

		if out := l.emitIterationComplete(ctx, emit, iteration); out != nil {
			out.Iterations = i
			out.Observation = lastObservation
			return out
		}

		if final {
			return &Outcome{
				Phase:       types.PhaseCompleted,
				FinalAnswer: iteration.FinalAnswer,
				Observation: iteration.Observation,
				Iterations:  i,
			}
		}

		// Self-correction: the observation, including any error text,
		// is the next iteration's input.
		feedback := result.Error
		if result.Success {
			feedback = result.Log
		}
		transcript = append(transcript, reason.ObservationTurn(result.Success, feedback))
	}

	// Budget spent without a final answer. Not a failure; the best
	// partial result is the last observation.
	return &Outcome{
		Phase:           types.PhaseCompleted,
		Observation:     lastObservation,
		Iterations:      l.cfg.Budget,
		BudgetExhausted: true,
	}
}

func (l *Loop) event(phase types.Phase, message string, iteration int) types.StreamEvent {
	ev := types.NewStreamEvent(phase, l.cfg.AgentName, message)
	ev.Iteration = iteration
	ev.TotalIterations = l.cfg.Budget
	return ev
}

// emit delivers one event, translating a delivery failure into a loop
// outcome. A canceled context means the caller walked away.
func (l *Loop) emit(ctx context.Context, emit EmitFunc, ev types.StreamEvent) *Outcome {
	if err := emit(ctx, ev); err != nil {
		if ctx.Err() != nil {
			return &Outcome{Phase: types.PhaseCancelled}
		}
		return &Outcome{Phase: types.PhaseError, Err: fmt.Errorf("emit %s: %w", ev.EventType, err)}
	}
	return nil
}

func (l *Loop) emitIterationComplete(ctx context.Context, emit EmitFunc, iteration types.Iteration) *Outcome {
	ev := l.event(types.PhaseIterationComplete, fmt.Sprintf("Iteration %d complete", iteration.Index), iteration.Index)
	ev.Data = map[string]any{
		"success":      iteration.Success,
		"final_answer": iteration.Final,
	}
	if iteration.Error != "" {
		ev.Data["error"] = iteration.Error
	}
	return l.emit(ctx, emit, ev)
}

// record appends the iteration, logging failures instead of failing
// the loop.
func (l *Loop) record(ctx context.Context, record RecordFunc, logger *log.Logger, iteration types.Iteration) {
	if err := record(ctx, iteration); err != nil {
		logger.Warn("iteration record failed", map[string]any{
			"index": iteration.Index,
			"error": err.Error(),
		})
	}
}
