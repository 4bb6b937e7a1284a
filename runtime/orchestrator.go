// Package runtime coordinates one query end to end.
//
// The orchestrator owns the session lock lifetime: it acquires before
// any work, and releases unconditionally on every path, including
// cancellation. Collaborators are injected behind narrow interfaces so
// tests can observe lock and capture behavior with spies.
package runtime

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kaolin-io/kaolin/lock"
	"github.com/kaolin-io/kaolin/log"
	"github.com/kaolin-io/kaolin/loop"
	"github.com/kaolin-io/kaolin/metrics"
	"github.com/kaolin-io/kaolin/store"
	"github.com/kaolin-io/kaolin/stream"
	"github.com/kaolin-io/kaolin/types"
)

// cleanupTimeout bounds post-loop persistence when the caller is gone.
const cleanupTimeout = 30 * time.Second

// SessionLocker serializes access to a session. Implemented by
// lock.Service.
type SessionLocker interface {
	Acquire(ctx context.Context, sessionID string) (bool, error)
	Release(ctx context.Context, sessionID string) error
}

// WorkspaceReader lists a session's files and mints download URLs.
// Implemented by workspace.Gateway.
type WorkspaceReader interface {
	List(ctx context.Context, sessionID string) ([]types.WorkspaceFile, error)
	PresignedURL(ctx context.Context, sessionID, fileName string) (string, error)
}

// ArtifactCapturer registers files that appeared during a loop.
// Implemented by registry.Registry.
type ArtifactCapturer interface {
	CaptureNew(ctx context.Context, sessionID, messageID string, before, after []types.WorkspaceFile) []types.Artifact
}

// QueryRunner drives the reasoning loop. Implemented by loop.Loop.
type QueryRunner interface {
	Run(ctx context.Context, req loop.Request, emit loop.EmitFunc, record loop.RecordFunc) *loop.Outcome
}

// Config configures the orchestrator.
type Config struct {
	// AgentName is stamped on orchestrator-emitted events (default
	// loop.DefaultAgentName).
	AgentName string
	// Buffer is the event channel capacity (default stream.DefaultBuffer).
	Buffer int
}

// Orchestrator composes the lock, workspace, loop, registry, and store
// into the query pipeline.
type Orchestrator struct {
	locks     SessionLocker
	workspace WorkspaceReader
	capturer  ArtifactCapturer
	store     store.Store
	runner    QueryRunner
	state     *lock.StateCache
	collector *metrics.Collector
	logger    *log.Logger
	cfg       Config
}

// New creates an orchestrator. state and collector may be nil.
func New(locks SessionLocker, ws WorkspaceReader, capturer ArtifactCapturer, st store.Store, runner QueryRunner, state *lock.StateCache, collector *metrics.Collector, logger *log.Logger, cfg Config) *Orchestrator {
	if cfg.AgentName == "" {
		cfg.AgentName = loop.DefaultAgentName
	}
	if logger == nil {
		logger = log.NewLogger("orchestrator")
	}
	return &Orchestrator{
		locks:     locks,
		workspace: ws,
		capturer:  capturer,
		store:     st,
		runner:    runner,
		state:     state,
		collector: collector,
		logger:    logger,
		cfg:       cfg,
	}
}

// QueryRequest is one incoming query.
type QueryRequest struct {
	SessionID string
	Query     string
	// FileIDs optionally narrows the input artifacts. Informational;
	// the whole workspace is staged either way.
	FileIDs []string
	// Model optionally overrides the engine's configured model.
	Model string
}

// ProcessQuery runs one query and returns its event stream. The
// channel closes after the terminal event; the caller must drain it.
// Cancelling ctx stops the loop at its next suspension point, still
// releases the lock, and still persists whatever trace exists.
func (o *Orchestrator) ProcessQuery(ctx context.Context, req QueryRequest) <-chan types.StreamEvent {
	s := stream.New(o.cfg.Buffer)
	go o.run(ctx, req, s)
	return s.Events()
}

func (o *Orchestrator) run(ctx context.Context, req QueryRequest, s *stream.Stream) {
	defer s.Close()

	queryID := uuid.NewString()
	logger := o.logger.WithSession(req.SessionID).WithQuery(queryID)

	// The terminal event and all post-loop persistence must survive
	// caller cancellation.
	cleanupCtx, cancelCleanup := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancelCleanup()

	acquired, err := o.locks.Acquire(ctx, req.SessionID)
	if err != nil {
		logger.Error("lock acquire failed", map[string]any{"error": err.Error()})
		o.collector.IncQueryFailed()
		o.terminal(cleanupCtx, s, types.PhaseError, "Could not check session availability", map[string]any{
			"reason": "lock_error",
			"error":  err.Error(),
		})
		return
	}
	if !acquired {
		// Busy is user-visible, never queued.
		o.collector.IncQueryRejected()
		o.terminal(cleanupCtx, s, types.PhaseError, "Session is busy with another query", map[string]any{
			"reason": "session_busy",
		})
		return
	}

	// Exactly one release, on every path.
	defer func() {
		if err := o.locks.Release(cleanupCtx, req.SessionID); err != nil {
			logger.Error("lock release failed", map[string]any{"error": err.Error()})
		}
		if o.state != nil {
			_ = o.state.Clear(cleanupCtx, req.SessionID)
		}
	}()

	o.collector.IncQueryStarted()

	before, err := o.workspace.List(ctx, req.SessionID)
	if err != nil {
		logger.Error("workspace snapshot failed", map[string]any{"error": err.Error()})
		o.collector.IncQueryFailed()
		o.terminal(cleanupCtx, s, types.PhaseError, "Could not read the session workspace", map[string]any{
			"reason": "workspace_error",
			"error":  err.Error(),
		})
		return
	}

	outcome := o.runner.Run(ctx, loop.Request{
		SessionID: req.SessionID,
		QueryID:   queryID,
		Query:     req.Query,
		Model:     req.Model,
		Files:     before,
	}, o.emitFunc(s, req.SessionID, queryID), o.recordFunc())

	// Artifacts and messages are captured on every outcome, including
	// cancellation; partial progress is never discarded.
	artifacts := o.captureArtifacts(cleanupCtx, logger, req.SessionID, before)
	o.persistExchange(cleanupCtx, logger, req, queryID, outcome)

	o.collector.AddIterations(outcome.Iterations)
	switch outcome.Phase {
	case types.PhaseCompleted:
		o.collector.IncQueryCompleted()
		if outcome.BudgetExhausted {
			o.collector.IncBudgetExhausted()
		}
	case types.PhaseCancelled:
		o.collector.IncQueryCancelled()
	default:
		o.collector.IncQueryFailed()
	}

	o.terminal(cleanupCtx, s, outcome.Phase, terminalMessage(outcome), o.terminalData(cleanupCtx, req.SessionID, outcome, artifacts))
}

// emitFunc relays loop events onto the stream and mirrors progress
// into the transient state cache.
func (o *Orchestrator) emitFunc(s *stream.Stream, sessionID, queryID string) loop.EmitFunc {
	return func(ctx context.Context, ev types.StreamEvent) error {
		if o.state != nil {
			_ = o.state.SetState(ctx, sessionID, lock.State{
				QueryID:   queryID,
				Phase:     string(ev.EventType),
				Iteration: ev.Iteration,
				UpdatedAt: time.Now().UTC(),
			})
		}
		return s.Emit(ctx, ev)
	}
}

func (o *Orchestrator) recordFunc() loop.RecordFunc {
	return func(ctx context.Context, iteration types.Iteration) error {
		if iteration.ID == "" {
			iteration.ID = uuid.NewString()
		}
		if o.state != nil && iteration.ExecutionLog != "" {
			_ = o.state.AppendConsole(ctx, iteration.SessionID, iteration.ExecutionLog)
		}
		if !iteration.Success && !iteration.Final {
			// A failed non-final iteration means the engine sees the
			// error and tries again.
			o.collector.IncSelfCorrection()
		}
		return o.store.AppendIteration(ctx, iteration)
	}
}

func (o *Orchestrator) captureArtifacts(ctx context.Context, logger *log.Logger, sessionID string, before []types.WorkspaceFile) []types.Artifact {
	after, err := o.workspace.List(ctx, sessionID)
	if err != nil {
		// The reasoning result is still valuable without the diff.
		logger.Warn("post-loop workspace listing failed", map[string]any{"error": err.Error()})
		return nil
	}

	artifacts := o.capturer.CaptureNew(ctx, sessionID, "", before, after)
	for range artifacts {
		o.collector.IncArtifactRegistered()
	}
	if missed := len(diffCount(before, after)) - len(artifacts); missed > 0 {
		for range missed {
			o.collector.IncRegisterFailure()
		}
	}
	return artifacts
}

// diffCount mirrors the registry's name diff for metrics accounting.
func diffCount(before, after []types.WorkspaceFile) []string {
	known := make(map[string]struct{}, len(before))
	for _, f := range before {
		known[f.Name] = struct{}{}
	}
	var fresh []string
	for _, f := range after {
		if _, ok := known[f.Name]; !ok {
			fresh = append(fresh, f.Name)
		}
	}
	return fresh
}

// persistExchange writes the user query and the agent's response as
// durable messages sharing the query ID that keys the iteration trace.
func (o *Orchestrator) persistExchange(ctx context.Context, logger *log.Logger, req QueryRequest, queryID string, outcome *loop.Outcome) {
	now := time.Now().UTC()

	userMsg := types.Message{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		QueryID:   queryID,
		Role:      types.RoleUser,
		Content:   req.Query,
		CreatedAt: now,
	}
	if len(req.FileIDs) > 0 {
		userMsg.Metadata = map[string]any{"file_ids": req.FileIDs}
	}
	if err := o.store.AddMessage(ctx, userMsg); err != nil {
		logger.Error("persist user message failed", map[string]any{"error": err.Error()})
	}

	content := outcome.FinalAnswer
	if content == "" {
		content = terminalMessage(outcome)
	}
	assistantMsg := types.Message{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		QueryID:   queryID,
		Role:      types.RoleAssistant,
		Content:   content,
		Metadata: map[string]any{
			"phase":            string(outcome.Phase),
			"iterations":       outcome.Iterations,
			"budget_exhausted": outcome.BudgetExhausted,
		},
		CreatedAt: now,
	}
	if err := o.store.AddMessage(ctx, assistantMsg); err != nil {
		logger.Error("persist assistant message failed", map[string]any{"error": err.Error()})
	}
}

func terminalMessage(outcome *loop.Outcome) string {
	switch outcome.Phase {
	case types.PhaseCompleted:
		if outcome.BudgetExhausted {
			return "Iteration budget exhausted; returning the best partial result"
		}
		return "Analysis complete"
	case types.PhaseCancelled:
		return "Query cancelled"
	default:
		if outcome.Err != nil {
			return outcome.Err.Error()
		}
		return "Query failed"
	}
}

// terminalData builds the complete result payload. The terminal event
// is the only one the caller is guaranteed to retain, so everything
// goes in: final observation, new artifacts with download URLs,
// iteration count, and the budget flag.
func (o *Orchestrator) terminalData(ctx context.Context, sessionID string, outcome *loop.Outcome, artifacts []types.Artifact) map[string]any {
	descriptors := make([]map[string]any, 0, len(artifacts))
	for _, a := range artifacts {
		d := map[string]any{
			"id":        a.ID,
			"file_name": a.FileName,
			"file_type": a.FileType,
			"size":      a.Size,
		}
		if url, err := o.workspace.PresignedURL(ctx, sessionID, a.FileName); err == nil {
			d["download_url"] = url
		}
		descriptors = append(descriptors, d)
	}

	data := map[string]any{
		"iterations":       outcome.Iterations,
		"budget_exhausted": outcome.BudgetExhausted,
		"new_artifacts":    descriptors,
	}
	if outcome.FinalAnswer != "" {
		data["final_answer"] = outcome.FinalAnswer
	}
	if !outcome.Observation.IsZero() {
		data["observation"] = outcome.Observation
	}
	if outcome.Err != nil {
		data["error"] = outcome.Err.Error()
	}
	return data
}

func (o *Orchestrator) terminal(ctx context.Context, s *stream.Stream, phase types.Phase, message string, data map[string]any) {
	ev := types.NewStreamEvent(phase, o.cfg.AgentName, message)
	ev.Data = data
	if err := s.Emit(ctx, ev); err != nil {
		o.logger.Error("terminal event emit failed", map[string]any{"error": err.Error()})
	}
}
