package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/davan/docplan/internal/tracing"
	"github.com/davan/docplan/pkg/engine"
	"github.com/davan/docplan/pkg/execqueue"
	"github.com/davan/docplan/pkg/history"
	"github.com/davan/docplan/pkg/hooks"
	"github.com/davan/docplan/pkg/host"
	"github.com/davan/docplan/pkg/memdoc"
	"github.com/davan/docplan/pkg/plan"
)

// defaultLane serializes plans that carry no document id. Everything anonymous
// shares one lane so two such plans never interleave either.
const defaultLane = "default"

// SessionFactory opens the editing session one plan runs against. It is called
// after normalization, so the plan's declared host is already validated.
type SessionFactory func(ctx context.Context, p *plan.Plan) (host.Session, error)

// ScratchSessions returns a factory producing in-memory documents matching
// each plan's declared host. Serve mode defaults to it; embedders targeting
// real documents supply their own factory.
func ScratchSessions(q memdoc.Quirks) SessionFactory {
	return func(_ context.Context, p *plan.Plan) (host.Session, error) {
		return memdoc.NewSession(host.Kind(p.Host), q)
	}
}

// RunnerConfig wires a PlanRunner. Engine is required; everything else
// degrades gracefully when absent.
type RunnerConfig struct {
	Engine   *engine.Engine
	Queue    *execqueue.Queue  // nil runs plans inline, unserialized
	Sessions SessionFactory    // nil defaults to ScratchSessions
	History  *history.Store    // nil skips execution logging
	Hooks    *hooks.Manager    // nil skips lifecycle hooks
	Logger   zerolog.Logger
}

// PlanRunner is the shared execution pipeline behind every intake surface:
// queue the plan on its document lane, open a session, run the engine, record
// the outcome, fire lifecycle hooks. The gateway, the watcher and one-shot
// CLI runs all funnel through it so a plan behaves the same no matter how it
// arrived.
type PlanRunner struct {
	engine   *engine.Engine
	queue    *execqueue.Queue
	sessions SessionFactory
	history  *history.Store
	hooks    *hooks.Manager
	logger   zerolog.Logger
}

// NewPlanRunner creates a runner from its wiring.
func NewPlanRunner(cfg RunnerConfig) (*PlanRunner, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if cfg.Sessions == nil {
		cfg.Sessions = ScratchSessions(memdoc.Quirks{})
	}

	return &PlanRunner{
		engine:   cfg.Engine,
		queue:    cfg.Queue,
		sessions: cfg.Sessions,
		history:  cfg.History,
		hooks:    cfg.Hooks,
		logger:   cfg.Logger.With().Str("component", "pipeline").Logger(),
	}, nil
}

// Run executes one raw plan payload end to end and always returns a result;
// failures of any stage are folded into it. documentID picks the queue lane
// and labels the history row; empty means the shared default lane. source
// names the intake surface for the execution log ("cli", "gateway",
// "watcher").
func (r *PlanRunner) Run(ctx context.Context, source, documentID string, raw []byte, onStep engine.StepCallback) *engine.Result {
	if r.queue == nil {
		return r.execute(ctx, source, documentID, raw, onStep)
	}

	lane := documentID
	if lane == "" {
		lane = defaultLane
	}

	value, err := r.queue.Enqueue(ctx, lane, func(taskCtx context.Context) (interface{}, error) {
		return r.execute(taskCtx, source, documentID, raw, onStep), nil
	}, nil)
	if err != nil {
		// Canceled while queued or the queue is closing; the plan never ran.
		return &engine.Result{Success: false, Message: fmt.Sprintf("plan was not executed: %v", err)}
	}

	result, ok := value.(*engine.Result)
	if !ok || result == nil {
		return &engine.Result{Success: false, Message: "execution produced no result"}
	}
	return result
}

func (r *PlanRunner) execute(ctx context.Context, source, documentID string, raw []byte, onStep engine.StepCallback) *engine.Result {
	p, normErr := r.engine.Normalize(raw)

	var session host.Session
	if normErr == nil {
		var err error
		session, err = r.sessions(ctx, p)
		if err != nil {
			result := &engine.Result{
				Success: false,
				Message: fmt.Sprintf("failed to open session: %v", err),
				Debug: &engine.DebugInfo{
					RunID:        tracing.NewRunID(),
					DeclaredHost: string(p.Host),
				},
			}
			r.finish(ctx, source, documentID, result)
			return result
		}
	}

	// A payload that fails normalization still goes through the engine so the
	// result, metrics and audit trail keep their canonical shape. The engine
	// rejects it before touching the nil session.
	result := r.engine.Execute(ctx, session, raw, onStep)
	r.finish(ctx, source, documentID, result)
	return result
}

// finish records the outcome and fires lifecycle hooks. Both outlive the
// caller's context: a disconnecting client must not lose the history row.
func (r *PlanRunner) finish(ctx context.Context, source, documentID string, result *engine.Result) {
	r.record(context.WithoutCancel(ctx), source, documentID, result)
	r.fireHooks(source, documentID, result)
}

func (r *PlanRunner) record(ctx context.Context, source, documentID string, result *engine.Result) {
	if r.history == nil || result.Debug == nil {
		return
	}

	steps, err := json.Marshal(result.Steps)
	if err != nil {
		steps = nil
	}

	hostName := result.Debug.ActualHost
	if hostName == "" {
		hostName = result.Debug.DeclaredHost
	}

	if _, err := r.history.Record(ctx, history.Record{
		RunID:       result.Debug.RunID,
		DocumentID:  documentID,
		Host:        hostName,
		Source:      source,
		Success:     result.Success,
		Message:     result.Message,
		ErrorKind:   result.Debug.ErrorKind,
		ActionCount: result.Debug.ActionCount,
		Duration:    result.Debug.Duration,
		Steps:       steps,
	}); err != nil {
		r.logger.Warn().Err(err).Str("run_id", result.Debug.RunID).Msg("Failed to record execution history")
	}
}

func (r *PlanRunner) fireHooks(source, documentID string, result *engine.Result) {
	if r.hooks == nil {
		return
	}

	event := hooks.EventPlanCompleted
	if !result.Success {
		event = hooks.EventPlanFailed
	}

	data := map[string]interface{}{
		"source":  source,
		"success": result.Success,
		"message": result.Message,
	}
	if documentID != "" {
		data["document_id"] = documentID
	}
	if result.Debug != nil {
		data["run_id"] = result.Debug.RunID
		if result.Debug.ActualHost != "" {
			data["host"] = result.Debug.ActualHost
		} else if result.Debug.DeclaredHost != "" {
			data["host"] = result.Debug.DeclaredHost
		}
		if result.Debug.ErrorKind != "" {
			data["error_kind"] = result.Debug.ErrorKind
		}
		data["action_count"] = result.Debug.ActionCount
		data["duration_ms"] = result.Debug.Duration.Milliseconds()
	}

	// Hook scripts can take seconds; never block the execution path on them.
	go func() {
		if err := r.hooks.Trigger(context.Background(), event, data); err != nil {
			r.logger.Warn().Err(err).Str("event", event).Msg("Lifecycle hooks failed")
		}
	}()
}
