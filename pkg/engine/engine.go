// Package engine executes document editing plans against a live host
// session. It normalizes the raw payload, reconciles the declared host with
// the detected one, then walks the action list depth-first, probing host
// capabilities per operation and stopping at the first structural failure.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/davan/docplan/internal/observability"
	"github.com/davan/docplan/internal/tracing"
	"github.com/davan/docplan/pkg/execerr"
	"github.com/davan/docplan/pkg/host"
	"github.com/davan/docplan/pkg/plan"
)

const (
	// DefaultSyncTimeout bounds the pre-flight host sync. Sync is best-effort;
	// a slow host must not stall the plan.
	DefaultSyncTimeout = 2 * time.Second

	// DefaultMaxBlockDepth caps upsert_block nesting.
	DefaultMaxBlockDepth = 8
)

// Config controls engine behaviour.
type Config struct {
	// MaxPayloadBytes caps the raw plan payload. plan.DefaultMaxPayloadBytes when zero.
	MaxPayloadBytes int `mapstructure:"max_payload_bytes"`

	// SyncTimeout bounds the best-effort pre-flight sync. DefaultSyncTimeout when zero.
	SyncTimeout time.Duration `mapstructure:"sync_timeout"`

	// MaxBlockDepth caps nested block depth. DefaultMaxBlockDepth when zero.
	MaxBlockDepth int `mapstructure:"max_block_depth"`
}

func DefaultConfig() Config {
	return Config{
		MaxPayloadBytes: plan.DefaultMaxPayloadBytes,
		SyncTimeout:     DefaultSyncTimeout,
		MaxBlockDepth:   DefaultMaxBlockDepth,
	}
}

// Engine turns raw plan payloads into document edits.
type Engine struct {
	cfg        Config
	norm       *plan.Normalizer
	log        zerolog.Logger
	caps       CapabilitySink
	onDegraded func(host, blockID, reason string)
}

// New creates an engine. The capability sink may be nil when nobody collects
// telemetry, e.g. one-shot CLI runs.
func New(cfg Config, logger zerolog.Logger, caps CapabilitySink) *Engine {
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = DefaultSyncTimeout
	}
	if cfg.MaxBlockDepth <= 0 {
		cfg.MaxBlockDepth = DefaultMaxBlockDepth
	}

	observability.EnsureRegistered()

	return &Engine{
		cfg:  cfg,
		norm: plan.NewNormalizer(plan.NormalizerConfig{MaxPayloadBytes: cfg.MaxPayloadBytes}, logger),
		log:  logger,
		caps: caps,
	}
}

// OnDegradedBlock registers a callback fired when a tracked block loses its
// anchor and the write proceeds without one. The callback runs inline on the
// execution path and must not block; panics are swallowed. Nil clears it.
func (e *Engine) OnDegradedBlock(fn func(host, blockID, reason string)) {
	e.onDegraded = fn
}

// Normalize exposes the engine's normalizer for callers that validate plans
// without executing them.
func (e *Engine) Normalize(raw any) (*plan.Plan, error) {
	return e.norm.Normalize(raw)
}

// Execute runs a raw plan payload against the session. It always returns a
// terminal Result; classified failures are folded into it rather than
// returned separately, so callers render one shape either way.
func (e *Engine) Execute(ctx context.Context, session host.Session, raw any, onStep StepCallback) *Result {
	ctx = tracing.NewExecutionContext(ctx, "")
	ctx, span := tracing.StartSpan(ctx, "docplan.engine", "plan.execute")
	defer span.End()

	start := time.Now()
	logger := tracing.PropagateToLogger(ctx, e.log)
	steps := newStepRecorder(onStep)

	debug := &DebugInfo{RunID: tracing.GetRunID(ctx)}

	finish := func(p *plan.Plan, hostName string, err error) *Result {
		debug.Duration = time.Since(start)

		res := &Result{
			Success: err == nil,
			Steps:   steps.snapshot(),
			Debug:   debug,
		}
		if err == nil {
			res.Message = "plan applied"
		} else {
			res.Message = err.Error()
			debug.ErrorKind = string(execerr.KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, res.Message)
		}

		e.auditSummary(ctx, p, hostName, err)
		observability.RecordPlanExecution(hostName, debug.Duration, err == nil)
		if err != nil {
			observability.RecordPlanError(hostName, debug.ErrorKind)
		}

		evt := logger.Info()
		if err != nil {
			evt = logger.Error().Err(err)
		}
		evt.
			Str("host", hostName).
			Int("actions", debug.ActionCount).
			Dur("duration", debug.Duration).
			Bool("success", err == nil).
			Msg("plan execution finished")

		return res
	}

	p, err := e.norm.Normalize(raw)
	if err != nil {
		return finish(nil, "", err)
	}
	debug.DeclaredHost = string(p.Host)
	debug.ActionCount = countActions(p.Actions)
	span.SetAttributes(
		attribute.String("plan.host", string(p.Host)),
		attribute.Int("plan.actions", debug.ActionCount),
	)

	e.preflightSync(ctx, session, logger)

	kind, err := host.Detect(session)
	if err != nil {
		return finish(p, string(p.Host), execerr.Wrap(execerr.KindHostMismatch, "host detection failed", err))
	}
	actual := planHostFor(kind)
	debug.ActualHost = string(actual)

	decision, err := route(p, actual, logger)
	debug.HostMismatch = decision.mismatch
	if err != nil {
		return finish(p, string(actual), err)
	}

	ec := newExecContext(ctx, logger, session, decision.effective, steps, newCapabilityReporter(string(decision.effective), e.caps))
	if err := e.runActions(ec, p.Actions); err != nil {
		return finish(p, string(decision.effective), err)
	}

	return finish(p, string(decision.effective), nil)
}

// runActions executes a sibling list in order, aborting at the first failure.
// Each action gets a step; nested block actions recurse through the per-host
// block handlers, which call back into runActions with a scoped context.
func (e *Engine) runActions(ec *execContext, actions []plan.Action) error {
	for i := range actions {
		a := &actions[i]

		if err := ec.checkCanceled(a.Op); err != nil {
			return err
		}

		ec.steps.begin(a.ID, a.Title, a.Op)
		started := time.Now()

		err := e.runAction(ec, a)

		observability.RecordActionExecution(string(ec.kind), a.Op, time.Since(started), err == nil)

		if err != nil {
			if classified := execerr.KindOf(err); classified == "" {
				err = execerr.Wrap(execerr.KindStructuralWriteFailure, "action failed", err).ForOp(a.Op)
			}
			ec.steps.fail(a.ID, err.Error())
			return err
		}
		ec.steps.complete(a.ID)
	}
	return nil
}

func (e *Engine) runAction(ec *execContext, a *plan.Action) error {
	if ec.depth > e.cfg.MaxBlockDepth {
		return execerr.Newf(execerr.KindInvalidPlan, "block nesting exceeds %d levels", e.cfg.MaxBlockDepth).ForOp(a.Op)
	}

	switch ec.kind {
	case plan.HostText:
		return e.runTextAction(ec, a)
	case plan.HostSpreadsheet:
		return e.runSheetAction(ec, a)
	case plan.HostPresentation:
		return e.runSlideAction(ec, a)
	}
	return execerr.Newf(execerr.KindHostMismatch, "no executor for host %q", ec.kind)
}

// preflightSync races the session's optional sync against a short timeout.
// Outcome is logged and ignored; stale host state degrades targeting but the
// plan still runs.
func (e *Engine) preflightSync(ctx context.Context, session host.Session, logger zerolog.Logger) {
	syncer, ok := session.(host.Syncer)
	if !ok {
		return
	}

	syncCtx, cancel := context.WithTimeout(ctx, e.cfg.SyncTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- syncer.Sync(syncCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Warn().Err(err).Msg("pre-flight sync failed, proceeding with possibly stale state")
		} else {
			logger.Debug().Msg("pre-flight sync completed")
		}
	case <-syncCtx.Done():
		logger.Warn().Dur("timeout", e.cfg.SyncTimeout).Msg("pre-flight sync timed out, proceeding")
	}
}

// auditSummary emits the one-line plan audit record. Nil plans (payloads that
// never parsed) are still audited so failed deliveries show up in the trail.
func (e *Engine) auditSummary(ctx context.Context, p *plan.Plan, hostName string, err error) {
	var ops []string
	var blockID string
	if p != nil {
		ops = p.Ops()
		if ids := p.BlockIDs(); len(ids) == 1 {
			blockID = ids[0]
		}
	}

	errType := ""
	errMsg := ""
	if err != nil {
		errType = string(execerr.KindOf(err))
		errMsg = err.Error()
	}

	observability.RecordPlanAudit(ctx, hostName, blockID, ops, err == nil, errType, errMsg)
}

func countActions(actions []plan.Action) int {
	n := 0
	for i := range actions {
		n++
		n += countActions(actions[i].Actions)
	}
	return n
}
