package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/davan/docplan/pkg/execerr"
	"github.com/davan/docplan/pkg/host"
	"github.com/davan/docplan/pkg/plan"
)

// execContext carries per-run state through the dispatch tree: the session
// under edit, the step and capability recorders, and the block scope that
// nested actions inherit.
type execContext struct {
	ctx     context.Context
	log     zerolog.Logger
	session host.Session
	kind    plan.Host
	steps   *stepRecorder
	caps    *capabilityReporter

	// Block scope. While executing the nested actions of an upsert_block,
	// unqualified spreadsheet addresses resolve against sheetScope and
	// presentation actions without an explicit slide target slideScope.
	blockID    string
	sheetScope string
	slideScope int
	depth      int
}

func newExecContext(ctx context.Context, logger zerolog.Logger, session host.Session, kind plan.Host, steps *stepRecorder, caps *capabilityReporter) *execContext {
	// Hosts that refuse a capability do so on every action of a plan, and a
	// chatty plan can carry hundreds of actions. A burst sampler keeps the
	// first refusals visible without letting repeats flood the log.
	sampled := logger.Sample(&zerolog.BurstSampler{
		Burst:       20,
		Period:      time.Second,
		NextSampler: &zerolog.BasicSampler{N: 10},
	})

	return &execContext{
		ctx:     ctx,
		log:     sampled,
		session: session,
		kind:    kind,
		steps:   steps,
		caps:    caps,
	}
}

// scoped returns a child context for the nested actions of a block. The step
// and capability recorders are shared; only the scope fields change.
func (ec *execContext) scoped(blockID, sheetScope string, slideScope int) *execContext {
	child := *ec
	child.blockID = blockID
	if sheetScope != "" {
		child.sheetScope = sheetScope
	}
	if slideScope > 0 {
		child.slideScope = slideScope
	}
	child.depth = ec.depth + 1
	return &child
}

// checkCanceled is called between actions so a canceled context stops the
// plan at the next action boundary instead of mid-write.
func (ec *execContext) checkCanceled(op string) error {
	select {
	case <-ec.ctx.Done():
		return execerr.Wrap(execerr.KindCanceled, "execution canceled", ec.ctx.Err()).ForOp(op)
	default:
		return nil
	}
}

func (ec *execContext) text() (host.TextDocument, error) {
	if doc := ec.session.Text(); doc != nil {
		return doc, nil
	}
	return nil, execerr.New(execerr.KindHostMismatch, "session exposes no text document")
}

func (ec *execContext) workbook() (host.Workbook, error) {
	if wb := ec.session.Workbook(); wb != nil {
		return wb, nil
	}
	return nil, execerr.New(execerr.KindHostMismatch, "session exposes no workbook")
}

func (ec *execContext) presentation() (host.Presentation, error) {
	if deck := ec.session.Presentation(); deck != nil {
		return deck, nil
	}
	return nil, execerr.New(execerr.KindHostMismatch, "session exposes no presentation")
}
