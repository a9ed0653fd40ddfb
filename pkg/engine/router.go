package engine

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/davan/docplan/pkg/execerr"
	"github.com/davan/docplan/pkg/host"
	"github.com/davan/docplan/pkg/plan"
)

// routeDecision is the outcome of reconciling a plan's declared host with the
// session's detected one.
type routeDecision struct {
	declared  plan.Host
	actual    plan.Host
	effective plan.Host
	mismatch  bool
}

func planHostFor(k host.Kind) plan.Host {
	return plan.Host(string(k))
}

// route trusts the detected host over the declared one. A mislabeled plan is
// tolerated when every operation it uses is valid on the actual host; when it
// is not, the error names exactly which operations cannot run there.
func route(p *plan.Plan, actual plan.Host, logger zerolog.Logger) (routeDecision, error) {
	decision := routeDecision{
		declared:  p.Host,
		actual:    actual,
		effective: actual,
	}

	if p.Host == actual {
		return decision, nil
	}

	decision.mismatch = true

	var unsupported []string
	for _, op := range p.Ops() {
		if !plan.IsAllowed(op, actual) {
			unsupported = append(unsupported, op)
		}
	}

	if len(unsupported) == 0 {
		logger.Warn().
			Str("declared_host", string(p.Host)).
			Str("actual_host", string(actual)).
			Msg("plan declares a different host, every op is valid here, executing anyway")
		return decision, nil
	}

	return decision, execerr.Newf(
		execerr.KindHostMismatch,
		"plan targets %s but session is %s, and these ops cannot run here: %s",
		p.Host, actual, strings.Join(unsupported, ", "),
	)
}
