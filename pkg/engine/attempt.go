package engine

import (
	"strings"
	"time"

	"github.com/davan/docplan/pkg/execerr"
	"github.com/davan/docplan/pkg/host"
)

// strategy is one concrete call shape for an operation. Strategies are tried
// in priority order; the first one that succeeds wins.
type strategy struct {
	name string
	run  func() error
}

// attempt runs the strategies for a structural operation. Every branch
// outcome, refusal or success, is reported to the capability sink. A branch
// that fails with a semantic error (bad target, invalid input) aborts the
// ladder immediately: retrying a different call shape cannot conjure up a
// missing target. Exhausting all branches is a structural write failure.
func (ec *execContext) attempt(op string, strategies ...strategy) error {
	var lastErr error

	for i, s := range strategies {
		start := time.Now()
		err := s.run()
		took := time.Since(start)
		fallback := i > 0

		if err == nil {
			ec.caps.record(op, s.name, fallback, true, "", took)
			if fallback {
				ec.log.Debug().
					Str("op", op).
					Str("branch", s.name).
					Msg("operation succeeded off its primary branch")
			}
			return nil
		}

		ec.caps.record(op, s.name, fallback, false, err.Error(), took)

		if kind := execerr.KindOf(err); kind != "" && kind != execerr.KindStructuralWriteFailure {
			return err
		}

		if host.IsNotSupported(err) {
			ec.log.Debug().
				Str("op", op).
				Str("branch", s.name).
				Msg("host refused branch")
		} else {
			ec.log.Debug().
				Err(err).
				Str("op", op).
				Str("branch", s.name).
				Msg("branch failed")
		}
		lastErr = err
	}

	names := make([]string, len(strategies))
	for i, s := range strategies {
		names[i] = s.name
	}
	return execerr.Wrap(
		execerr.KindStructuralWriteFailure,
		"all branches failed ("+strings.Join(names, ", ")+")",
		lastErr,
	).ForOp(op)
}

// attemptDecorative runs the strategies for a best-effort operation. When
// every branch is refused, the placeholder is substituted and the action
// still counts as a success; only semantic errors (bad target) propagate.
// A nil placeholder means the gap is absorbed with nothing to show for it.
func (ec *execContext) attemptDecorative(op string, placeholder func() error, strategies ...strategy) error {
	var lastErr error

	for i, s := range strategies {
		start := time.Now()
		err := s.run()
		took := time.Since(start)
		fallback := i > 0

		if err == nil {
			ec.caps.record(op, s.name, fallback, true, "", took)
			return nil
		}

		ec.caps.record(op, s.name, fallback, false, err.Error(), took)

		if kind := execerr.KindOf(err); kind != "" && kind != execerr.KindStructuralWriteFailure && kind != execerr.KindDecorativeGap {
			return err
		}
		lastErr = err
	}

	gap := execerr.Wrap(execerr.KindDecorativeGap, "decorative capability unavailable", lastErr).ForOp(op)

	if placeholder == nil {
		ec.caps.record(op, "skipped", true, true, "", 0)
		ec.log.Warn().
			Str("op", op).
			Msg("decorative capability unavailable, nothing substituted")
		return nil
	}

	start := time.Now()
	if err := placeholder(); err != nil {
		ec.caps.record(op, "placeholder", true, false, err.Error(), time.Since(start))
		ec.log.Warn().
			Err(err).
			Str("op", op).
			Msg("placeholder substitution failed, gap absorbed")
		return nil
	}

	ec.caps.record(op, "placeholder", true, true, "", time.Since(start))
	ec.log.Info().
		Str("op", op).
		AnErr("gap", gap).
		Msg("substituted placeholder for decorative operation")
	return nil
}
