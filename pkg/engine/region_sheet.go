package engine

import (
	"strings"
	"time"

	"github.com/davan/docplan/pkg/host"
	"github.com/davan/docplan/pkg/plan"
)

// Spreadsheets have no inline regions, so a block owns a dedicated sheet.
// The name is derived from the block id and survives workbook saves, which
// makes it the sole anchor we need.
const blockSheetPrefix = "BID_"

// sheetNameMaxLen is the tightest limit across the host variants we target.
const sheetNameMaxLen = 31

// blockSheetName derives the dedicated sheet's name from a block id,
// replacing characters sheet names reject and clamping the length.
func blockSheetName(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch r {
		case '[', ']', ':', '*', '?', '/', '\\', '\'':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	name := blockSheetPrefix + b.String()
	if len(name) > sheetNameMaxLen {
		name = name[:sheetNameMaxLen]
	}
	return name
}

// upsertSheetBlock finds or creates the block's sheet, clears it, and runs the
// nested actions with unqualified addresses scoped to it. The workbook's
// active sheet is put back afterwards so the block write does not yank the
// user somewhere unexpected.
func (e *Engine) upsertSheetBlock(ec *execContext, wb host.Workbook, a *plan.Action) error {
	id := blockIDOf(a)
	name := blockSheetName(id)

	var savedActive string
	if a.FreezesCursor() {
		if active, err := wb.ActiveSheet(); err == nil {
			savedActive = active.Name()
		}
	}

	start := time.Now()
	sheet, existed, err := wb.Sheet(name)
	if err != nil {
		return err
	}
	if existed {
		ec.caps.record(plan.OpUpsertBlock, "sheet_reuse", false, true, "", time.Since(start))
		rng, ok, err := sheet.UsedRange()
		if err != nil {
			return err
		}
		if ok {
			if err := sheet.Clear(rng); err != nil {
				return err
			}
		}
	} else {
		sheet, err = wb.AddSheet(name)
		if err != nil {
			ec.caps.record(plan.OpUpsertBlock, "sheet_create", false, false, err.Error(), time.Since(start))
			return err
		}
		ec.caps.record(plan.OpUpsertBlock, "sheet_create", false, true, "", time.Since(start))
	}

	if err := wb.SetActive(name); err != nil {
		ec.log.Debug().Err(err).Str("sheet", name).Msg("could not activate block sheet")
	}

	if err := e.runActions(ec.scoped(id, name, 0), a.Actions); err != nil {
		return err
	}

	if _, ok, err := wb.Sheet(name); err != nil || !ok {
		e.warnDegraded(ec, id, "block sheet vanished after write", err)
	}

	if savedActive != "" && savedActive != name {
		if err := wb.SetActive(savedActive); err != nil {
			ec.log.Debug().Err(err).Str("sheet", savedActive).Msg("could not restore active sheet")
		}
	}
	return nil
}

// deleteSheetBlock removes the block's sheet. Hosts that refuse sheet removal
// degrade to clearing it, which leaves an empty tab but still converges.
func (e *Engine) deleteSheetBlock(ec *execContext, wb host.Workbook, a *plan.Action) error {
	id := blockIDOf(a)
	name := blockSheetName(id)

	sheet, ok, err := wb.Sheet(name)
	if err != nil {
		return err
	}
	if !ok {
		ec.log.Info().Str("block_id", id).Msg("block already absent, nothing to delete")
		return nil
	}

	return ec.attempt(a.Op,
		strategy{"remove_sheet", func() error {
			remover, ok := wb.(host.SheetRemover)
			if !ok {
				return host.ErrNotSupported
			}
			return remover.RemoveSheet(name)
		}},
		strategy{"clear_sheet", func() error {
			rng, ok, err := sheet.UsedRange()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			return sheet.Clear(rng)
		}},
	)
}
