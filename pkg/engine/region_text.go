package engine

import (
	"time"
	"unicode/utf8"

	"github.com/davan/docplan/internal/observability"
	"github.com/davan/docplan/pkg/host"
	"github.com/davan/docplan/pkg/plan"
)

// Text blocks anchor to a named range when the host supports one, and to a
// visible-but-unobtrusive marker pair otherwise. Hidden-attribute text is
// deliberately not used; several hosts strip it on save.
func blockBookmarkName(id string) string {
	return "blk:" + id
}

func blockStartMarker(id string) string {
	return "[[" + id + ":START]]"
}

func blockEndMarker(id string) string {
	return "[[" + id + ":END]]"
}

// markerStyle keeps marker text legible to the tracker but nearly invisible
// on the page.
var markerStyle = func() host.TextStyle {
	size := 1.0
	return host.TextStyle{FontSize: &size, Color: "#FEFEFE"}
}()

func blockIDOf(a *plan.Action) string {
	if a.BlockID != "" {
		return a.BlockID
	}
	return plan.DefaultBlockID
}

// upsertTextBlock locates or creates the block region, clears its interior,
// and replays the nested actions inside it. Anchors are re-verified after the
// write; a vanished anchor degrades idempotency for the next run but does not
// fail this one.
func (e *Engine) upsertTextBlock(ec *execContext, doc host.TextDocument, a *plan.Action) error {
	id := blockIDOf(a)

	var saved *host.TextSelection
	if a.FreezesCursor() {
		if sel, err := doc.Selection(); err == nil {
			saved = &sel
		}
	}

	bm, usable := probeBookmarks(ec, doc, id)

	var err error
	if usable {
		err = e.upsertViaBookmark(ec, doc, bm, id, a)
	} else {
		err = e.upsertViaMarkers(ec, doc, id, a)
	}
	if err != nil {
		return err
	}

	if saved != nil {
		restoreSelection(ec, doc, *saved)
	}
	return nil
}

// probeBookmarks reports whether the named-range capability actually works on
// this host build, not merely whether the interface is present.
func probeBookmarks(ec *execContext, doc host.TextDocument, id string) (host.Bookmarker, bool) {
	start := time.Now()
	bm, ok := doc.(host.Bookmarker)
	if !ok {
		ec.caps.record(plan.OpUpsertBlock, "bookmark_anchor", false, false, "not implemented", time.Since(start))
		return nil, false
	}
	if _, _, err := bm.Bookmark(blockBookmarkName(id)); err != nil {
		ec.caps.record(plan.OpUpsertBlock, "bookmark_anchor", false, false, err.Error(), time.Since(start))
		return nil, false
	}
	ec.caps.record(plan.OpUpsertBlock, "bookmark_anchor", false, true, "", time.Since(start))
	return bm, true
}

func (e *Engine) upsertViaBookmark(ec *execContext, doc host.TextDocument, bm host.Bookmarker, id string, a *plan.Action) error {
	name := blockBookmarkName(id)

	span, found, err := bm.Bookmark(name)
	if err != nil {
		return err
	}

	var start int
	if found {
		// Clear the interior. Deleting the whole span can take the named
		// range with it on some hosts; we re-anchor below either way.
		if span.Len() > 0 {
			if err := doc.DeleteRange(span); err != nil {
				return err
			}
		}
		start = span.Start
	} else {
		sel, err := doc.Selection()
		if err != nil {
			return err
		}
		start = sel.Start
	}

	if err := doc.Select(host.TextSelection{Start: start, End: start}); err != nil {
		return err
	}

	if err := e.runActions(ec.scoped(id, "", 0), a.Actions); err != nil {
		return err
	}

	end := start
	if sel, err := doc.Selection(); err == nil && sel.End > start {
		end = sel.End
	}

	if err := bm.AddBookmark(name, host.TextSelection{Start: start, End: end}); err != nil {
		e.warnDegraded(ec, id, "re-anchoring named range failed", err)
		return nil
	}
	if _, found, err := bm.Bookmark(name); err != nil || !found {
		e.warnDegraded(ec, id, "named range vanished after write", err)
	}
	return nil
}

func (e *Engine) upsertViaMarkers(ec *execContext, doc host.TextDocument, id string, a *plan.Action) error {
	startMark := blockStartMarker(id)
	endMark := blockEndMarker(id)

	startSel, startFound, err := doc.Find(startMark, 0)
	if err != nil {
		return err
	}
	endSel, endFound, err := doc.Find(endMark, 0)
	if err != nil {
		return err
	}

	var cursor int
	switch {
	case startFound && endFound && startSel.End <= endSel.Start:
		interior := host.TextSelection{Start: startSel.End, End: endSel.Start}
		if interior.Len() > 0 {
			if err := doc.DeleteRange(interior); err != nil {
				return err
			}
		}
		cursor = startSel.End
		ec.caps.record(plan.OpUpsertBlock, "marker_anchor", true, true, "", 0)

	case startFound && !endFound:
		// Damaged pair. Re-seat the end marker right after the start so the
		// region is well formed again.
		ec.log.Warn().Str("block_id", id).Msg("end marker missing, repairing block")
		if err := insertMarkerText(ec, doc, startSel.End, endMark); err != nil {
			return err
		}
		cursor = startSel.End

	case !startFound && endFound:
		ec.log.Warn().Str("block_id", id).Msg("start marker missing, repairing block")
		if err := insertMarkerText(ec, doc, endSel.Start, startMark); err != nil {
			return err
		}
		cursor = endSel.Start + utf8.RuneCountInString(startMark)

	default:
		sel, err := doc.Selection()
		if err != nil {
			return err
		}
		if err := insertMarkerText(ec, doc, sel.Start, startMark+endMark); err != nil {
			return err
		}
		cursor = sel.Start + utf8.RuneCountInString(startMark)
	}

	if err := doc.Select(host.TextSelection{Start: cursor, End: cursor}); err != nil {
		return err
	}

	if err := e.runActions(ec.scoped(id, "", 0), a.Actions); err != nil {
		return err
	}

	if _, ok, err := doc.Find(startMark, 0); err != nil || !ok {
		e.warnDegraded(ec, id, "start marker lost after write", err)
		return nil
	}
	if _, ok, err := doc.Find(endMark, 0); err != nil || !ok {
		e.warnDegraded(ec, id, "end marker lost after write", err)
	}
	return nil
}

// insertMarkerText writes marker text styled small and background-matching
// when the host can, plain when it cannot.
func insertMarkerText(ec *execContext, doc host.TextDocument, offset int, text string) error {
	if w, ok := doc.(host.StyledTextWriter); ok {
		if err := doc.Select(host.TextSelection{Start: offset, End: offset}); err == nil {
			if err := w.InsertStyled(host.PositionCursor, text, markerStyle); err == nil {
				ec.caps.record(plan.OpUpsertBlock, "styled_marker", false, true, "", 0)
				return nil
			} else if !host.IsNotSupported(err) {
				return err
			}
			ec.caps.record(plan.OpUpsertBlock, "styled_marker", false, false, "refused", 0)
		}
	}
	ec.caps.record(plan.OpUpsertBlock, "plain_marker", true, true, "", 0)
	return doc.InsertAt(offset, text)
}

// deleteTextBlock removes the region and its anchors. Deleting a block that
// is already absent is a no-op; delete converges on the same state either way.
func (e *Engine) deleteTextBlock(ec *execContext, doc host.TextDocument, a *plan.Action) error {
	id := blockIDOf(a)

	var saved *host.TextSelection
	if a.FreezesCursor() {
		if sel, err := doc.Selection(); err == nil {
			saved = &sel
		}
	}

	removed := false

	if bm, ok := doc.(host.Bookmarker); ok {
		span, found, err := bm.Bookmark(blockBookmarkName(id))
		if err == nil && found {
			if span.Len() > 0 {
				if err := doc.DeleteRange(span); err != nil {
					return err
				}
			}
			if err := bm.RemoveBookmark(blockBookmarkName(id)); err != nil && !host.IsNotSupported(err) {
				return err
			}
			removed = true
		}
	}

	if !removed {
		startSel, startFound, err := doc.Find(blockStartMarker(id), 0)
		if err != nil {
			return err
		}
		endSel, endFound, err := doc.Find(blockEndMarker(id), 0)
		if err != nil {
			return err
		}
		switch {
		case startFound && endFound && startSel.Start <= endSel.End:
			if err := doc.DeleteRange(host.TextSelection{Start: startSel.Start, End: endSel.End}); err != nil {
				return err
			}
			removed = true
		case startFound:
			if err := doc.DeleteRange(startSel); err != nil {
				return err
			}
			removed = true
		case endFound:
			if err := doc.DeleteRange(endSel); err != nil {
				return err
			}
			removed = true
		}
	}

	if !removed {
		ec.log.Info().Str("block_id", id).Msg("block already absent, nothing to delete")
	}

	if saved != nil {
		restoreSelection(ec, doc, *saved)
	}
	return nil
}

// restoreSelection puts the caller's selection back, clamped to the body in
// case the write shrank the document.
func restoreSelection(ec *execContext, doc host.TextDocument, sel host.TextSelection) {
	body, err := doc.Text()
	if err != nil {
		return
	}
	n := utf8.RuneCountInString(body)
	if sel.Start > n {
		sel.Start = n
	}
	if sel.End > n {
		sel.End = n
	}
	if sel.End < sel.Start {
		sel.End = sel.Start
	}
	if err := doc.Select(sel); err != nil {
		ec.log.Debug().Err(err).Msg("could not restore selection")
	}
}

func (e *Engine) warnDegraded(ec *execContext, id, why string, err error) {
	evt := ec.log.Warn().Str("block_id", id)
	if err != nil {
		evt = evt.Err(err)
	}
	evt.Msg(why + ", next run may duplicate content")
	observability.RecordDegradedBlock(string(ec.kind))

	if e.onDegraded != nil {
		func() {
			defer func() { _ = recover() }()
			e.onDegraded(string(ec.kind), id, why)
		}()
	}
}
