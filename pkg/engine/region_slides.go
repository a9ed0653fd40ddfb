package engine

import (
	"time"

	"github.com/davan/docplan/pkg/host"
	"github.com/davan/docplan/pkg/plan"
)

// Presentation blocks own a whole slide. The slide is tagged through the
// host's tag facility when one exists; otherwise a 1x1 marker shape parked in
// the corner carries the id. Both anchors survive reordering, which slide
// indexes do not.
const blockTagKey = "docplan:block"

func blockShapeName(id string) string {
	return "BLK_" + id
}

// findBlockSlide scans the deck for the slide owning a block id, preferring
// the tag anchor and falling back to the marker shape.
func (ec *execContext) findBlockSlide(deck host.Presentation, id string) (host.Slide, int, bool, error) {
	count, err := deck.SlideCount()
	if err != nil {
		return nil, 0, false, err
	}

	marker := blockShapeName(id)
	for i := 1; i <= count; i++ {
		slide, err := deck.Slide(i)
		if err != nil {
			return nil, 0, false, err
		}

		if tagger, ok := slide.(host.Tagger); ok {
			if v, found, err := tagger.Tag(blockTagKey); err == nil && found && v == id {
				return slide, i, true, nil
			}
		}

		shapes, err := slide.Shapes()
		if err != nil {
			continue
		}
		for _, sh := range shapes {
			if sh.Name() == marker {
				return slide, i, true, nil
			}
		}
	}
	return nil, 0, false, nil
}

// anchorBlockSlide attaches the block id to a slide, tag first and marker
// shape second. Failing both is reported but not fatal; the content still
// lands, only idempotency degrades.
func (e *Engine) anchorBlockSlide(ec *execContext, slide host.Slide, id string) {
	start := time.Now()
	if tagger, ok := slide.(host.Tagger); ok {
		if err := tagger.SetTag(blockTagKey, id); err == nil {
			ec.caps.record(plan.OpUpsertBlock, "slide_tag", false, true, "", time.Since(start))
			return
		} else if !host.IsNotSupported(err) {
			ec.caps.record(plan.OpUpsertBlock, "slide_tag", false, false, err.Error(), time.Since(start))
		} else {
			ec.caps.record(plan.OpUpsertBlock, "slide_tag", false, false, "not supported", time.Since(start))
		}
	}

	start = time.Now()
	marker, err := slide.AddTextBox(host.Box{X: 0, Y: 0, Width: 1, Height: 1}, "")
	if err != nil {
		ec.caps.record(plan.OpUpsertBlock, "marker_shape", true, false, err.Error(), time.Since(start))
		e.warnDegraded(ec, id, "could not anchor block slide", err)
		return
	}
	if err := marker.SetName(blockShapeName(id)); err != nil {
		ec.caps.record(plan.OpUpsertBlock, "marker_shape", true, false, err.Error(), time.Since(start))
		e.warnDegraded(ec, id, "could not name block marker shape", err)
		return
	}
	ec.caps.record(plan.OpUpsertBlock, "marker_shape", true, true, "", time.Since(start))
}

// upsertSlideBlock locates or appends the block's slide, clears its content,
// and runs the nested actions scoped to it. The active slide is restored
// afterwards unless the plan disabled cursor freezing.
func (e *Engine) upsertSlideBlock(ec *execContext, deck host.Presentation, a *plan.Action) error {
	id := blockIDOf(a)

	savedActive := 0
	if a.FreezesCursor() {
		if idx, err := deck.ActiveIndex(); err == nil {
			savedActive = idx
		}
	}

	slide, index, found, err := ec.findBlockSlide(deck, id)
	if err != nil {
		return err
	}
	if found {
		if err := clearBlockSlide(slide, id); err != nil {
			return err
		}
	} else {
		slide, err = deck.AppendSlide(host.LayoutTitleContent)
		if err != nil {
			return err
		}
		count, err := deck.SlideCount()
		if err != nil {
			return err
		}
		index = count
		e.anchorBlockSlide(ec, slide, id)
	}

	if err := deck.SetActive(index); err != nil {
		ec.log.Debug().Err(err).Int("slide", index).Msg("could not activate block slide")
	}

	if err := e.runActions(ec.scoped(id, "", index), a.Actions); err != nil {
		return err
	}

	if _, _, stillThere, err := ec.findBlockSlide(deck, id); err != nil || !stillThere {
		e.warnDegraded(ec, id, "block slide anchor lost after write", err)
	}

	if savedActive > 0 && savedActive != index {
		if err := deck.SetActive(savedActive); err != nil {
			ec.log.Debug().Err(err).Int("slide", savedActive).Msg("could not restore active slide")
		}
	}
	return nil
}

// clearBlockSlide empties the slide for rewriting: placeholder text is
// cleared in place, free shapes are removed, and the marker shape plus
// speaker notes are reset. The marker must survive the clear or the next run
// cannot find the slide.
func clearBlockSlide(slide host.Slide, id string) error {
	marker := blockShapeName(id)

	placeholders := make(map[string]bool)
	for _, kind := range []host.PlaceholderKind{host.PlaceholderTitle, host.PlaceholderBody} {
		ph, ok, err := slide.Placeholder(kind)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		placeholders[ph.Name()] = true
		if err := ph.SetText(""); err != nil {
			return err
		}
	}

	shapes, err := slide.Shapes()
	if err != nil {
		return err
	}
	for _, sh := range shapes {
		name := sh.Name()
		if name == marker || placeholders[name] {
			continue
		}
		if err := slide.RemoveShape(name); err != nil {
			return err
		}
	}

	if setter, ok := slide.(host.NotesSetter); ok {
		if err := setter.SetSpeakerNotes(""); err != nil && !host.IsNotSupported(err) {
			return err
		}
	}
	return nil
}

// deleteSlideBlock removes the block's slide entirely.
func (e *Engine) deleteSlideBlock(ec *execContext, deck host.Presentation, a *plan.Action) error {
	id := blockIDOf(a)

	_, index, found, err := ec.findBlockSlide(deck, id)
	if err != nil {
		return err
	}
	if !found {
		ec.log.Info().Str("block_id", id).Msg("block already absent, nothing to delete")
		return nil
	}

	return ec.attempt(a.Op, strategy{"remove_slide", func() error {
		return deck.RemoveSlide(index)
	}})
}
