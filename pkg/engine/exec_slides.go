package engine

import (
	"fmt"
	"strings"

	"github.com/davan/docplan/pkg/execerr"
	"github.com/davan/docplan/pkg/host"
	"github.com/davan/docplan/pkg/plan"
)

// defaultBodyBox is where free-floating text lands when the plan gives no
// coordinates and the slide has no empty body placeholder to reuse.
var defaultBodyBox = host.Box{X: 48, Y: 120, Width: 624, Height: 360}

// defaultTitleBox mirrors the usual title placeholder bounds for layouts that
// lack one.
var defaultTitleBox = host.Box{X: 48, Y: 30, Width: 624, Height: 70}

func (e *Engine) runSlideAction(ec *execContext, a *plan.Action) error {
	deck, err := ec.presentation()
	if err != nil {
		return err
	}

	switch a.Op {
	case plan.OpUpsertBlock:
		return e.upsertSlideBlock(ec, deck, a)
	case plan.OpDeleteBlock:
		return e.deleteSlideBlock(ec, deck, a)
	case plan.OpAddSlide:
		return ec.addSlide(deck, a)
	case plan.OpSetSlideTitle:
		return ec.setSlideTitle(deck, a)
	case plan.OpAddTextBox:
		return ec.addTextBox(deck, a)
	case plan.OpAddBullets:
		return ec.addBullets(deck, a)
	case plan.OpSetSpeakerNotes:
		return ec.setSpeakerNotes(deck, a)
	case plan.OpApplyTheme:
		return ec.applyTheme(deck, a)
	case plan.OpAddImage:
		return ec.addSlideImage(deck, a)
	case plan.OpDeleteSlide:
		return ec.deleteSlide(deck, a)
	}
	return execerr.Newf(execerr.KindUnsupportedOperation, "op %q is not available on a presentation host", a.Op).ForOp(a.Op)
}

// targetSlide resolves which slide an action addresses: the explicit 1-based
// index first, then the enclosing block's slide, then the active slide.
func (ec *execContext) targetSlide(deck host.Presentation, explicit int) (host.Slide, int, error) {
	idx := explicit
	if idx <= 0 {
		idx = ec.slideScope
	}
	if idx <= 0 {
		active, err := deck.ActiveIndex()
		if err != nil {
			return nil, 0, err
		}
		idx = active
	}
	slide, err := deck.Slide(idx)
	if err != nil {
		return nil, 0, execerr.Newf(execerr.KindTargetNotFound, "slide %d not found", idx)
	}
	return slide, idx, nil
}

type addSlideParams struct {
	Layout string `json:"layout"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Index  int    `json:"index"`
}

// addSlide creates a slide, positioned when the host can insert mid-deck and
// appended when it can only add at the end, then fills whatever placeholder
// text the plan supplied.
func (ec *execContext) addSlide(deck host.Presentation, a *plan.Action) error {
	var p addSlideParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	layout := host.SlideLayout(p.Layout)
	if layout == "" {
		layout = host.LayoutTitleContent
	}

	var slide host.Slide
	create := func() error {
		s, err := deck.AppendSlide(layout)
		if err != nil {
			return err
		}
		slide = s
		return nil
	}

	var err error
	if p.Index > 0 {
		err = ec.attempt(a.Op,
			strategy{"insert_at", func() error {
				inserter, ok := deck.(host.SlideInserter)
				if !ok {
					return host.ErrNotSupported
				}
				s, err := inserter.InsertSlideAt(p.Index, layout)
				if err != nil {
					return err
				}
				slide = s
				return nil
			}},
			strategy{"append", create},
		)
	} else {
		err = ec.attempt(a.Op, strategy{"append", create})
	}
	if err != nil {
		return err
	}

	if p.Title != "" {
		if err := fillPlaceholder(slide, host.PlaceholderTitle, p.Title, defaultTitleBox); err != nil {
			return err
		}
	}
	if p.Body != "" {
		if err := fillPlaceholder(slide, host.PlaceholderBody, p.Body, defaultBodyBox); err != nil {
			return err
		}
	}
	return nil
}

// fillPlaceholder writes text into a layout placeholder, creating a text box
// at the placeholder's usual bounds when the layout does not carry one.
func fillPlaceholder(slide host.Slide, kind host.PlaceholderKind, text string, fallback host.Box) error {
	ph, ok, err := slide.Placeholder(kind)
	if err != nil {
		return err
	}
	if ok {
		return ph.SetText(text)
	}
	_, err = slide.AddTextBox(fallback, text)
	return err
}

type setSlideTitleParams struct {
	Content string `json:"content"`
	Slide   int    `json:"slide"`
}

func (ec *execContext) setSlideTitle(deck host.Presentation, a *plan.Action) error {
	var p setSlideTitleParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	slide, _, err := ec.targetSlide(deck, p.Slide)
	if err != nil {
		return err
	}

	return ec.attempt(a.Op,
		strategy{"title_placeholder", func() error {
			ph, ok, err := slide.Placeholder(host.PlaceholderTitle)
			if err != nil {
				return err
			}
			if !ok {
				return host.ErrNotSupported
			}
			return ph.SetText(p.Content)
		}},
		strategy{"title_text_box", func() error {
			_, err := slide.AddTextBox(defaultTitleBox, p.Content)
			return err
		}},
	)
}

type addTextBoxParams struct {
	Content string  `json:"content"`
	Slide   int     `json:"slide"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

func (p addTextBoxParams) explicitBox() (host.Box, bool) {
	if p.Width <= 0 || p.Height <= 0 {
		return host.Box{}, false
	}
	return host.Box{X: p.X, Y: p.Y, Width: p.Width, Height: p.Height}, true
}

// addTextBox places content on a slide. Without explicit coordinates an empty
// body placeholder is reused before a free-floating box is created; guessed
// coordinates on top of a placeholder are how decks end up with overlapping
// text.
func (ec *execContext) addTextBox(deck host.Presentation, a *plan.Action) error {
	var p addTextBoxParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	slide, _, err := ec.targetSlide(deck, p.Slide)
	if err != nil {
		return err
	}

	if box, ok := p.explicitBox(); ok {
		return ec.attempt(a.Op, strategy{"positioned_box", func() error {
			_, err := slide.AddTextBox(box, p.Content)
			return err
		}})
	}

	return ec.attempt(a.Op,
		strategy{"body_placeholder", func() error {
			return fillEmptyBody(slide, p.Content)
		}},
		strategy{"floating_box", func() error {
			_, err := slide.AddTextBox(defaultBodyBox, p.Content)
			return err
		}},
	)
}

// fillEmptyBody writes into the body placeholder only when it is present and
// empty; a populated one is someone else's content.
func fillEmptyBody(slide host.Slide, text string) error {
	ph, ok, err := slide.Placeholder(host.PlaceholderBody)
	if err != nil {
		return err
	}
	if !ok {
		return host.ErrNotSupported
	}
	existing, err := ph.Text()
	if err != nil {
		return err
	}
	if strings.TrimSpace(existing) != "" {
		return host.ErrNotSupported
	}
	return ph.SetText(text)
}

type addBulletsParams struct {
	Items []string `json:"items"`
	Slide int      `json:"slide"`
}

func (ec *execContext) addBullets(deck host.Presentation, a *plan.Action) error {
	var p addBulletsParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	if len(p.Items) == 0 {
		return execerr.New(execerr.KindInvalidPlan, "bullets need at least one item").ForOp(a.Op)
	}
	slide, _, err := ec.targetSlide(deck, p.Slide)
	if err != nil {
		return err
	}

	var b strings.Builder
	for i, item := range p.Items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("• ")
		b.WriteString(item)
	}
	text := b.String()

	return ec.attempt(a.Op,
		strategy{"body_placeholder", func() error {
			return fillEmptyBody(slide, text)
		}},
		strategy{"append_to_body", func() error {
			ph, ok, err := slide.Placeholder(host.PlaceholderBody)
			if err != nil {
				return err
			}
			if !ok {
				return host.ErrNotSupported
			}
			existing, err := ph.Text()
			if err != nil {
				return err
			}
			return ph.SetText(existing + "\n" + text)
		}},
		strategy{"floating_box", func() error {
			_, err := slide.AddTextBox(defaultBodyBox, text)
			return err
		}},
	)
}

type setSpeakerNotesParams struct {
	Content string `json:"content"`
	Slide   int    `json:"slide"`
}

func (ec *execContext) setSpeakerNotes(deck host.Presentation, a *plan.Action) error {
	var p setSpeakerNotesParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	slide, _, err := ec.targetSlide(deck, p.Slide)
	if err != nil {
		return err
	}

	return ec.attempt(a.Op, strategy{"speaker_notes", func() error {
		setter, ok := slide.(host.NotesSetter)
		if !ok {
			return host.ErrNotSupported
		}
		return setter.SetSpeakerNotes(p.Content)
	}})
}

type applyThemeParams struct {
	Name string `json:"name"`
}

// applyTheme is pure decoration. A host without theme switching absorbs the
// gap silently; a placeholder shape would be uglier than the missing theme.
func (ec *execContext) applyTheme(deck host.Presentation, a *plan.Action) error {
	var p applyThemeParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}

	return ec.attemptDecorative(a.Op, nil,
		strategy{"theme", func() error {
			applier, ok := deck.(host.ThemeApplier)
			if !ok {
				return host.ErrNotSupported
			}
			return applier.ApplyTheme(p.Name)
		}},
	)
}

type addSlideImageParams struct {
	Source string  `json:"source"`
	Slide  int     `json:"slide"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (ec *execContext) addSlideImage(deck host.Presentation, a *plan.Action) error {
	var p addSlideImageParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	slide, _, err := ec.targetSlide(deck, p.Slide)
	if err != nil {
		return err
	}

	box := host.Box{X: p.X, Y: p.Y, Width: p.Width, Height: p.Height}
	if box.Width <= 0 || box.Height <= 0 {
		box = host.Box{X: 160, Y: 140, Width: 400, Height: 300}
	}

	return ec.attemptDecorative(a.Op,
		func() error {
			_, err := slide.AddTextBox(box, fmt.Sprintf("[image: %s]", p.Source))
			return err
		},
		strategy{"slide_image", func() error {
			writer, ok := slide.(host.SlideImageWriter)
			if !ok {
				return host.ErrNotSupported
			}
			_, err := writer.AddImage(p.Source, box)
			return err
		}},
	)
}

type deleteSlideParams struct {
	Slide int `json:"slide"`
}

func (ec *execContext) deleteSlide(deck host.Presentation, a *plan.Action) error {
	var p deleteSlideParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	if p.Slide < 1 {
		return execerr.New(execerr.KindInvalidPlan, "slide must be a 1-based index").ForOp(a.Op)
	}
	count, err := deck.SlideCount()
	if err != nil {
		return err
	}
	if p.Slide > count {
		return execerr.Newf(execerr.KindTargetNotFound, "slide %d not found, deck has %d", p.Slide, count).ForOp(a.Op)
	}

	return ec.attempt(a.Op, strategy{"remove_slide", func() error {
		return deck.RemoveSlide(p.Slide)
	}})
}
