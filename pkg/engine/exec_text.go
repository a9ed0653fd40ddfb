package engine

import (
	"fmt"
	"unicode/utf8"

	"github.com/davan/docplan/pkg/execerr"
	"github.com/davan/docplan/pkg/host"
	"github.com/davan/docplan/pkg/plan"
)

func (e *Engine) runTextAction(ec *execContext, a *plan.Action) error {
	doc, err := ec.text()
	if err != nil {
		return err
	}

	switch a.Op {
	case plan.OpUpsertBlock:
		return e.upsertTextBlock(ec, doc, a)
	case plan.OpDeleteBlock:
		return e.deleteTextBlock(ec, doc, a)
	case plan.OpInsertText:
		return ec.insertText(doc, a)
	case plan.OpInsertHeading:
		return ec.insertHeading(doc, a)
	case plan.OpApplyStyle:
		return ec.applyTextStyle(doc, a)
	case plan.OpInsertTable:
		return ec.insertTable(doc, a)
	case plan.OpSetTableCell:
		return ec.setTableCell(doc, a)
	case plan.OpInsertList:
		return ec.insertList(doc, a)
	case plan.OpInsertImage:
		return ec.insertInlineImage(doc, a)
	case plan.OpInsertPageBreak:
		return ec.insertPageBreak(doc, a)
	case plan.OpFindReplace:
		return ec.findReplace(doc, a)
	}
	return execerr.Newf(execerr.KindUnsupportedOperation, "op %q is not available on a text host", a.Op).ForOp(a.Op)
}

type insertTextParams struct {
	Content  string         `json:"content"`
	Position string         `json:"position"`
	Style    host.TextStyle `json:"style"`
}

// insertText places content at the requested anchor. When a style rides
// along, the styled single-call shape is preferred; failing that the run is
// inserted plain and restyled, and as a last resort the style is dropped so
// the content still lands.
func (ec *execContext) insertText(doc host.TextDocument, a *plan.Action) error {
	var p insertTextParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	pos := host.Position(p.Position)
	if pos == "" {
		pos = host.PositionCursor
	}

	if p.Style.IsZero() {
		return ec.attempt(a.Op, strategy{"insert", func() error {
			return doc.Insert(pos, p.Content)
		}})
	}

	return ec.attempt(a.Op,
		strategy{"styled_insert", func() error {
			w, ok := doc.(host.StyledTextWriter)
			if !ok {
				return host.ErrNotSupported
			}
			return w.InsertStyled(pos, p.Content, p.Style)
		}},
		strategy{"insert_then_style", func() error {
			styler, ok := doc.(host.TextStyler)
			if !ok {
				return host.ErrNotSupported
			}
			offset, err := insertOffset(doc, pos)
			if err != nil {
				return err
			}
			if err := doc.InsertAt(offset, p.Content); err != nil {
				return err
			}
			span := host.TextSelection{
				Start: offset,
				End:   offset + utf8.RuneCountInString(p.Content),
			}
			if err := styler.ApplyStyle(span, p.Style); err != nil {
				// The content is already in. Take it back out so the next
				// branch starts from a clean document.
				_ = doc.DeleteRange(span)
				return err
			}
			return nil
		}},
		strategy{"plain_insert", func() error {
			return doc.Insert(pos, p.Content)
		}},
	)
}

type insertHeadingParams struct {
	Content string `json:"content"`
	Level   int    `json:"level"`
}

func (ec *execContext) insertHeading(doc host.TextDocument, a *plan.Action) error {
	var p insertHeadingParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	if p.Level < 1 {
		p.Level = 1
	}
	return ec.attempt(a.Op, strategy{"heading", func() error {
		return doc.InsertHeading(p.Level, p.Content)
	}})
}

type applyStyleParams struct {
	Style host.TextStyle `json:"style"`
	Find  string         `json:"find"`
}

func (ec *execContext) applyTextStyle(doc host.TextDocument, a *plan.Action) error {
	var p applyStyleParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}

	var span host.TextSelection
	if p.Find != "" {
		sel, found, err := doc.Find(p.Find, 0)
		if err != nil {
			return err
		}
		if !found {
			return execerr.Newf(execerr.KindTargetNotFound, "text %q not found", p.Find).ForOp(a.Op)
		}
		span = sel
	} else {
		sel, err := doc.Selection()
		if err != nil {
			return err
		}
		span = sel
	}

	return ec.attempt(a.Op, strategy{"style_span", func() error {
		styler, ok := doc.(host.TextStyler)
		if !ok {
			return host.ErrNotSupported
		}
		return styler.ApplyStyle(span, p.Style)
	}})
}

type insertTableParams struct {
	Rows int        `json:"rows"`
	Cols int        `json:"cols"`
	Data [][]string `json:"data"`
}

func (ec *execContext) insertTable(doc host.TextDocument, a *plan.Action) error {
	var p insertTableParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	if p.Rows < 1 || p.Cols < 1 {
		return execerr.Newf(execerr.KindInvalidPlan, "table needs at least one row and column, got %dx%d", p.Rows, p.Cols).ForOp(a.Op)
	}

	if len(p.Data) == 0 {
		return ec.attempt(a.Op,
			strategy{"grid_insert", func() error {
				w, ok := doc.(host.TableWriter)
				if !ok {
					return host.ErrNotSupported
				}
				return w.InsertTable(p.Rows, p.Cols)
			}},
			strategy{"data_insert", func() error {
				w, ok := doc.(host.TableDataWriter)
				if !ok {
					return host.ErrNotSupported
				}
				return w.InsertTableWithData(paddedGrid(nil, p.Rows, p.Cols))
			}},
		)
	}

	grid := paddedGrid(p.Data, p.Rows, p.Cols)
	return ec.attempt(a.Op,
		strategy{"data_insert", func() error {
			w, ok := doc.(host.TableDataWriter)
			if !ok {
				return host.ErrNotSupported
			}
			return w.InsertTableWithData(grid)
		}},
		strategy{"grid_then_cells", func() error {
			w, ok := doc.(host.TableWriter)
			if !ok {
				return host.ErrNotSupported
			}
			if err := w.InsertTable(p.Rows, p.Cols); err != nil {
				return err
			}
			count, err := w.TableCount()
			if err != nil {
				return err
			}
			for r := 0; r < p.Rows; r++ {
				for c := 0; c < p.Cols; c++ {
					if grid[r][c] == "" {
						continue
					}
					if err := w.SetTableCell(count, r+1, c+1, grid[r][c]); err != nil {
						return err
					}
				}
			}
			return nil
		}},
	)
}

type setTableCellParams struct {
	Row        int    `json:"row"`
	Col        int    `json:"col"`
	Content    string `json:"content"`
	TableIndex int    `json:"table_index"`
}

func (ec *execContext) setTableCell(doc host.TextDocument, a *plan.Action) error {
	var p setTableCellParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}

	return ec.attempt(a.Op, strategy{"table_cell", func() error {
		w, ok := doc.(host.TableWriter)
		if !ok {
			return host.ErrNotSupported
		}
		count, err := w.TableCount()
		if err != nil {
			return err
		}
		if count == 0 {
			return execerr.New(execerr.KindTargetNotFound, "document has no tables").ForOp(a.Op)
		}
		// Index 0 addresses the most recently inserted table, which in
		// document order is the last one.
		idx := p.TableIndex
		if idx <= 0 {
			idx = count
		}
		if idx > count {
			return execerr.Newf(execerr.KindTargetNotFound, "table %d not found, document has %d", idx, count).ForOp(a.Op)
		}
		return w.SetTableCell(idx, p.Row, p.Col, p.Content)
	}})
}

type insertListParams struct {
	Items   []string `json:"items"`
	Ordered bool     `json:"ordered"`
}

func (ec *execContext) insertList(doc host.TextDocument, a *plan.Action) error {
	var p insertListParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	if len(p.Items) == 0 {
		return execerr.New(execerr.KindInvalidPlan, "list needs at least one item").ForOp(a.Op)
	}
	return ec.attempt(a.Op, strategy{"list", func() error {
		return doc.InsertList(p.Items, p.Ordered)
	}})
}

type insertImageParams struct {
	Source string  `json:"source"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (ec *execContext) insertInlineImage(doc host.TextDocument, a *plan.Action) error {
	var p insertImageParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}

	return ec.attemptDecorative(a.Op,
		func() error {
			return doc.Insert(host.PositionCursor, fmt.Sprintf("[image: %s]", p.Source))
		},
		strategy{"inline_image", func() error {
			w, ok := doc.(host.InlineImageWriter)
			if !ok {
				return host.ErrNotSupported
			}
			return w.InsertImage(p.Source, p.Width, p.Height)
		}},
	)
}

func (ec *execContext) insertPageBreak(doc host.TextDocument, a *plan.Action) error {
	return ec.attempt(a.Op, strategy{"page_break", func() error {
		return doc.InsertPageBreak()
	}})
}

type findReplaceParams struct {
	Find    string `json:"find"`
	Replace string `json:"replace"`
	All     bool   `json:"all"`
}

func (ec *execContext) findReplace(doc host.TextDocument, a *plan.Action) error {
	var p findReplaceParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	if p.Find == "" {
		return execerr.New(execerr.KindInvalidPlan, "find must not be empty").ForOp(a.Op)
	}

	return ec.attempt(a.Op, strategy{"replace", func() error {
		n, err := doc.Replace(p.Find, p.Replace, p.All)
		if err != nil {
			return err
		}
		if n == 0 {
			ec.log.Info().Str("find", p.Find).Msg("find_replace matched nothing")
		} else {
			ec.log.Debug().Str("find", p.Find).Int("replacements", n).Msg("replaced text")
		}
		return nil
	}})
}

// insertOffset resolves an anchor position to a rune offset.
func insertOffset(doc host.TextDocument, pos host.Position) (int, error) {
	switch pos {
	case host.PositionStart:
		return 0, nil
	case host.PositionEnd:
		body, err := doc.Text()
		if err != nil {
			return 0, err
		}
		return utf8.RuneCountInString(body), nil
	default:
		sel, err := doc.Selection()
		if err != nil {
			return 0, err
		}
		return sel.Start, nil
	}
}

// paddedGrid shapes data to exactly rows x cols, padding with empties and
// dropping overflow.
func paddedGrid(data [][]string, rows, cols int) [][]string {
	grid := make([][]string, rows)
	for r := 0; r < rows; r++ {
		grid[r] = make([]string, cols)
		if r >= len(data) {
			continue
		}
		for c := 0; c < cols && c < len(data[r]); c++ {
			grid[r][c] = data[r][c]
		}
	}
	return grid
}
