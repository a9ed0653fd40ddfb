// Package memdoc provides in-memory implementations of the three document
// hosts. They back executor tests, the CLI's simulation target and the
// gateway's default session factory. A Quirks struct turns individual
// capabilities off so older host builds can be simulated: a disabled
// capability stays on the interface but returns host.ErrNotSupported.
package memdoc

import (
	"context"
	"fmt"

	"github.com/davan/docplan/pkg/host"
)

// Quirks disables capabilities of a scratch host. The zero value is a fully
// capable modern build.
type Quirks struct {
	// Session
	FailSync bool

	// Text
	NoBookmarks    bool
	NoStyledText   bool
	NoTextStyler   bool
	NoTables       bool
	NoTableData    bool
	NoInlineImages bool

	// Spreadsheet
	NoA1Writes        bool
	NoRangeValues     bool
	NoRangeFormat     bool
	NoRangeSort       bool
	NoMerge           bool
	NoValidation      bool
	NoPivots          bool
	NoCharts          bool
	NoChartExtras     bool
	NoColumnSizing    bool
	NoSheetRemoval    bool
	FailCellWrites    bool
	FailFormulaWrites bool

	// Presentation
	NoSlideInsertAt bool
	NoTags          bool
	NoNotes         bool
	NoThemes        bool
	NoSlideImages   bool
}

// Session is a scratch host.Session holding exactly one document.
type Session struct {
	doc  *Text
	book *Workbook
	deck *Deck

	failSync  bool
	syncCalls int
}

// NewTextSession opens a session over a fresh text document.
func NewTextSession(q Quirks) *Session {
	return &Session{doc: NewText(q), failSync: q.FailSync}
}

// NewSpreadsheetSession opens a session over a fresh workbook.
func NewSpreadsheetSession(q Quirks) *Session {
	return &Session{book: NewWorkbook(q), failSync: q.FailSync}
}

// NewPresentationSession opens a session over a fresh presentation.
func NewPresentationSession(q Quirks) *Session {
	return &Session{deck: NewDeck(q), failSync: q.FailSync}
}

// NewSession opens a session for the named host kind.
func NewSession(kind host.Kind, q Quirks) (*Session, error) {
	switch kind {
	case host.KindText:
		return NewTextSession(q), nil
	case host.KindSpreadsheet:
		return NewSpreadsheetSession(q), nil
	case host.KindPresentation:
		return NewPresentationSession(q), nil
	}
	return nil, fmt.Errorf("unknown host kind %q", kind)
}

func (s *Session) Text() host.TextDocument {
	if s.doc == nil {
		return nil
	}
	return s.doc
}

func (s *Session) Workbook() host.Workbook {
	if s.book == nil {
		return nil
	}
	return s.book
}

func (s *Session) Presentation() host.Presentation {
	if s.deck == nil {
		return nil
	}
	return s.deck
}

// Sync implements host.Syncer.
func (s *Session) Sync(ctx context.Context) error {
	s.syncCalls++
	if s.failSync {
		return fmt.Errorf("sync rejected by host")
	}
	return ctx.Err()
}

// SyncCalls returns how many times Sync ran.
func (s *Session) SyncCalls() int { return s.syncCalls }

// Doc returns the concrete text document, nil for other kinds.
func (s *Session) Doc() *Text { return s.doc }

// Book returns the concrete workbook, nil for other kinds.
func (s *Session) Book() *Workbook { return s.book }

// Deck returns the concrete presentation, nil for other kinds.
func (s *Session) Deck() *Deck { return s.deck }

// Snapshot dumps the final document state as a JSON-friendly map.
func (s *Session) Snapshot() map[string]any {
	switch {
	case s.doc != nil:
		return s.textSnapshot()
	case s.book != nil:
		return s.bookSnapshot()
	case s.deck != nil:
		return s.deckSnapshot()
	}
	return map[string]any{}
}

func (s *Session) textSnapshot() map[string]any {
	bookmarks := make(map[string]string)
	for name, sel := range s.doc.Bookmarks() {
		bookmarks[name] = fmt.Sprintf("[%d,%d)", sel.Start, sel.End)
	}
	return map[string]any{
		"kind":      string(host.KindText),
		"body":      s.doc.Body(),
		"bookmarks": bookmarks,
		"tables":    s.doc.Tables(),
		"images":    s.doc.Images(),
	}
}

func (s *Session) bookSnapshot() map[string]any {
	names, _ := s.book.SheetNames()
	sheets := make([]map[string]any, 0, len(names))
	for _, name := range names {
		sheet := s.book.MustSheet(name)
		entry := map[string]any{
			"name":  name,
			"cells": sheet.CellsA1(),
		}
		if n := len(sheet.Charts()); n > 0 {
			entry["charts"] = n
		}
		if n := len(sheet.Merges()); n > 0 {
			entry["merges"] = n
		}
		sheets = append(sheets, entry)
	}
	return map[string]any{
		"kind":   string(host.KindSpreadsheet),
		"sheets": sheets,
		"pivots": len(s.book.Pivots()),
	}
}

func (s *Session) deckSnapshot() map[string]any {
	count, _ := s.deck.SlideCount()
	slides := make([]map[string]any, 0, count)
	for i := 1; i <= count; i++ {
		slide := s.deck.SlideAt(i)
		entry := map[string]any{
			"layout": string(slide.Layout()),
			"title":  slide.TitleText(),
			"shapes": slide.ShapeNames(),
		}
		if body := slide.BodyText(); body != "" {
			entry["body"] = body
		}
		if notes := slide.Notes(); notes != "" {
			entry["notes"] = notes
		}
		if tags := slide.Tags(); len(tags) > 0 {
			entry["tags"] = tags
		}
		slides = append(slides, entry)
	}
	out := map[string]any{
		"kind":   string(host.KindPresentation),
		"slides": slides,
	}
	if theme := s.deck.Theme(); theme != "" {
		out["theme"] = theme
	}
	return out
}
