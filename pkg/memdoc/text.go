package memdoc

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/davan/docplan/pkg/host"
)

// tableAnchorRe matches the in-flow anchors that tie grid data to a position
// in the body, the way embedded objects sit in a real text host's flow.
var tableAnchorRe = regexp.MustCompile(`\[\[tbl:(\d+)\]\]`)

// AppliedStyle is one styling call, recorded for assertions.
type AppliedStyle struct {
	Selection host.TextSelection
	Text      string
	Style     host.TextStyle
}

// InsertedImage is one successful inline image insertion.
type InsertedImage struct {
	Source string
	Width  float64
	Height float64
}

// Text is an in-memory text document. Offsets are rune-based. Bookmarks and
// the selection shift under edits the way a word processor's anchors do:
// insertion at a bookmark's start pushes it right instead of growing it, and
// deleting a bookmark's whole span removes the bookmark.
type Text struct {
	q Quirks

	body      []rune
	sel       host.TextSelection
	bookmarks map[string]host.TextSelection

	grids      map[int][][]string
	nextTable  int
	styleLog   []AppliedStyle
	imageLog   []InsertedImage
	headingLog []int
}

// NewText builds an empty text document with the given quirks.
func NewText(q Quirks) *Text {
	return &Text{
		q:         q,
		bookmarks: make(map[string]host.TextSelection),
		grids:     make(map[int][][]string),
		nextTable: 1,
	}
}

func (t *Text) Text() (string, error) {
	return string(t.body), nil
}

func (t *Text) Selection() (host.TextSelection, error) {
	return t.sel, nil
}

func (t *Text) Select(sel host.TextSelection) error {
	if sel.Start < 0 || sel.End < sel.Start || sel.End > len(t.body) {
		return fmt.Errorf("selection %v out of range 0..%d", sel, len(t.body))
	}
	t.sel = sel
	return nil
}

func (t *Text) InsertAt(offset int, text string) error {
	if offset < 0 || offset > len(t.body) {
		return fmt.Errorf("offset %d out of range 0..%d", offset, len(t.body))
	}
	runes := []rune(text)
	t.body = append(t.body[:offset:offset], append(runes, t.body[offset:]...)...)
	t.shiftForInsert(offset, len(runes))
	t.sel = host.TextSelection{Start: offset + len(runes), End: offset + len(runes)}
	return nil
}

func (t *Text) Insert(pos host.Position, text string) error {
	switch pos {
	case host.PositionStart:
		return t.InsertAt(0, text)
	case host.PositionEnd:
		return t.InsertAt(len(t.body), text)
	case host.PositionCursor, "":
		return t.InsertAt(t.sel.Start, text)
	}
	return fmt.Errorf("unknown position %q", pos)
}

func (t *Text) DeleteRange(sel host.TextSelection) error {
	if sel.Start < 0 || sel.End < sel.Start || sel.End > len(t.body) {
		return fmt.Errorf("selection %v out of range 0..%d", sel, len(t.body))
	}
	removed := string(t.body[sel.Start:sel.End])
	t.body = append(t.body[:sel.Start:sel.Start], t.body[sel.End:]...)
	t.shiftForDelete(sel)
	t.dropAnchoredTables(removed)
	return nil
}

func (t *Text) Find(needle string, from int) (host.TextSelection, bool, error) {
	if needle == "" {
		return host.TextSelection{}, false, nil
	}
	if from < 0 {
		from = 0
	}
	if from > len(t.body) {
		return host.TextSelection{}, false, nil
	}
	idx := indexRunes(t.body[from:], []rune(needle))
	if idx < 0 {
		return host.TextSelection{}, false, nil
	}
	start := from + idx
	return host.TextSelection{Start: start, End: start + len([]rune(needle))}, true, nil
}

func (t *Text) Replace(find, replace string, all bool) (int, error) {
	if find == "" {
		return 0, fmt.Errorf("empty search text")
	}
	body := string(t.body)
	count := strings.Count(body, find)
	if count == 0 {
		return 0, nil
	}
	limit := 1
	if all {
		limit = -1
	} else {
		count = 1
	}
	t.body = []rune(strings.Replace(body, find, replace, limit))
	if t.sel.End > len(t.body) {
		t.sel = host.TextSelection{Start: len(t.body), End: len(t.body)}
	}
	return count, nil
}

func (t *Text) InsertHeading(level int, text string) error {
	if level < 1 {
		level = 1
	}
	t.headingLog = append(t.headingLog, level)
	return t.InsertAt(t.sel.Start, text+"\n")
}

func (t *Text) InsertList(items []string, ordered bool) error {
	var b strings.Builder
	for i, item := range items {
		if ordered {
			b.WriteString(strconv.Itoa(i+1) + ". ")
		} else {
			b.WriteString("• ")
		}
		b.WriteString(item)
		b.WriteByte('\n')
	}
	return t.InsertAt(t.sel.Start, b.String())
}

func (t *Text) InsertPageBreak() error {
	return t.InsertAt(t.sel.Start, "\f")
}

// Bookmarker

func (t *Text) AddBookmark(name string, sel host.TextSelection) error {
	if t.q.NoBookmarks {
		return host.ErrNotSupported
	}
	if sel.Start < 0 || sel.End < sel.Start || sel.End > len(t.body) {
		return fmt.Errorf("bookmark %q span %v out of range", name, sel)
	}
	t.bookmarks[name] = sel
	return nil
}

func (t *Text) Bookmark(name string) (host.TextSelection, bool, error) {
	if t.q.NoBookmarks {
		return host.TextSelection{}, false, host.ErrNotSupported
	}
	sel, ok := t.bookmarks[name]
	return sel, ok, nil
}

func (t *Text) RemoveBookmark(name string) error {
	if t.q.NoBookmarks {
		return host.ErrNotSupported
	}
	delete(t.bookmarks, name)
	return nil
}

// StyledTextWriter

func (t *Text) InsertStyled(pos host.Position, text string, style host.TextStyle) error {
	if t.q.NoStyledText {
		return host.ErrNotSupported
	}
	if err := t.Insert(pos, text); err != nil {
		return err
	}
	t.styleLog = append(t.styleLog, AppliedStyle{
		Selection: host.TextSelection{Start: t.sel.Start - len([]rune(text)), End: t.sel.Start},
		Text:      text,
		Style:     style,
	})
	return nil
}

// TextStyler

func (t *Text) ApplyStyle(sel host.TextSelection, style host.TextStyle) error {
	if t.q.NoTextStyler {
		return host.ErrNotSupported
	}
	if sel.Start < 0 || sel.End < sel.Start || sel.End > len(t.body) {
		return fmt.Errorf("style span %v out of range", sel)
	}
	t.styleLog = append(t.styleLog, AppliedStyle{
		Selection: sel,
		Text:      string(t.body[sel.Start:sel.End]),
		Style:     style,
	})
	return nil
}

// TableWriter

func (t *Text) InsertTable(rows, cols int) error {
	if t.q.NoTables {
		return host.ErrNotSupported
	}
	if rows < 1 || cols < 1 {
		return fmt.Errorf("table needs at least one row and column, got %dx%d", rows, cols)
	}
	grid := make([][]string, rows)
	for i := range grid {
		grid[i] = make([]string, cols)
	}
	id := t.nextTable
	t.nextTable++
	t.grids[id] = grid
	return t.InsertAt(t.sel.Start, fmt.Sprintf("[[tbl:%d]]\n", id))
}

func (t *Text) TableCount() (int, error) {
	if t.q.NoTables {
		return 0, host.ErrNotSupported
	}
	return len(t.anchoredTables()), nil
}

func (t *Text) SetTableCell(table, row, col int, text string) error {
	if t.q.NoTables {
		return host.ErrNotSupported
	}
	live := t.anchoredTables()
	if table < 1 || table > len(live) {
		return fmt.Errorf("table %d out of range, document has %d", table, len(live))
	}
	grid := t.grids[live[table-1]]
	if row < 1 || row > len(grid) || col < 1 || col > len(grid[0]) {
		return fmt.Errorf("cell %d,%d out of range for %dx%d table", row, col, len(grid), len(grid[0]))
	}
	grid[row-1][col-1] = text
	return nil
}

// TableDataWriter

func (t *Text) InsertTableWithData(data [][]string) error {
	if t.q.NoTables || t.q.NoTableData {
		return host.ErrNotSupported
	}
	if len(data) == 0 || len(data[0]) == 0 {
		return fmt.Errorf("table data is empty")
	}
	// The new table is not necessarily last in flow order when the cursor
	// sits before an existing one, so address it by id.
	id := t.nextTable
	if err := t.InsertTable(len(data), len(data[0])); err != nil {
		return err
	}
	grid := t.grids[id]
	for r, rowValues := range data {
		for c, v := range rowValues {
			if r < len(grid) && c < len(grid[r]) {
				grid[r][c] = v
			}
		}
	}
	return nil
}

// InlineImageWriter

func (t *Text) InsertImage(source string, width, height float64) error {
	if t.q.NoInlineImages {
		return host.ErrNotSupported
	}
	t.imageLog = append(t.imageLog, InsertedImage{Source: source, Width: width, Height: height})
	return t.InsertAt(t.sel.Start, fmt.Sprintf("[[img:%s]]\n", source))
}

// Snapshot accessors

// Body returns the current body text.
func (t *Text) Body() string {
	return string(t.body)
}

// Bookmarks returns a copy of the live bookmark table.
func (t *Text) Bookmarks() map[string]host.TextSelection {
	out := make(map[string]host.TextSelection, len(t.bookmarks))
	for k, v := range t.bookmarks {
		out[k] = v
	}
	return out
}

// Tables returns the live tables' grids in document order.
func (t *Text) Tables() [][][]string {
	live := t.anchoredTables()
	out := make([][][]string, 0, len(live))
	for _, id := range live {
		out = append(out, t.grids[id])
	}
	return out
}

// StyleLog returns every styling call in order.
func (t *Text) StyleLog() []AppliedStyle {
	return t.styleLog
}

// Images returns every successful image insertion.
func (t *Text) Images() []InsertedImage {
	return t.imageLog
}

// HeadingLevels returns the levels of inserted headings in order.
func (t *Text) HeadingLevels() []int {
	return t.headingLog
}

// anchoredTables lists table ids still anchored in the body, in flow order.
func (t *Text) anchoredTables() []int {
	var ids []int
	for _, m := range tableAnchorRe.FindAllStringSubmatch(string(t.body), -1) {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if _, ok := t.grids[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (t *Text) dropAnchoredTables(removed string) {
	for _, m := range tableAnchorRe.FindAllStringSubmatch(removed, -1) {
		if id, err := strconv.Atoi(m[1]); err == nil {
			delete(t.grids, id)
		}
	}
}

// shiftForInsert pushes anchors at or after the insertion point right.
// A bookmark whose interior contains the point grows instead.
func (t *Text) shiftForInsert(offset, length int) {
	for name, b := range t.bookmarks {
		switch {
		case offset <= b.Start:
			b.Start += length
			b.End += length
		case offset < b.End:
			b.End += length
		}
		t.bookmarks[name] = b
	}
}

// shiftForDelete clips anchors against a removed span. Bookmarks fully inside
// the span are removed entirely, matching word-processor behavior.
func (t *Text) shiftForDelete(sel host.TextSelection) {
	length := sel.Len()
	clip := func(p int) int {
		switch {
		case p <= sel.Start:
			return p
		case p >= sel.End:
			return p - length
		default:
			return sel.Start
		}
	}
	for name, b := range t.bookmarks {
		if b.Start >= sel.Start && b.End <= sel.End && b.Len() > 0 {
			delete(t.bookmarks, name)
			continue
		}
		t.bookmarks[name] = host.TextSelection{Start: clip(b.Start), End: clip(b.End)}
	}
	t.sel = host.TextSelection{Start: clip(t.sel.Start), End: clip(t.sel.End)}
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
