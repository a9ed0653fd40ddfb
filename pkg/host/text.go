package host

// Position anchors an insertion relative to the document flow.
type Position string

const (
	PositionCursor Position = "cursor"
	PositionStart  Position = "start"
	PositionEnd    Position = "end"
)

// TextSelection is a half-open [Start, End) span of rune offsets.
type TextSelection struct {
	Start int
	End   int
}

// Len returns the selection length in runes.
func (s TextSelection) Len() int {
	return s.End - s.Start
}

// TextStyle carries character-level attributes. Pointer fields distinguish
// "leave alone" from an explicit false/zero.
type TextStyle struct {
	Bold      *bool    `json:"bold,omitempty"`
	Italic    *bool    `json:"italic,omitempty"`
	Underline *bool    `json:"underline,omitempty"`
	FontName  string   `json:"font_name,omitempty"`
	FontSize  *float64 `json:"font_size,omitempty"`
	Color     string   `json:"color,omitempty"`
}

// IsZero reports whether no attribute is set.
func (st TextStyle) IsZero() bool {
	return st.Bold == nil && st.Italic == nil && st.Underline == nil &&
		st.FontName == "" && st.FontSize == nil && st.Color == ""
}

// TextDocument is the required core of a text host. Offsets are rune-based.
type TextDocument interface {
	// Text returns the full body text.
	Text() (string, error)
	// Selection returns the caller's current selection. A collapsed
	// selection is the cursor.
	Selection() (TextSelection, error)
	// Select moves the selection/cursor.
	Select(sel TextSelection) error
	// InsertAt inserts text at a rune offset and leaves the cursor after it.
	InsertAt(offset int, text string) error
	// Insert inserts text at an anchor position.
	Insert(pos Position, text string) error
	// DeleteRange removes the span.
	DeleteRange(sel TextSelection) error
	// Find locates the first occurrence of needle at or after from.
	Find(needle string, from int) (TextSelection, bool, error)
	// Replace substitutes occurrences of find, first-only unless all.
	// Returns the number of replacements.
	Replace(find, replace string, all bool) (int, error)
	// InsertHeading inserts a heading paragraph at the cursor.
	InsertHeading(level int, text string) error
	// InsertList inserts a bulleted or numbered list at the cursor.
	InsertList(items []string, ordered bool) error
	// InsertPageBreak inserts a page break at the cursor.
	InsertPageBreak() error
}

// Bookmarker is the named-range capability, the preferred block anchor.
type Bookmarker interface {
	// AddBookmark anchors name over the span, replacing any prior anchor.
	AddBookmark(name string, sel TextSelection) error
	// Bookmark resolves a named range.
	Bookmark(name string) (TextSelection, bool, error)
	// RemoveBookmark drops the anchor, leaving content in place.
	RemoveBookmark(name string) error
}

// StyledTextWriter inserts a run with explicit character styling.
type StyledTextWriter interface {
	InsertStyled(pos Position, text string, style TextStyle) error
}

// TextStyler restyles an existing span.
type TextStyler interface {
	ApplyStyle(sel TextSelection, style TextStyle) error
}

// TableWriter is the grid-table capability. Table index 1 is the first table
// in document order.
type TableWriter interface {
	InsertTable(rows, cols int) error
	TableCount() (int, error)
	SetTableCell(table, row, col int, text string) error
}

// TableDataWriter inserts a fully-populated table in one call.
type TableDataWriter interface {
	InsertTableWithData(data [][]string) error
}

// InlineImageWriter places an image at the cursor. Zero width/height means
// natural size.
type InlineImageWriter interface {
	InsertImage(source string, width, height float64) error
}
