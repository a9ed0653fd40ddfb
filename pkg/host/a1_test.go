package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnNameRoundTrip(t *testing.T) {
	cases := map[int]string{
		1:   "A",
		2:   "B",
		26:  "Z",
		27:  "AA",
		52:  "AZ",
		53:  "BA",
		702: "ZZ",
		703: "AAA",
	}
	for num, name := range cases {
		assert.Equal(t, name, ColumnName(num))
		back, err := ColumnNumber(name)
		require.NoError(t, err)
		assert.Equal(t, num, back)
	}
}

func TestParseCell(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		ref, err := ParseCell("B12")
		require.NoError(t, err)
		assert.Equal(t, CellRef{Row: 12, Col: 2}, ref)
	})

	t.Run("absolute markers stripped", func(t *testing.T) {
		ref, err := ParseCell("$AA$3")
		require.NoError(t, err)
		assert.Equal(t, CellRef{Row: 3, Col: 27}, ref)
	})

	t.Run("lowercase", func(t *testing.T) {
		ref, err := ParseCell("c4")
		require.NoError(t, err)
		assert.Equal(t, CellRef{Row: 4, Col: 3}, ref)
	})

	t.Run("rejects junk", func(t *testing.T) {
		for _, bad := range []string{"", "12", "AB", "A0", "1A", "A1B"} {
			_, err := ParseCell(bad)
			assert.Error(t, err, bad)
		}
	})
}

func TestParseRange(t *testing.T) {
	t.Run("rectangle", func(t *testing.T) {
		r, err := ParseRange("A1:D10")
		require.NoError(t, err)
		assert.Equal(t, Range{StartRow: 1, StartCol: 1, EndRow: 10, EndCol: 4}, r)
		assert.Equal(t, 10, r.Rows())
		assert.Equal(t, 4, r.Cols())
	})

	t.Run("single cell", func(t *testing.T) {
		r, err := ParseRange("B2")
		require.NoError(t, err)
		assert.True(t, r.Single())
	})

	t.Run("reversed corners reorder", func(t *testing.T) {
		r, err := ParseRange("D10:A1")
		require.NoError(t, err)
		assert.Equal(t, Range{StartRow: 1, StartCol: 1, EndRow: 10, EndCol: 4}, r)
	})
}

func TestFormatRange(t *testing.T) {
	assert.Equal(t, "A1:D10", FormatRange(Range{StartRow: 1, StartCol: 1, EndRow: 10, EndCol: 4}))
	assert.Equal(t, "B2", FormatRange(Range{StartRow: 2, StartCol: 2, EndRow: 2, EndCol: 2}))
	assert.Equal(t, "AA3", FormatCell(CellRef{Row: 3, Col: 27}))
}

type stubSession struct {
	text   TextDocument
	book   Workbook
	slides Presentation
}

func (s *stubSession) Text() TextDocument         { return s.text }
func (s *stubSession) Workbook() Workbook         { return s.book }
func (s *stubSession) Presentation() Presentation { return s.slides }

type stubText struct{ TextDocument }
type stubBook struct{ Workbook }
type stubSlides struct{ Presentation }

func TestDetect(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		kind, err := Detect(&stubSession{text: stubText{}})
		require.NoError(t, err)
		assert.Equal(t, KindText, kind)
	})

	t.Run("spreadsheet", func(t *testing.T) {
		kind, err := Detect(&stubSession{book: stubBook{}})
		require.NoError(t, err)
		assert.Equal(t, KindSpreadsheet, kind)
	})

	t.Run("presentation", func(t *testing.T) {
		kind, err := Detect(&stubSession{slides: stubSlides{}})
		require.NoError(t, err)
		assert.Equal(t, KindPresentation, kind)
	})

	t.Run("empty session", func(t *testing.T) {
		_, err := Detect(&stubSession{})
		assert.Error(t, err)
	})

	t.Run("nil session", func(t *testing.T) {
		_, err := Detect(nil)
		assert.Error(t, err)
	})
}
