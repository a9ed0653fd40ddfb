package host

import (
	"fmt"
	"strings"
)

// ColumnName converts a 1-based column number to letters, 1 -> A, 27 -> AA.
func ColumnName(col int) string {
	if col < 1 {
		return ""
	}
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

// ColumnNumber converts column letters to a 1-based number.
func ColumnNumber(name string) (int, error) {
	cleaned := strings.ToUpper(strings.TrimSpace(name))
	if cleaned == "" {
		return 0, fmt.Errorf("empty column name")
	}
	col := 0
	for _, r := range cleaned {
		if r < 'A' || r > 'Z' {
			return 0, fmt.Errorf("invalid column name %q", name)
		}
		col = col*26 + int(r-'A'+1)
	}
	return col, nil
}

// ParseCell parses an A1-style cell reference. Absolute markers ($) are
// stripped.
func ParseCell(ref string) (CellRef, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(ref), "$", "")
	if cleaned == "" {
		return CellRef{}, fmt.Errorf("empty cell reference")
	}
	split := 0
	for split < len(cleaned) {
		c := cleaned[split]
		if c >= '0' && c <= '9' {
			break
		}
		split++
	}
	if split == 0 || split == len(cleaned) {
		return CellRef{}, fmt.Errorf("invalid cell reference %q", ref)
	}
	col, err := ColumnNumber(cleaned[:split])
	if err != nil {
		return CellRef{}, fmt.Errorf("invalid cell reference %q", ref)
	}
	row := 0
	for _, r := range cleaned[split:] {
		if r < '0' || r > '9' {
			return CellRef{}, fmt.Errorf("invalid cell reference %q", ref)
		}
		row = row*10 + int(r-'0')
	}
	if row < 1 {
		return CellRef{}, fmt.Errorf("invalid cell reference %q", ref)
	}
	return CellRef{Row: row, Col: col}, nil
}

// ParseRange parses an A1-style range. A bare cell reference yields a
// single-cell range. Reversed corners are reordered.
func ParseRange(ref string) (Range, error) {
	cleaned := strings.TrimSpace(ref)
	first, rest, found := strings.Cut(cleaned, ":")
	start, err := ParseCell(first)
	if err != nil {
		return Range{}, err
	}
	end := start
	if found {
		end, err = ParseCell(rest)
		if err != nil {
			return Range{}, err
		}
	}
	if end.Row < start.Row {
		start.Row, end.Row = end.Row, start.Row
	}
	if end.Col < start.Col {
		start.Col, end.Col = end.Col, start.Col
	}
	return Range{StartRow: start.Row, StartCol: start.Col, EndRow: end.Row, EndCol: end.Col}, nil
}

// FormatCell renders a cell reference in A1 notation.
func FormatCell(ref CellRef) string {
	return fmt.Sprintf("%s%d", ColumnName(ref.Col), ref.Row)
}

// FormatRange renders a range in A1 notation, collapsing single cells.
func FormatRange(r Range) string {
	start := FormatCell(CellRef{Row: r.StartRow, Col: r.StartCol})
	if r.Single() {
		return start
	}
	return start + ":" + FormatCell(CellRef{Row: r.EndRow, Col: r.EndCol})
}
