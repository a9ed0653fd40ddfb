package memdoc

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/davan/docplan/pkg/host"
)

type cellKey struct {
	row int
	col int
}

type cellData struct {
	value   any
	formula string
}

// AppliedFormat is one formatting call, recorded for assertions.
type AppliedFormat struct {
	Range  host.Range
	Format host.CellFormat
}

// AppliedValidation is one data-validation call.
type AppliedValidation struct {
	Range      host.Range
	Validation host.Validation
}

// Workbook is an in-memory spreadsheet host.
type Workbook struct {
	q      Quirks
	sheets []*Sheet
	active int
	pivots []host.PivotSpec
}

// NewWorkbook builds a workbook with a single empty sheet.
func NewWorkbook(q Quirks) *Workbook {
	wb := &Workbook{q: q}
	wb.sheets = append(wb.sheets, newSheet(wb, "Sheet1"))
	return wb
}

func (wb *Workbook) ActiveSheet() (host.Sheet, error) {
	if len(wb.sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	return wb.sheets[wb.active], nil
}

func (wb *Workbook) Sheet(name string) (host.Sheet, bool, error) {
	for _, s := range wb.sheets {
		if strings.EqualFold(s.name, name) {
			return s, true, nil
		}
	}
	return nil, false, nil
}

func (wb *Workbook) AddSheet(name string) (host.Sheet, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("empty sheet name")
	}
	if _, ok, _ := wb.Sheet(name); ok {
		return nil, fmt.Errorf("sheet %q already exists", name)
	}
	s := newSheet(wb, name)
	wb.sheets = append(wb.sheets, s)
	return s, nil
}

func (wb *Workbook) SetActive(name string) error {
	for i, s := range wb.sheets {
		if strings.EqualFold(s.name, name) {
			wb.active = i
			return nil
		}
	}
	return fmt.Errorf("sheet %q not found", name)
}

func (wb *Workbook) SheetNames() ([]string, error) {
	names := make([]string, 0, len(wb.sheets))
	for _, s := range wb.sheets {
		names = append(names, s.name)
	}
	return names, nil
}

// SheetRemover

func (wb *Workbook) RemoveSheet(name string) error {
	if wb.q.NoSheetRemoval {
		return host.ErrNotSupported
	}
	for i, s := range wb.sheets {
		if strings.EqualFold(s.name, name) {
			wb.sheets = append(wb.sheets[:i], wb.sheets[i+1:]...)
			if wb.active >= len(wb.sheets) && wb.active > 0 {
				wb.active = len(wb.sheets) - 1
			}
			return nil
		}
	}
	return fmt.Errorf("sheet %q not found", name)
}

// PivotBuilder

func (wb *Workbook) CreatePivot(spec host.PivotSpec) error {
	if wb.q.NoPivots {
		return host.ErrNotSupported
	}
	target := spec.TargetSheet
	if target == "" {
		target = "Pivot"
	}
	s, ok, _ := wb.Sheet(target)
	if !ok {
		added, err := wb.AddSheet(target)
		if err != nil {
			return err
		}
		s = added
	}
	anchor := spec.Target
	if anchor.Row < 1 {
		anchor = host.CellRef{Row: 1, Col: 1}
	}
	label := fmt.Sprintf("PivotTable(%s)", strings.Join(append(append([]string{}, spec.Rows...), spec.Values...), ", "))
	if err := s.SetCell(anchor.Row, anchor.Col, label); err != nil {
		return err
	}
	wb.pivots = append(wb.pivots, spec)
	return nil
}

// Pivots returns every native pivot build in order.
func (wb *Workbook) Pivots() []host.PivotSpec {
	return wb.pivots
}

// MustSheet returns a concrete sheet for assertions, failing loudly when
// absent.
func (wb *Workbook) MustSheet(name string) *Sheet {
	s, ok, _ := wb.Sheet(name)
	if !ok {
		panic(fmt.Sprintf("memdoc: sheet %q not found", name))
	}
	return s.(*Sheet)
}

// Sheet is one in-memory worksheet.
type Sheet struct {
	wb   *Workbook
	name string

	cells       map[cellKey]cellData
	formats     []AppliedFormat
	merges      []host.Range
	validations []AppliedValidation
	charts      []host.ChartSpec
	colWidths   map[int]float64
}

func newSheet(wb *Workbook, name string) *Sheet {
	return &Sheet{
		wb:        wb,
		name:      name,
		cells:     make(map[cellKey]cellData),
		colWidths: make(map[int]float64),
	}
}

func (s *Sheet) Name() string { return s.name }

func (s *Sheet) SetCell(row, col int, value any) error {
	if row < 1 || col < 1 {
		return fmt.Errorf("cell %d,%d out of range", row, col)
	}
	if s.wb.q.FailCellWrites {
		return fmt.Errorf("cell write rejected by host")
	}
	s.cells[cellKey{row, col}] = cellData{value: value}
	return nil
}

func (s *Sheet) CellValue(row, col int) (any, error) {
	d, ok := s.cells[cellKey{row, col}]
	if !ok {
		return nil, nil
	}
	if d.formula != "" {
		return "=" + d.formula, nil
	}
	return d.value, nil
}

func (s *Sheet) SetFormula(row, col int, formula string) error {
	if row < 1 || col < 1 {
		return fmt.Errorf("cell %d,%d out of range", row, col)
	}
	if s.wb.q.FailFormulaWrites {
		return fmt.Errorf("formula write rejected by host")
	}
	s.cells[cellKey{row, col}] = cellData{formula: strings.TrimPrefix(formula, "=")}
	return nil
}

func (s *Sheet) UsedRange() (host.Range, bool, error) {
	if len(s.cells) == 0 {
		return host.Range{}, false, nil
	}
	r := host.Range{StartRow: 1 << 30, StartCol: 1 << 30}
	for k := range s.cells {
		if k.row < r.StartRow {
			r.StartRow = k.row
		}
		if k.row > r.EndRow {
			r.EndRow = k.row
		}
		if k.col < r.StartCol {
			r.StartCol = k.col
		}
		if k.col > r.EndCol {
			r.EndCol = k.col
		}
	}
	return r, true, nil
}

func (s *Sheet) Clear(rng host.Range) error {
	for k := range s.cells {
		if k.row >= rng.StartRow && k.row <= rng.EndRow && k.col >= rng.StartCol && k.col <= rng.EndCol {
			delete(s.cells, k)
		}
	}
	kept := s.merges[:0]
	for _, m := range s.merges {
		inside := m.StartRow >= rng.StartRow && m.EndRow <= rng.EndRow &&
			m.StartCol >= rng.StartCol && m.EndCol <= rng.EndCol
		if !inside {
			kept = append(kept, m)
		}
	}
	s.merges = kept
	return nil
}

// CellA1Writer

func (s *Sheet) SetCellA1(ref string, value any) error {
	if s.wb.q.NoA1Writes {
		return host.ErrNotSupported
	}
	cell, err := host.ParseCell(ref)
	if err != nil {
		return err
	}
	return s.SetCell(cell.Row, cell.Col, value)
}

// FormulaA1Writer

func (s *Sheet) SetFormulaA1(ref string, formula string) error {
	if s.wb.q.NoA1Writes {
		return host.ErrNotSupported
	}
	cell, err := host.ParseCell(ref)
	if err != nil {
		return err
	}
	return s.SetFormula(cell.Row, cell.Col, formula)
}

// RangeValuesWriter

func (s *Sheet) SetRangeValues(rng host.Range, values [][]any) error {
	if s.wb.q.NoRangeValues {
		return host.ErrNotSupported
	}
	for r, rowValues := range values {
		if rng.StartRow+r > rng.EndRow {
			break
		}
		for c, v := range rowValues {
			if rng.StartCol+c > rng.EndCol {
				break
			}
			if err := s.SetCell(rng.StartRow+r, rng.StartCol+c, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// RangeFormatter

func (s *Sheet) FormatRange(rng host.Range, format host.CellFormat) error {
	if s.wb.q.NoRangeFormat {
		return host.ErrNotSupported
	}
	s.formats = append(s.formats, AppliedFormat{Range: rng, Format: format})
	return nil
}

// RangeSorter

func (s *Sheet) SortRange(rng host.Range, keyCol int, ascending bool) error {
	if s.wb.q.NoRangeSort {
		return host.ErrNotSupported
	}
	if keyCol < 1 || keyCol > rng.Cols() {
		return fmt.Errorf("key column %d outside range of %d columns", keyCol, rng.Cols())
	}
	rows := make([][]any, 0, rng.Rows())
	for r := rng.StartRow; r <= rng.EndRow; r++ {
		row := make([]any, rng.Cols())
		for c := rng.StartCol; c <= rng.EndCol; c++ {
			v, _ := s.CellValue(r, c)
			row[c-rng.StartCol] = v
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		less := compareCellValues(rows[i][keyCol-1], rows[j][keyCol-1]) < 0
		if ascending {
			return less
		}
		return compareCellValues(rows[i][keyCol-1], rows[j][keyCol-1]) > 0
	})
	for r, row := range rows {
		for c, v := range row {
			if v == nil {
				delete(s.cells, cellKey{rng.StartRow + r, rng.StartCol + c})
				continue
			}
			if err := s.SetCell(rng.StartRow+r, rng.StartCol+c, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// RangeMerger

func (s *Sheet) MergeRange(rng host.Range) error {
	if s.wb.q.NoMerge {
		return host.ErrNotSupported
	}
	s.merges = append(s.merges, rng)
	return nil
}

// ValidationSetter

func (s *Sheet) SetValidation(rng host.Range, v host.Validation) error {
	if s.wb.q.NoValidation {
		return host.ErrNotSupported
	}
	s.validations = append(s.validations, AppliedValidation{Range: rng, Validation: v})
	return nil
}

// ChartBuilder

func (s *Sheet) AddChart(spec host.ChartSpec) error {
	if s.wb.q.NoCharts {
		return host.ErrNotSupported
	}
	if (spec.Trendline || spec.DataLabels) && s.wb.q.NoChartExtras {
		return host.ErrNotSupported
	}
	s.charts = append(s.charts, spec)
	return nil
}

// ColumnSizer

func (s *Sheet) SetColumnWidth(col int, width float64) error {
	if s.wb.q.NoColumnSizing {
		return host.ErrNotSupported
	}
	if col < 1 {
		return fmt.Errorf("column %d out of range", col)
	}
	s.colWidths[col] = width
	return nil
}

// Snapshot accessors

// ValueA1 reads a cell by A1 reference, for assertions.
func (s *Sheet) ValueA1(ref string) any {
	cell, err := host.ParseCell(ref)
	if err != nil {
		return nil
	}
	v, _ := s.CellValue(cell.Row, cell.Col)
	return v
}

// CellsA1 returns all non-empty cells keyed by A1 reference.
func (s *Sheet) CellsA1() map[string]any {
	out := make(map[string]any, len(s.cells))
	for k, d := range s.cells {
		v := d.value
		if d.formula != "" {
			v = "=" + d.formula
		}
		out[host.FormatCell(host.CellRef{Row: k.row, Col: k.col})] = v
	}
	return out
}

// Formats returns every formatting call in order.
func (s *Sheet) Formats() []AppliedFormat { return s.formats }

// Merges returns the live merged ranges.
func (s *Sheet) Merges() []host.Range { return s.merges }

// Validations returns every validation call in order.
func (s *Sheet) Validations() []AppliedValidation { return s.validations }

// Charts returns every chart on the sheet.
func (s *Sheet) Charts() []host.ChartSpec { return s.charts }

// ColumnWidths returns explicitly sized columns.
func (s *Sheet) ColumnWidths() map[int]float64 { return s.colWidths }

// compareCellValues orders numbers numerically, everything else as strings.
// nil sorts last so sorted data packs to the top of the range.
func compareCellValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return 1
	}
	if b == nil {
		return -1
	}
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
