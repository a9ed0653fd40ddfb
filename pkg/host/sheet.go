package host

// CellRef is a 1-based cell coordinate.
type CellRef struct {
	Row int
	Col int
}

// Range is a 1-based, inclusive rectangle of cells.
type Range struct {
	StartRow int
	StartCol int
	EndRow   int
	EndCol   int
}

// Rows returns the row count of the range.
func (r Range) Rows() int {
	return r.EndRow - r.StartRow + 1
}

// Cols returns the column count of the range.
func (r Range) Cols() int {
	return r.EndCol - r.StartCol + 1
}

// Single reports whether the range covers exactly one cell.
func (r Range) Single() bool {
	return r.StartRow == r.EndRow && r.StartCol == r.EndCol
}

// CellFormat carries formatting attributes for a range. Pointer fields
// distinguish "leave alone" from an explicit false/zero.
type CellFormat struct {
	Bold         *bool    `json:"bold,omitempty"`
	Italic       *bool    `json:"italic,omitempty"`
	FontName     string   `json:"font_name,omitempty"`
	FontSize     *float64 `json:"font_size,omitempty"`
	Color        string   `json:"color,omitempty"`
	Background   string   `json:"background,omitempty"`
	NumberFormat string   `json:"number_format,omitempty"`
	Align        string   `json:"align,omitempty"`
}

// Validation restricts what a range of cells accepts.
type Validation struct {
	Type   string
	Source []string
}

// PivotSpec describes a pivot table build.
type PivotSpec struct {
	SourceSheet string
	Source      Range
	TargetSheet string
	Target      CellRef
	Rows        []string
	Columns     []string
	Values      []string
}

// ChartSpec describes a chart anchored near its source data.
type ChartSpec struct {
	Type       string
	Source     Range
	Title      string
	Trendline  bool
	DataLabels bool
}

// Workbook is the required core of a spreadsheet host.
type Workbook interface {
	// ActiveSheet returns the sheet current edits land on.
	ActiveSheet() (Sheet, error)
	// Sheet resolves a sheet by name.
	Sheet(name string) (Sheet, bool, error)
	// AddSheet creates a new sheet. Fails when the name is taken.
	AddSheet(name string) (Sheet, error)
	// SetActive activates a named sheet.
	SetActive(name string) error
	// SheetNames lists sheets in workbook order.
	SheetNames() ([]string, error)
}

// SheetRemover deletes whole sheets. Hosts without it degrade block deletion
// to clearing the sheet.
type SheetRemover interface {
	RemoveSheet(name string) error
}

// PivotBuilder creates a native pivot table.
type PivotBuilder interface {
	CreatePivot(spec PivotSpec) error
}

// Sheet is the required core of one worksheet. Writes are row/col addressed;
// A1-flavored call shapes are optional capabilities.
type Sheet interface {
	Name() string
	// SetCell writes a value.
	SetCell(row, col int, value any) error
	// CellValue reads a value. Empty cells return nil.
	CellValue(row, col int) (any, error)
	// SetFormula writes a formula, stored without a leading =.
	SetFormula(row, col int, formula string) error
	// UsedRange returns the bounding rectangle of non-empty content.
	// ok=false when the sheet is empty.
	UsedRange() (Range, bool, error)
	// Clear empties values, formulas and formats in the range.
	Clear(rng Range) error
}

// CellA1Writer writes a value through an A1-style reference.
type CellA1Writer interface {
	SetCellA1(ref string, value any) error
}

// FormulaA1Writer writes a formula through an A1-style reference.
type FormulaA1Writer interface {
	SetFormulaA1(ref string, formula string) error
}

// RangeValuesWriter writes a matrix in one call.
type RangeValuesWriter interface {
	SetRangeValues(rng Range, values [][]any) error
}

// RangeFormatter applies formatting to a range.
type RangeFormatter interface {
	FormatRange(rng Range, format CellFormat) error
}

// RangeSorter sorts range rows in place by a key column within the range.
type RangeSorter interface {
	SortRange(rng Range, keyCol int, ascending bool) error
}

// RangeMerger merges a range into one cell.
type RangeMerger interface {
	MergeRange(rng Range) error
}

// ValidationSetter applies data validation to a range.
type ValidationSetter interface {
	SetValidation(rng Range, v Validation) error
}

// ChartBuilder adds a chart to the sheet.
type ChartBuilder interface {
	AddChart(spec ChartSpec) error
}

// ColumnSizer sets a column width in character units.
type ColumnSizer interface {
	SetColumnWidth(col int, width float64) error
}
