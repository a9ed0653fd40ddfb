package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/davan/docplan/pkg/execerr"
	"github.com/davan/docplan/pkg/host"
	"github.com/davan/docplan/pkg/plan"
)

func (e *Engine) runSheetAction(ec *execContext, a *plan.Action) error {
	wb, err := ec.workbook()
	if err != nil {
		return err
	}

	switch a.Op {
	case plan.OpUpsertBlock:
		return e.upsertSheetBlock(ec, wb, a)
	case plan.OpDeleteBlock:
		return e.deleteSheetBlock(ec, wb, a)
	case plan.OpSetCellValue:
		return ec.setCellValue(wb, a)
	case plan.OpSetCellFormula:
		return ec.setCellFormula(wb, a)
	case plan.OpSetRangeValues:
		return ec.setRangeValues(wb, a)
	case plan.OpFormatRange:
		return ec.formatRange(wb, a)
	case plan.OpSortRange:
		return ec.sortRange(wb, a)
	case plan.OpMergeRange:
		return ec.mergeRange(wb, a)
	case plan.OpAddSheet:
		return ec.addSheet(wb, a)
	case plan.OpSetDataValidation:
		return ec.setDataValidation(wb, a)
	case plan.OpCreatePivotTable:
		return ec.createPivotTable(wb, a)
	case plan.OpAddChart:
		return ec.addChart(wb, a)
	case plan.OpSetColumnWidth:
		return ec.setColumnWidth(wb, a)
	}
	return execerr.Newf(execerr.KindUnsupportedOperation, "op %q is not available on a spreadsheet host", a.Op).ForOp(a.Op)
}

// splitSheetRef splits an optionally sheet-qualified reference on the last
// qualifier, so quoted names like 'Q1 Data'!A1 keep their interior intact.
func splitSheetRef(ref string) (sheetName, rest string) {
	cleaned := strings.TrimSpace(ref)
	i := strings.LastIndex(cleaned, "!")
	if i < 0 {
		return "", cleaned
	}
	name := strings.TrimSpace(cleaned[:i])
	name = strings.Trim(name, "'")
	return name, cleaned[i+1:]
}

// resolveSheet picks the sheet a reference addresses: the explicit qualifier
// first, then the enclosing block's sheet, then the active sheet. A qualifier
// that names no known sheet is a hard failure, and a valid one is activated so
// follow-up unqualified actions land where the plan author was looking.
func (ec *execContext) resolveSheet(wb host.Workbook, qualifier string) (host.Sheet, error) {
	if qualifier != "" {
		sheet, ok, err := wb.Sheet(qualifier)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, execerr.Newf(execerr.KindTargetNotFound, "sheet %q not found", qualifier)
		}
		if err := wb.SetActive(sheet.Name()); err != nil {
			ec.log.Debug().Err(err).Str("sheet", qualifier).Msg("could not activate sheet")
		}
		return sheet, nil
	}

	if ec.sheetScope != "" {
		sheet, ok, err := wb.Sheet(ec.sheetScope)
		if err != nil {
			return nil, err
		}
		if ok {
			return sheet, nil
		}
		ec.log.Warn().Str("sheet", ec.sheetScope).Msg("block sheet vanished mid-plan, falling back to active sheet")
	}

	return wb.ActiveSheet()
}

func (ec *execContext) resolveCell(wb host.Workbook, ref string) (host.Sheet, host.CellRef, error) {
	qualifier, rest := splitSheetRef(ref)
	sheet, err := ec.resolveSheet(wb, qualifier)
	if err != nil {
		return nil, host.CellRef{}, err
	}
	cell, err := host.ParseCell(rest)
	if err != nil {
		return nil, host.CellRef{}, execerr.Wrap(execerr.KindTargetNotFound, "bad cell reference", err)
	}
	return sheet, cell, nil
}

func (ec *execContext) resolveRange(wb host.Workbook, ref string) (host.Sheet, host.Range, error) {
	qualifier, rest := splitSheetRef(ref)
	sheet, err := ec.resolveSheet(wb, qualifier)
	if err != nil {
		return nil, host.Range{}, err
	}
	rng, err := host.ParseRange(rest)
	if err != nil {
		return nil, host.Range{}, execerr.Wrap(execerr.KindTargetNotFound, "bad range reference", err)
	}
	return sheet, rng, nil
}

type setCellValueParams struct {
	Cell  string `json:"cell"`
	Value any    `json:"value"`
}

func (ec *execContext) setCellValue(wb host.Workbook, a *plan.Action) error {
	var p setCellValueParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	sheet, cell, err := ec.resolveCell(wb, p.Cell)
	if err != nil {
		return err
	}

	return ec.attempt(a.Op,
		strategy{"a1_write", func() error {
			w, ok := sheet.(host.CellA1Writer)
			if !ok {
				return host.ErrNotSupported
			}
			return w.SetCellA1(host.FormatCell(cell), p.Value)
		}},
		strategy{"rc_write", func() error {
			return sheet.SetCell(cell.Row, cell.Col, p.Value)
		}},
	)
}

type setCellFormulaParams struct {
	Cell    string `json:"cell"`
	Formula string `json:"formula"`
}

func (ec *execContext) setCellFormula(wb host.Workbook, a *plan.Action) error {
	var p setCellFormulaParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	sheet, cell, err := ec.resolveCell(wb, p.Cell)
	if err != nil {
		return err
	}
	formula := strings.TrimPrefix(strings.TrimSpace(p.Formula), "=")
	if formula == "" {
		return execerr.New(execerr.KindInvalidPlan, "formula must not be empty").ForOp(a.Op)
	}

	return ec.attempt(a.Op,
		strategy{"a1_formula", func() error {
			w, ok := sheet.(host.FormulaA1Writer)
			if !ok {
				return host.ErrNotSupported
			}
			return w.SetFormulaA1(host.FormatCell(cell), formula)
		}},
		strategy{"rc_formula", func() error {
			return sheet.SetFormula(cell.Row, cell.Col, formula)
		}},
	)
}

type setRangeValuesParams struct {
	Range  string  `json:"range"`
	Values [][]any `json:"values"`
}

func (ec *execContext) setRangeValues(wb host.Workbook, a *plan.Action) error {
	var p setRangeValuesParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	if len(p.Values) == 0 {
		return execerr.New(execerr.KindInvalidPlan, "values must not be empty").ForOp(a.Op)
	}
	sheet, rng, err := ec.resolveRange(wb, p.Range)
	if err != nil {
		return err
	}

	// A bare top-left anchor grows to fit the matrix.
	if rng.Single() && (len(p.Values) > 1 || len(p.Values[0]) > 1) {
		rng.EndRow = rng.StartRow + len(p.Values) - 1
		rng.EndCol = rng.StartCol + maxRowWidth(p.Values) - 1
	}

	return ec.attempt(a.Op,
		strategy{"range_write", func() error {
			w, ok := sheet.(host.RangeValuesWriter)
			if !ok {
				return host.ErrNotSupported
			}
			return w.SetRangeValues(rng, p.Values)
		}},
		strategy{"cell_by_cell", func() error {
			for r, row := range p.Values {
				if rng.StartRow+r > rng.EndRow {
					break
				}
				for c, v := range row {
					if rng.StartCol+c > rng.EndCol {
						break
					}
					if err := sheet.SetCell(rng.StartRow+r, rng.StartCol+c, v); err != nil {
						return err
					}
				}
			}
			return nil
		}},
	)
}

type formatRangeParams struct {
	Range  string          `json:"range"`
	Format host.CellFormat `json:"format"`
}

func (ec *execContext) formatRange(wb host.Workbook, a *plan.Action) error {
	var p formatRangeParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	sheet, rng, err := ec.resolveRange(wb, p.Range)
	if err != nil {
		return err
	}

	return ec.attempt(a.Op, strategy{"format", func() error {
		f, ok := sheet.(host.RangeFormatter)
		if !ok {
			return host.ErrNotSupported
		}
		return f.FormatRange(rng, p.Format)
	}})
}

type sortRangeParams struct {
	Range     string `json:"range"`
	KeyColumn int    `json:"key_column"`
	Order     string `json:"order"`
}

func (ec *execContext) sortRange(wb host.Workbook, a *plan.Action) error {
	var p sortRangeParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	sheet, rng, err := ec.resolveRange(wb, p.Range)
	if err != nil {
		return err
	}
	if p.KeyColumn < 1 {
		p.KeyColumn = 1
	}
	if p.KeyColumn > rng.Cols() {
		return execerr.Newf(execerr.KindInvalidPlan, "key column %d outside range of %d columns", p.KeyColumn, rng.Cols()).ForOp(a.Op)
	}
	ascending := p.Order != "desc"

	return ec.attempt(a.Op,
		strategy{"native_sort", func() error {
			sorter, ok := sheet.(host.RangeSorter)
			if !ok {
				return host.ErrNotSupported
			}
			return sorter.SortRange(rng, p.KeyColumn, ascending)
		}},
		strategy{"read_sort_write", func() error {
			return manualSort(sheet, rng, p.KeyColumn, ascending)
		}},
	)
}

// manualSort reads the range, orders rows in memory and writes them back. It
// only needs the core cell surface, so it works on builds without a native
// sort call. Formats do not travel with their rows on this path.
func manualSort(sheet host.Sheet, rng host.Range, keyCol int, ascending bool) error {
	rows := make([][]any, 0, rng.Rows())
	for r := rng.StartRow; r <= rng.EndRow; r++ {
		values := make([]any, rng.Cols())
		for c := rng.StartCol; c <= rng.EndCol; c++ {
			v, err := sheet.CellValue(r, c)
			if err != nil {
				return err
			}
			values[c-rng.StartCol] = v
		}
		rows = append(rows, values)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if ascending {
			return compareSheetValues(rows[i][keyCol-1], rows[j][keyCol-1]) < 0
		}
		return compareSheetValues(rows[i][keyCol-1], rows[j][keyCol-1]) > 0
	})

	for i, rw := range rows {
		for c, v := range rw {
			target := host.CellRef{Row: rng.StartRow + i, Col: rng.StartCol + c}
			if v == nil {
				if err := sheet.Clear(host.Range{StartRow: target.Row, StartCol: target.Col, EndRow: target.Row, EndCol: target.Col}); err != nil {
					return err
				}
				continue
			}
			if err := sheet.SetCell(target.Row, target.Col, v); err != nil {
				return err
			}
		}
	}
	return nil
}

type mergeRangeParams struct {
	Range string `json:"range"`
}

func (ec *execContext) mergeRange(wb host.Workbook, a *plan.Action) error {
	var p mergeRangeParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	sheet, rng, err := ec.resolveRange(wb, p.Range)
	if err != nil {
		return err
	}
	if rng.Single() {
		return execerr.New(execerr.KindInvalidPlan, "merge range must span more than one cell").ForOp(a.Op)
	}

	return ec.attempt(a.Op, strategy{"merge", func() error {
		m, ok := sheet.(host.RangeMerger)
		if !ok {
			return host.ErrNotSupported
		}
		return m.MergeRange(rng)
	}})
}

type addSheetParams struct {
	Name string `json:"name"`
}

func (ec *execContext) addSheet(wb host.Workbook, a *plan.Action) error {
	var p addSheetParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return execerr.New(execerr.KindInvalidPlan, "sheet name must not be empty").ForOp(a.Op)
	}

	return ec.attempt(a.Op, strategy{"add_sheet", func() error {
		if _, err := wb.AddSheet(name); err != nil {
			return err
		}
		return wb.SetActive(name)
	}})
}

type setDataValidationParams struct {
	Range          string `json:"range"`
	ValidationType string `json:"validation_type"`
	Source         any    `json:"source"`
}

func (ec *execContext) setDataValidation(wb host.Workbook, a *plan.Action) error {
	var p setDataValidationParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	sheet, rng, err := ec.resolveRange(wb, p.Range)
	if err != nil {
		return err
	}
	source := validationSource(p.Source)
	if len(source) == 0 {
		return execerr.New(execerr.KindInvalidPlan, "validation source must not be empty").ForOp(a.Op)
	}
	vType := p.ValidationType
	if vType == "" {
		vType = "list"
	}

	return ec.attempt(a.Op, strategy{"validation", func() error {
		v, ok := sheet.(host.ValidationSetter)
		if !ok {
			return host.ErrNotSupported
		}
		return v.SetValidation(rng, host.Validation{Type: vType, Source: source})
	}})
}

// validationSource accepts the two shapes models emit: an array of values or
// one comma-separated string.
func validationSource(raw any) []string {
	switch v := raw.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := strings.TrimSpace(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

type createPivotTableParams struct {
	SourceRange string   `json:"source_range"`
	Rows        []string `json:"rows"`
	Columns     []string `json:"columns"`
	Values      []string `json:"values"`
	TargetSheet string   `json:"target_sheet"`
	TargetCell  string   `json:"target_cell"`
}

func (ec *execContext) createPivotTable(wb host.Workbook, a *plan.Action) error {
	var p createPivotTableParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	if len(p.Rows) == 0 || len(p.Values) == 0 {
		return execerr.New(execerr.KindInvalidPlan, "pivot needs at least one row field and one value field").ForOp(a.Op)
	}
	srcSheet, srcRange, err := ec.resolveRange(wb, p.SourceRange)
	if err != nil {
		return err
	}
	if srcRange.Rows() < 2 {
		return execerr.New(execerr.KindInvalidPlan, "pivot source needs a header row and at least one data row").ForOp(a.Op)
	}

	targetCell := p.TargetCell
	if targetCell == "" {
		targetCell = "A1"
	}
	anchor, err := host.ParseCell(targetCell)
	if err != nil {
		return execerr.Wrap(execerr.KindTargetNotFound, "bad target cell", err).ForOp(a.Op)
	}

	spec := host.PivotSpec{
		SourceSheet: srcSheet.Name(),
		Source:      srcRange,
		TargetSheet: p.TargetSheet,
		Target:      anchor,
		Rows:        p.Rows,
		Columns:     p.Columns,
		Values:      p.Values,
	}

	return ec.attempt(a.Op,
		strategy{"native_pivot", func() error {
			builder, ok := wb.(host.PivotBuilder)
			if !ok {
				return host.ErrNotSupported
			}
			return builder.CreatePivot(spec)
		}},
		strategy{"summary_table", func() error {
			return writePivotSummary(wb, srcSheet, spec)
		}},
	)
}

// writePivotSummary aggregates the source data in memory and writes a plain
// grouped-sum table where the native pivot would have gone. It is a visible
// stand-in with the same numbers, not a refreshable pivot.
func writePivotSummary(wb host.Workbook, src host.Sheet, spec host.PivotSpec) error {
	headers := make([]string, 0, spec.Source.Cols())
	for c := spec.Source.StartCol; c <= spec.Source.EndCol; c++ {
		v, err := src.CellValue(spec.Source.StartRow, c)
		if err != nil {
			return err
		}
		headers = append(headers, strings.TrimSpace(fmt.Sprint(v)))
	}
	colOf := func(field string) (int, bool) {
		for i, h := range headers {
			if strings.EqualFold(h, field) {
				return i, true
			}
		}
		return 0, false
	}

	rowField := spec.Rows[0]
	rowCol, ok := colOf(rowField)
	if !ok {
		return execerr.Newf(execerr.KindTargetNotFound, "pivot row field %q not in source header", rowField)
	}
	valueCols := make([]int, 0, len(spec.Values))
	for _, field := range spec.Values {
		c, ok := colOf(field)
		if !ok {
			return execerr.Newf(execerr.KindTargetNotFound, "pivot value field %q not in source header", field)
		}
		valueCols = append(valueCols, c)
	}

	sums := make(map[string][]float64)
	var order []string
	for r := spec.Source.StartRow + 1; r <= spec.Source.EndRow; r++ {
		keyRaw, err := src.CellValue(r, spec.Source.StartCol+rowCol)
		if err != nil {
			return err
		}
		key := strings.TrimSpace(fmt.Sprint(keyRaw))
		if key == "" || key == "<nil>" {
			continue
		}
		if _, seen := sums[key]; !seen {
			sums[key] = make([]float64, len(valueCols))
			order = append(order, key)
		}
		for i, vc := range valueCols {
			raw, err := src.CellValue(r, spec.Source.StartCol+vc)
			if err != nil {
				return err
			}
			if f, ok := sheetValueToFloat(raw); ok {
				sums[key][i] += f
			}
		}
	}

	// Writing at the default anchor of the source sheet would clobber the
	// data being pivoted, so an unnamed target gets its own sheet.
	targetName := spec.TargetSheet
	if targetName == "" {
		targetName = "Pivot"
	}
	target, ok, err := wb.Sheet(targetName)
	if err != nil {
		return err
	}
	if !ok {
		target, err = wb.AddSheet(targetName)
		if err != nil {
			return err
		}
	}

	row := spec.Target.Row
	if err := target.SetCell(row, spec.Target.Col, rowField); err != nil {
		return err
	}
	for i, field := range spec.Values {
		if err := target.SetCell(row, spec.Target.Col+1+i, "Sum of "+field); err != nil {
			return err
		}
	}
	for _, key := range order {
		row++
		if err := target.SetCell(row, spec.Target.Col, key); err != nil {
			return err
		}
		for i, sum := range sums[key] {
			if err := target.SetCell(row, spec.Target.Col+1+i, sum); err != nil {
				return err
			}
		}
	}
	return nil
}

type addChartParams struct {
	Range      string `json:"range"`
	ChartType  string `json:"chart_type"`
	Title      string `json:"title"`
	Trendline  bool   `json:"trendline"`
	DataLabels bool   `json:"data_labels"`
}

// addChart treats the chart itself as structural and its embellishments as
// decorative: when the full build is refused the chart is retried bare, and
// only a host that cannot chart at all fails the action.
func (ec *execContext) addChart(wb host.Workbook, a *plan.Action) error {
	var p addChartParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	sheet, rng, err := ec.resolveRange(wb, p.Range)
	if err != nil {
		return err
	}
	chartType := p.ChartType
	if chartType == "" {
		chartType = "column"
	}

	spec := host.ChartSpec{
		Type:       chartType,
		Source:     rng,
		Title:      p.Title,
		Trendline:  p.Trendline,
		DataLabels: p.DataLabels,
	}

	builder := func(s host.ChartSpec) func() error {
		return func() error {
			cb, ok := sheet.(host.ChartBuilder)
			if !ok {
				return host.ErrNotSupported
			}
			return cb.AddChart(s)
		}
	}

	if !p.Trendline && !p.DataLabels {
		return ec.attempt(a.Op, strategy{"chart", builder(spec)})
	}

	bare := spec
	bare.Trendline = false
	bare.DataLabels = false
	return ec.attempt(a.Op,
		strategy{"chart_with_extras", builder(spec)},
		strategy{"chart_bare", builder(bare)},
	)
}

type setColumnWidthParams struct {
	Column string  `json:"column"`
	Width  float64 `json:"width"`
}

func (ec *execContext) setColumnWidth(wb host.Workbook, a *plan.Action) error {
	var p setColumnWidthParams
	if err := a.DecodeParams(&p); err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "bad params", err).ForOp(a.Op)
	}
	if p.Width <= 0 {
		return execerr.New(execerr.KindInvalidPlan, "width must be positive").ForOp(a.Op)
	}

	qualifier, colRef := splitSheetRef(p.Column)
	sheet, err := ec.resolveSheet(wb, qualifier)
	if err != nil {
		return err
	}
	col, err := parseColumn(colRef)
	if err != nil {
		return execerr.Wrap(execerr.KindTargetNotFound, "bad column", err).ForOp(a.Op)
	}

	return ec.attempt(a.Op, strategy{"column_width", func() error {
		sizer, ok := sheet.(host.ColumnSizer)
		if !ok {
			return host.ErrNotSupported
		}
		return sizer.SetColumnWidth(col, p.Width)
	}})
}

// parseColumn accepts a column letter ("C") or 1-based number ("3").
func parseColumn(ref string) (int, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(ref), "$", "")
	if n, err := strconv.Atoi(cleaned); err == nil {
		if n < 1 {
			return 0, fmt.Errorf("column %d out of range", n)
		}
		return n, nil
	}
	return host.ColumnNumber(cleaned)
}

func maxRowWidth(values [][]any) int {
	max := 1
	for _, row := range values {
		if len(row) > max {
			max = len(row)
		}
	}
	return max
}

// compareSheetValues orders numbers numerically and everything else as
// strings, with blanks last so data packs to the top of the range.
func compareSheetValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return 1
	}
	if b == nil {
		return -1
	}
	af, aNum := sheetValueToFloat(a)
	bf, bNum := sheetValueToFloat(b)
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

func sheetValueToFloat(v any) (float64, bool) {
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
