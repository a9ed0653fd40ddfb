package plan

import (
	"sort"
	"strings"
)

// Canonical operation names. Aliases from looser model output are mapped onto
// these by the normalizer.
const (
	OpUpsertBlock = "upsert_block"
	OpDeleteBlock = "delete_block"

	OpInsertText      = "insert_text"
	OpInsertHeading   = "insert_heading"
	OpApplyStyle      = "apply_style"
	OpInsertTable     = "insert_table"
	OpSetTableCell    = "set_table_cell"
	OpInsertList      = "insert_list"
	OpInsertImage     = "insert_image"
	OpInsertPageBreak = "insert_page_break"
	OpFindReplace     = "find_replace"

	OpSetCellValue      = "set_cell_value"
	OpSetCellFormula    = "set_cell_formula"
	OpSetRangeValues    = "set_range_values"
	OpFormatRange       = "format_range"
	OpSortRange         = "sort_range"
	OpMergeRange        = "merge_range"
	OpAddSheet          = "add_sheet"
	OpSetDataValidation = "set_data_validation"
	OpCreatePivotTable  = "create_pivot_table"
	OpAddChart          = "add_chart"
	OpSetColumnWidth    = "set_column_width"

	OpAddSlide        = "add_slide"
	OpSetSlideTitle   = "set_slide_title"
	OpAddTextBox      = "add_text_box"
	OpAddBullets      = "add_bullets"
	OpSetSpeakerNotes = "set_speaker_notes"
	OpApplyTheme      = "apply_theme"
	OpAddImage        = "add_image"
	OpDeleteSlide     = "delete_slide"
)

// ParamSpec describes one op-specific parameter for schema generation and
// default filling. An empty Type places no type constraint on the value.
type ParamSpec struct {
	Name        string
	Type        string
	Required    bool
	Default     any
	Enum        []string
	Description string
}

// OpSpec describes a canonical operation: which hosts may run it, its
// parameters, and whether a capability gap may degrade it to a placeholder.
type OpSpec struct {
	Op         string
	Hosts      []Host
	Params     []ParamSpec
	Decorative bool
	Nested     bool
}

// AllowedOn reports whether the op may run against host h.
func (s OpSpec) AllowedOn(h Host) bool {
	for _, allowed := range s.Hosts {
		if allowed == h {
			return true
		}
	}
	return false
}

// Param returns the spec for a named parameter.
func (s OpSpec) Param(name string) (ParamSpec, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

var allHosts = []Host{HostText, HostSpreadsheet, HostPresentation}

var registry = map[string]OpSpec{
	OpUpsertBlock: {
		Op:     OpUpsertBlock,
		Hosts:  allHosts,
		Nested: true,
		Params: []ParamSpec{},
	},
	OpDeleteBlock: {
		Op:    OpDeleteBlock,
		Hosts: allHosts,
	},

	OpInsertText: {
		Op:    OpInsertText,
		Hosts: []Host{HostText},
		Params: []ParamSpec{
			{Name: "content", Type: "string", Required: true, Description: "Text to insert."},
			{Name: "position", Type: "string", Default: "cursor", Enum: []string{"cursor", "start", "end"}, Description: "Where to insert relative to the document."},
			{Name: "style", Type: "object", Description: "Character style for the inserted run."},
		},
	},
	OpInsertHeading: {
		Op:    OpInsertHeading,
		Hosts: []Host{HostText},
		Params: []ParamSpec{
			{Name: "content", Type: "string", Required: true, Description: "Heading text."},
			{Name: "level", Type: "integer", Default: float64(1), Description: "Outline level, 1 is top."},
		},
	},
	OpApplyStyle: {
		Op:    OpApplyStyle,
		Hosts: []Host{HostText},
		Params: []ParamSpec{
			{Name: "style", Type: "object", Required: true, Description: "Style attributes to apply."},
			{Name: "find", Type: "string", Description: "Text to style. Styles the current selection when omitted."},
		},
	},
	OpInsertTable: {
		Op:    OpInsertTable,
		Hosts: []Host{HostText},
		Params: []ParamSpec{
			{Name: "rows", Type: "integer", Required: true, Description: "Row count."},
			{Name: "cols", Type: "integer", Required: true, Description: "Column count."},
			{Name: "data", Type: "array", Description: "Optional row-major cell text."},
		},
	},
	OpSetTableCell: {
		Op:    OpSetTableCell,
		Hosts: []Host{HostText},
		Params: []ParamSpec{
			{Name: "row", Type: "integer", Required: true, Description: "1-based row."},
			{Name: "col", Type: "integer", Required: true, Description: "1-based column."},
			{Name: "content", Type: "string", Required: true, Description: "Cell text."},
			{Name: "table_index", Type: "integer", Default: float64(0), Description: "Which table to address, 0 is the most recently inserted."},
		},
	},
	OpInsertList: {
		Op:    OpInsertList,
		Hosts: []Host{HostText},
		Params: []ParamSpec{
			{Name: "items", Type: "array", Required: true, Description: "List items in order."},
			{Name: "ordered", Type: "boolean", Default: false, Description: "Numbered instead of bulleted."},
		},
	},
	OpInsertImage: {
		Op:         OpInsertImage,
		Hosts:      []Host{HostText},
		Decorative: true,
		Params: []ParamSpec{
			{Name: "source", Type: "string", Required: true, Description: "Image URL or path."},
			{Name: "width", Type: "integer", Description: "Display width in points."},
			{Name: "height", Type: "integer", Description: "Display height in points."},
		},
	},
	OpInsertPageBreak: {
		Op:    OpInsertPageBreak,
		Hosts: []Host{HostText},
	},
	OpFindReplace: {
		Op:    OpFindReplace,
		Hosts: []Host{HostText},
		Params: []ParamSpec{
			{Name: "find", Type: "string", Required: true, Description: "Text to search for."},
			{Name: "replace", Type: "string", Required: true, Description: "Replacement text."},
			{Name: "all", Type: "boolean", Default: true, Description: "Replace every occurrence instead of the first."},
		},
	},

	OpSetCellValue: {
		Op:    OpSetCellValue,
		Hosts: []Host{HostSpreadsheet},
		Params: []ParamSpec{
			{Name: "cell", Type: "string", Required: true, Description: "A1-style cell, optionally sheet-qualified."},
			{Name: "value", Required: true, Description: "Value to write."},
		},
	},
	OpSetCellFormula: {
		Op:    OpSetCellFormula,
		Hosts: []Host{HostSpreadsheet},
		Params: []ParamSpec{
			{Name: "cell", Type: "string", Required: true, Description: "A1-style cell, optionally sheet-qualified."},
			{Name: "formula", Type: "string", Required: true, Description: "Formula text, leading = optional."},
		},
	},
	OpSetRangeValues: {
		Op:    OpSetRangeValues,
		Hosts: []Host{HostSpreadsheet},
		Params: []ParamSpec{
			{Name: "range", Type: "string", Required: true, Description: "A1-style range, optionally sheet-qualified."},
			{Name: "values", Type: "array", Required: true, Description: "Row-major matrix of values."},
		},
	},
	OpFormatRange: {
		Op:    OpFormatRange,
		Hosts: []Host{HostSpreadsheet},
		Params: []ParamSpec{
			{Name: "range", Type: "string", Required: true, Description: "A1-style range."},
			{Name: "format", Type: "object", Required: true, Description: "Formatting attributes to apply."},
		},
	},
	OpSortRange: {
		Op:    OpSortRange,
		Hosts: []Host{HostSpreadsheet},
		Params: []ParamSpec{
			{Name: "range", Type: "string", Required: true, Description: "A1-style range to sort."},
			{Name: "key_column", Type: "integer", Default: float64(1), Description: "1-based column within the range to sort by."},
			{Name: "order", Type: "string", Default: "asc", Enum: []string{"asc", "desc"}, Description: "Sort direction."},
		},
	},
	OpMergeRange: {
		Op:    OpMergeRange,
		Hosts: []Host{HostSpreadsheet},
		Params: []ParamSpec{
			{Name: "range", Type: "string", Required: true, Description: "A1-style range to merge."},
		},
	},
	OpAddSheet: {
		Op:    OpAddSheet,
		Hosts: []Host{HostSpreadsheet},
		Params: []ParamSpec{
			{Name: "name", Type: "string", Required: true, Description: "New sheet name."},
		},
	},
	OpSetDataValidation: {
		Op:    OpSetDataValidation,
		Hosts: []Host{HostSpreadsheet},
		Params: []ParamSpec{
			{Name: "range", Type: "string", Required: true, Description: "A1-style range to validate."},
			{Name: "validation_type", Type: "string", Default: "list", Enum: []string{"list"}, Description: "Validation kind."},
			{Name: "source", Required: true, Description: "Allowed values, an array or comma-separated string."},
		},
	},
	OpCreatePivotTable: {
		Op:    OpCreatePivotTable,
		Hosts: []Host{HostSpreadsheet},
		Params: []ParamSpec{
			{Name: "source_range", Type: "string", Required: true, Description: "A1-style source data range."},
			{Name: "rows", Type: "array", Required: true, Description: "Row field names."},
			{Name: "values", Type: "array", Required: true, Description: "Value field names, aggregated by sum."},
			{Name: "columns", Type: "array", Description: "Column field names."},
			{Name: "target_sheet", Type: "string", Description: "Sheet to place the pivot on. A new sheet is created when omitted."},
			{Name: "target_cell", Type: "string", Default: "A1", Description: "Top-left anchor cell."},
		},
	},
	OpAddChart: {
		Op:    OpAddChart,
		Hosts: []Host{HostSpreadsheet},
		Params: []ParamSpec{
			{Name: "range", Type: "string", Required: true, Description: "A1-style data range."},
			{Name: "chart_type", Type: "string", Default: "column", Enum: []string{"column", "bar", "line", "pie", "area", "scatter"}, Description: "Chart kind."},
			{Name: "title", Type: "string", Description: "Chart title."},
			{Name: "trendline", Type: "boolean", Default: false, Description: "Add a linear trendline."},
			{Name: "data_labels", Type: "boolean", Default: false, Description: "Show value labels on series."},
		},
	},
	OpSetColumnWidth: {
		Op:    OpSetColumnWidth,
		Hosts: []Host{HostSpreadsheet},
		Params: []ParamSpec{
			{Name: "column", Type: "string", Required: true, Description: "Column letter or 1-based number."},
			{Name: "width", Type: "number", Required: true, Description: "Width in character units."},
		},
	},

	OpAddSlide: {
		Op:    OpAddSlide,
		Hosts: []Host{HostPresentation},
		Params: []ParamSpec{
			{Name: "layout", Type: "string", Default: "title_content", Enum: []string{"title", "title_content", "section", "blank"}, Description: "Slide layout."},
			{Name: "title", Type: "string", Description: "Title placeholder text."},
			{Name: "body", Type: "string", Description: "Body placeholder text."},
			{Name: "index", Type: "integer", Description: "1-based insert position. Appends when omitted."},
		},
	},
	OpSetSlideTitle: {
		Op:    OpSetSlideTitle,
		Hosts: []Host{HostPresentation},
		Params: []ParamSpec{
			{Name: "content", Type: "string", Required: true, Description: "Title text."},
			{Name: "slide", Type: "integer", Description: "1-based slide number. Targets the current slide when omitted."},
		},
	},
	OpAddTextBox: {
		Op:    OpAddTextBox,
		Hosts: []Host{HostPresentation},
		Params: []ParamSpec{
			{Name: "content", Type: "string", Required: true, Description: "Text box content."},
			{Name: "slide", Type: "integer", Description: "1-based slide number."},
			{Name: "x", Type: "number", Description: "Left offset in points."},
			{Name: "y", Type: "number", Description: "Top offset in points."},
			{Name: "width", Type: "number", Description: "Width in points."},
			{Name: "height", Type: "number", Description: "Height in points."},
		},
	},
	OpAddBullets: {
		Op:    OpAddBullets,
		Hosts: []Host{HostPresentation},
		Params: []ParamSpec{
			{Name: "items", Type: "array", Required: true, Description: "Bullet lines in order."},
			{Name: "slide", Type: "integer", Description: "1-based slide number."},
		},
	},
	OpSetSpeakerNotes: {
		Op:    OpSetSpeakerNotes,
		Hosts: []Host{HostPresentation},
		Params: []ParamSpec{
			{Name: "content", Type: "string", Required: true, Description: "Notes text."},
			{Name: "slide", Type: "integer", Description: "1-based slide number."},
		},
	},
	OpApplyTheme: {
		Op:         OpApplyTheme,
		Hosts:      []Host{HostPresentation},
		Decorative: true,
		Params: []ParamSpec{
			{Name: "name", Type: "string", Required: true, Description: "Theme name."},
		},
	},
	OpAddImage: {
		Op:         OpAddImage,
		Hosts:      []Host{HostPresentation},
		Decorative: true,
		Params: []ParamSpec{
			{Name: "source", Type: "string", Required: true, Description: "Image URL or path."},
			{Name: "slide", Type: "integer", Description: "1-based slide number."},
			{Name: "x", Type: "number", Description: "Left offset in points."},
			{Name: "y", Type: "number", Description: "Top offset in points."},
			{Name: "width", Type: "number", Description: "Width in points."},
			{Name: "height", Type: "number", Description: "Height in points."},
		},
	},
	OpDeleteSlide: {
		Op:    OpDeleteSlide,
		Hosts: []Host{HostPresentation},
		Params: []ParamSpec{
			{Name: "slide", Type: "integer", Required: true, Description: "1-based slide number."},
		},
	},
}

// Lookup returns the spec for a canonical op name.
func Lookup(op string) (OpSpec, bool) {
	spec, ok := registry[op]
	return spec, ok
}

// Ops returns all canonical op names, sorted.
func Ops() []string {
	ops := make([]string, 0, len(registry))
	for op := range registry {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// OpsFor returns the canonical ops allowed on host h, sorted.
func OpsFor(h Host) []string {
	var ops []string
	for op, spec := range registry {
		if spec.AllowedOn(h) {
			ops = append(ops, op)
		}
	}
	sort.Strings(ops)
	return ops
}

// IsAllowed reports whether op may run on host h. Unknown ops are never allowed.
func IsAllowed(op string, h Host) bool {
	spec, ok := registry[op]
	return ok && spec.AllowedOn(h)
}

// IsDecorative reports whether a capability gap on op may degrade to a
// placeholder instead of failing the plan.
func IsDecorative(op string) bool {
	spec, ok := registry[op]
	return ok && spec.Decorative
}

// TitleFor derives a human-readable step title from an op name.
func TitleFor(op string) string {
	if op == "" {
		return "Action"
	}
	words := strings.Split(op, "_")
	title := strings.Join(words, " ")
	return strings.ToUpper(title[:1]) + title[1:]
}
