package plan

import (
	"strings"
	"unicode"
)

// Field aliases that a mechanical camelCase conversion cannot catch. The
// canonical spelling always wins when both forms are present.
var fieldAliases = map[string]string{
	"text":      "content",
	"operation": "op",
	"cell_ref":  "cell",
	"address":   "cell",
}

// Legacy operation names still emitted by older prompt revisions.
var opAliases = map[string]string{
	"create_block":       OpUpsertBlock,
	"update_block":       OpUpsertBlock,
	"remove_block":       OpDeleteBlock,
	"add_text":           OpInsertText,
	"add_heading":        OpInsertHeading,
	"set_style":          OpApplyStyle,
	"add_table":          OpInsertTable,
	"add_list":           OpInsertList,
	"add_page_break":     OpInsertPageBreak,
	"replace_text":       OpFindReplace,
	"write_cell":         OpSetCellValue,
	"set_cell":           OpSetCellValue,
	"set_formula":        OpSetCellFormula,
	"write_range":        OpSetRangeValues,
	"set_range":          OpSetRangeValues,
	"merge_cells":        OpMergeRange,
	"create_sheet":       OpAddSheet,
	"insert_sheet":       OpAddSheet,
	"set_validation":     OpSetDataValidation,
	"add_pivot_table":    OpCreatePivotTable,
	"insert_chart":       OpAddChart,
	"create_chart":       OpAddChart,
	"column_width":       OpSetColumnWidth,
	"create_slide":       OpAddSlide,
	"insert_slide":       OpAddSlide,
	"set_title":          OpSetSlideTitle,
	"insert_text_box":    OpAddTextBox,
	"set_notes":          OpSetSpeakerNotes,
	"set_theme":          OpApplyTheme,
	"insert_image_slide": OpAddImage,
	"remove_slide":       OpDeleteSlide,
}

// Enum value aliases, keyed by canonical field name. Lookup lowercases first.
var valueAliases = map[string]map[string]string{
	"order": {
		"ascending":  "asc",
		"descending": "desc",
	},
	"layout": {
		"title_and_content": "title_content",
		"content":           "title_content",
	},
	"chart_type": {
		"col":      "column",
		"vertical": "column",
	},
	"position": {
		"begin":  "start",
		"top":    "start",
		"bottom": "end",
	},
}

// knownFields is every canonical field the protocol understands, envelope and
// params alike. camelCase keys are converted only when they land on one of
// these, so unrecognized model junk passes through untouched.
var knownFields = func() map[string]bool {
	fields := map[string]bool{
		"schema_version": true,
		"host":           true,
		"meta":           true,
	}
	for k := range actionEnvelopeKeys {
		fields[k] = true
	}
	for _, spec := range registry {
		for _, p := range spec.Params {
			fields[p.Name] = true
		}
	}
	return fields
}()

// CanonicalField maps a wire field name to its canonical form. The bool
// reports whether a rename applies.
func CanonicalField(name string) (string, bool) {
	if target, ok := fieldAliases[name]; ok {
		return target, true
	}
	if snake := camelToSnake(name); snake != name && knownFields[snake] {
		return snake, true
	}
	return name, false
}

// CanonicalOp maps an op name to its canonical form. Unknown names are
// returned unchanged with ok=false so validation can report them.
func CanonicalOp(name string) (string, bool) {
	if _, ok := registry[name]; ok {
		return name, true
	}
	if target, ok := opAliases[name]; ok {
		return target, true
	}
	snake := camelToSnake(name)
	if _, ok := registry[snake]; ok {
		return snake, true
	}
	if target, ok := opAliases[snake]; ok {
		return target, true
	}
	return name, false
}

// CanonicalValue normalizes enum-valued params. Non-string values and fields
// without an enum pass through unchanged.
func CanonicalValue(field string, value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	lowered := strings.ToLower(strings.TrimSpace(s))
	if aliases, ok := valueAliases[field]; ok {
		if target, ok := aliases[lowered]; ok {
			return target
		}
	}
	if enumHasValue(field, lowered) {
		return lowered
	}
	return value
}

func enumHasValue(field, value string) bool {
	for _, spec := range registry {
		p, ok := spec.Param(field)
		if !ok || len(p.Enum) == 0 {
			continue
		}
		for _, e := range p.Enum {
			if e == value {
				return true
			}
		}
	}
	return false
}

func camelToSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
