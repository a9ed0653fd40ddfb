package plan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/davan/docplan/pkg/execerr"
)

// drawingPlaceholder stands in for drawing-shape payloads the protocol
// cannot express. Visible on purpose so the gap is noticed.
const drawingPlaceholder = "[drawing content not supported]"

// NormalizerConfig tunes the plan normalizer.
type NormalizerConfig struct {
	// MaxPayloadBytes caps the raw payload before parsing.
	// DefaultMaxPayloadBytes when zero.
	MaxPayloadBytes int `mapstructure:"max_payload_bytes"`
}

// Normalizer turns loosely-structured model output into a validated Plan.
// It extracts fenced JSON, renames alias fields and ops, flattens stray
// params objects, repairs broken upsert_block payloads, fills defaults and
// synthesizes cosmetic ids and titles.
type Normalizer struct {
	maxPayload int
	log        zerolog.Logger
}

// NewNormalizer builds a Normalizer. The logger is used for repair warnings.
func NewNormalizer(cfg NormalizerConfig, logger zerolog.Logger) *Normalizer {
	max := cfg.MaxPayloadBytes
	if max <= 0 {
		max = DefaultMaxPayloadBytes
	}
	return &Normalizer{maxPayload: max, log: logger}
}

var (
	fencedRe = regexp.MustCompile("(?is)```(?:plan|json)\\s*\\n?(.*?)```")
	// Zero-width and BOM characters models occasionally leak into JSON.
	noiseReplacer = strings.NewReplacer(
		"\uFEFF", "",
		"​", "",
		"‌", "",
		"‍", "",
		"⁠", "",
	)
)

// ExtractJSON pulls the payload out of a plan- or json-tagged fenced code
// block when one is present, stripping unicode noise either way.
func ExtractJSON(raw string) string {
	cleaned := noiseReplacer.Replace(raw)
	if m := fencedRe.FindStringSubmatch(cleaned); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(cleaned)
}

// Normalize accepts a raw plan payload, either a string (possibly fenced),
// raw JSON bytes, or an already-parsed object, and returns a validated Plan.
// Failures are MalformedPlan (unparseable or oversized) or InvalidPlan
// (schema violations).
func (n *Normalizer) Normalize(raw any) (*Plan, error) {
	root, err := n.parse(raw)
	if err != nil {
		return nil, err
	}

	root = canonicalizeObject(root)
	n.repairActions(root["actions"])
	applyDefaults(root["actions"])
	if err := synthesizeIdentity(root["actions"]); err != nil {
		return nil, err
	}

	p, err := buildPlan(root)
	if err != nil {
		return nil, err
	}
	if err := validateActions(p.Actions); err != nil {
		return nil, err
	}
	return p, nil
}

func (n *Normalizer) parse(raw any) (map[string]any, error) {
	var text string
	switch v := raw.(type) {
	case string:
		text = ExtractJSON(v)
	case []byte:
		text = ExtractJSON(string(v))
	case json.RawMessage:
		text = ExtractJSON(string(v))
	case map[string]any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, execerr.Wrap(execerr.KindMalformedPlan, "encode plan payload", err)
		}
		if len(encoded) > n.maxPayload {
			return nil, execerr.Newf(execerr.KindMalformedPlan, "plan payload is %d bytes, cap is %d", len(encoded), n.maxPayload)
		}
		return v, nil
	default:
		return nil, execerr.Newf(execerr.KindMalformedPlan, "unsupported plan payload type %T", raw)
	}

	if len(text) > n.maxPayload {
		return nil, execerr.Newf(execerr.KindMalformedPlan, "plan payload is %d bytes, cap is %d", len(text), n.maxPayload)
	}
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, execerr.Wrap(execerr.KindMalformedPlan, "parse plan JSON", err)
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, execerr.New(execerr.KindMalformedPlan, "plan payload must be a JSON object")
	}
	return obj, nil
}

// canonicalizeObject renames alias fields and ops and flattens params,
// recursing through nested action lists. It returns a fresh map so callers'
// input is never mutated.
func canonicalizeObject(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	// Canonical names first so an alias never clobbers an explicit field.
	for k, v := range m {
		if _, renamed := CanonicalField(k); !renamed {
			out[k] = v
		}
	}
	for k, v := range m {
		if target, renamed := CanonicalField(k); renamed {
			if _, exists := out[target]; !exists {
				out[target] = v
			}
		}
	}

	if op, ok := out["op"].(string); ok {
		canonical, _ := CanonicalOp(strings.TrimSpace(op))
		out["op"] = canonical
	}

	// Model output sometimes tucks op fields under a params object.
	// Merge them up, explicit top-level fields winning.
	if params, ok := out["params"].(map[string]any); ok {
		flattened := canonicalizeObject(params)
		for k, v := range flattened {
			if _, exists := out[k]; !exists {
				out[k] = v
			}
		}
		delete(out, "params")
	}

	for k, v := range out {
		out[k] = CanonicalValue(k, v)
	}

	if list, ok := out["actions"].([]any); ok {
		next := make([]any, len(list))
		for i, item := range list {
			if child, ok := item.(map[string]any); ok {
				next[i] = canonicalizeObject(child)
			} else {
				next[i] = item
			}
		}
		out["actions"] = next
	}
	return out
}

// repairActions fixes upsert_block actions that carry their payload as a bare
// content field instead of a nested action list.
func (n *Normalizer) repairActions(actions any) {
	list, ok := actions.([]any)
	if !ok {
		return
	}
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if op, _ := m["op"].(string); op == OpUpsertBlock {
			n.repairUpsert(m)
		}
		n.repairActions(m["actions"])
	}
}

func (n *Normalizer) repairUpsert(m map[string]any) {
	if nested, ok := m["actions"].([]any); ok && len(nested) > 0 {
		return
	}
	raw, ok := m["content"]
	if !ok {
		return
	}

	blockID, _ := m["block_id"].(string)
	var content string
	switch v := raw.(type) {
	case string:
		if looksLikeDrawingShapes(v) {
			content = drawingPlaceholder
			n.log.Warn().Str("block_id", blockID).Msg("degraded drawing-shape block content to placeholder")
		} else {
			content = v
		}
	default:
		if isDrawingShapeList(raw) {
			content = drawingPlaceholder
			n.log.Warn().Str("block_id", blockID).Msg("degraded drawing-shape block content to placeholder")
		} else {
			encoded, err := json.Marshal(raw)
			if err != nil {
				return
			}
			content = string(encoded)
		}
	}

	delete(m, "content")
	m["actions"] = []any{map[string]any{
		"op":      OpInsertText,
		"content": content,
	}}
	n.log.Warn().Str("block_id", blockID).Msg("repaired upsert_block content into a nested insert_text")
}

// isDrawingShapeList recognizes the drawing-shape payload shape some models
// emit for diagrams, which the protocol does not support.
func isDrawingShapeList(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		_, ok := t["shapes"]
		return ok
	case []any:
		if len(t) == 0 {
			return false
		}
		first, ok := t[0].(map[string]any)
		if !ok {
			return false
		}
		for _, key := range []string{"shape_type", "shapeType", "shape"} {
			if _, ok := first[key]; ok {
				return true
			}
		}
	}
	return false
}

func looksLikeDrawingShapes(s string) bool {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return false
	}
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return false
	}
	return isDrawingShapeList(parsed)
}

// applyDefaults fills optional-with-default params and envelope defaults so
// executors can assume they are present.
func applyDefaults(actions any) {
	list, ok := actions.([]any)
	if !ok {
		return
	}
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		op, _ := m["op"].(string)
		if op == OpUpsertBlock || op == OpDeleteBlock {
			if id, _ := m["block_id"].(string); strings.TrimSpace(id) == "" {
				m["block_id"] = DefaultBlockID
			}
		}
		if spec, ok := Lookup(op); ok {
			for _, p := range spec.Params {
				if p.Default == nil {
					continue
				}
				if _, exists := m[p.Name]; !exists {
					m[p.Name] = p.Default
				}
			}
		}
		applyDefaults(m["actions"])
	}
}

// synthesizeIdentity fills the cosmetic id and title fields used by the
// execution-step feed.
func synthesizeIdentity(actions any) error {
	list, ok := actions.([]any)
	if !ok {
		return nil
	}
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if id, _ := m["id"].(string); strings.TrimSpace(id) == "" {
			generated, err := gonanoid.New(10)
			if err != nil {
				return fmt.Errorf("generate action id: %w", err)
			}
			m["id"] = "act_" + generated
		}
		if title, _ := m["title"].(string); strings.TrimSpace(title) == "" {
			op, _ := m["op"].(string)
			m["title"] = TitleFor(op)
		}
		if err := synthesizeIdentity(m["actions"]); err != nil {
			return err
		}
	}
	return nil
}

// buildPlan validates the envelope and converts the canonical map into a Plan.
func buildPlan(root map[string]any) (*Plan, error) {
	version, _ := root["schema_version"].(string)
	if version == "" {
		return nil, execerr.New(execerr.KindInvalidPlan, "schema_version is required")
	}
	if version != SchemaVersion {
		return nil, execerr.Newf(execerr.KindInvalidPlan, "unsupported schema_version %q, want %q", version, SchemaVersion)
	}

	hostName, _ := root["host"].(string)
	host := Host(strings.ToLower(strings.TrimSpace(hostName)))
	if !host.Valid() {
		return nil, execerr.Newf(execerr.KindInvalidPlan, "unknown host %q, want one of text, spreadsheet, presentation", hostName)
	}

	rawActions, ok := root["actions"].([]any)
	if !ok || len(rawActions) == 0 {
		return nil, execerr.New(execerr.KindInvalidPlan, "actions must be a non-empty array")
	}

	p := &Plan{SchemaVersion: version, Host: host}
	if meta, ok := root["meta"].(map[string]any); ok {
		p.Meta = meta
	}
	for i, item := range rawActions {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, execerr.Newf(execerr.KindInvalidPlan, "actions[%d] must be an object", i)
		}
		a, err := actionFromMap(m)
		if err != nil {
			return nil, execerr.Wrap(execerr.KindInvalidPlan, fmt.Sprintf("actions[%d]", i), err)
		}
		p.Actions = append(p.Actions, a)
	}
	return p, nil
}

func validateActions(actions []Action) error {
	for i := range actions {
		a := &actions[i]
		if err := ValidateAction(a); err != nil {
			return err
		}
		if len(a.Actions) > 0 {
			if err := validateActions(a.Actions); err != nil {
				return err
			}
		}
	}
	return nil
}
