// Package plan defines the document-editing action protocol and the
// normalizer that turns loosely-structured model output into it.
package plan

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-viper/mapstructure/v2"
)

const (
	// SchemaVersion is the protocol version a plan must declare, matched exactly.
	SchemaVersion = "v1"

	// DefaultMaxPayloadBytes caps the raw plan payload before parsing.
	DefaultMaxPayloadBytes = 500_000

	// DefaultBlockID is used when an upsert_block/delete_block omits block_id.
	DefaultBlockID = "main"
)

// Host identifies which document kind a plan targets.
type Host string

const (
	HostText         Host = "text"
	HostSpreadsheet  Host = "spreadsheet"
	HostPresentation Host = "presentation"
)

// Valid reports whether h is one of the three known hosts.
func (h Host) Valid() bool {
	switch h {
	case HostText, HostSpreadsheet, HostPresentation:
		return true
	}
	return false
}

// Hosts returns all known hosts.
func Hosts() []Host {
	return []Host{HostText, HostSpreadsheet, HostPresentation}
}

// Plan is a schema-versioned, ordered list of editing actions.
type Plan struct {
	SchemaVersion string         `json:"schema_version"`
	Host          Host           `json:"host"`
	Meta          map[string]any `json:"meta,omitempty"`
	Actions       []Action       `json:"actions"`
}

// Action is one typed operation in a plan. Op-specific fields live in Params;
// executors decode them into typed structs on demand.
type Action struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Op           string         `json:"op"`
	BlockID      string         `json:"block_id,omitempty"`
	FreezeCursor *bool          `json:"freeze_cursor,omitempty"`
	Actions      []Action       `json:"actions,omitempty"`
	Params       map[string]any `json:"-"`
}

// envelope keys handled by the Action struct itself; everything else is a param.
var actionEnvelopeKeys = map[string]bool{
	"id":            true,
	"title":         true,
	"op":            true,
	"block_id":      true,
	"freeze_cursor": true,
	"actions":       true,
}

// FreezesCursor reports whether the caller's selection should be restored
// after a block write. Defaults to true when unset.
func (a *Action) FreezesCursor() bool {
	if a.FreezeCursor == nil {
		return true
	}
	return *a.FreezeCursor
}

// DecodeParams decodes the op-specific fields into a typed struct.
// Decoding is weakly typed so that model-emitted "3" satisfies an int field.
func (a *Action) DecodeParams(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(a.Params); err != nil {
		return fmt.Errorf("decode %s params: %w", a.Op, err)
	}
	return nil
}

// MarshalJSON flattens Params back onto the wire object.
func (a Action) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(a.Params)+6)
	for k, v := range a.Params {
		m[k] = v
	}
	m["id"] = a.ID
	m["title"] = a.Title
	m["op"] = a.Op
	if a.BlockID != "" {
		m["block_id"] = a.BlockID
	}
	if a.FreezeCursor != nil {
		m["freeze_cursor"] = *a.FreezeCursor
	}
	if len(a.Actions) > 0 {
		m["actions"] = a.Actions
	}
	return json.Marshal(m)
}

// UnmarshalJSON splits the wire object into envelope fields and Params.
func (a *Action) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := actionFromMap(m)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// actionFromMap builds an Action from an already-canonicalized map.
func actionFromMap(m map[string]any) (Action, error) {
	var a Action
	if v, ok := m["id"].(string); ok {
		a.ID = v
	}
	if v, ok := m["title"].(string); ok {
		a.Title = v
	}
	if v, ok := m["op"].(string); ok {
		a.Op = v
	}
	if v, ok := m["block_id"].(string); ok {
		a.BlockID = v
	}
	if v, ok := m["freeze_cursor"].(bool); ok {
		a.FreezeCursor = &v
	}
	if raw, ok := m["actions"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return a, fmt.Errorf("actions must be an array")
		}
		for i, item := range list {
			child, ok := item.(map[string]any)
			if !ok {
				return a, fmt.Errorf("actions[%d] must be an object", i)
			}
			nested, err := actionFromMap(child)
			if err != nil {
				return a, fmt.Errorf("actions[%d]: %w", i, err)
			}
			a.Actions = append(a.Actions, nested)
		}
	}
	for k, v := range m {
		if actionEnvelopeKeys[k] {
			continue
		}
		if a.Params == nil {
			a.Params = make(map[string]any)
		}
		a.Params[k] = v
	}
	return a, nil
}

// wireMap is the inverse of actionFromMap, used for schema validation.
func (a *Action) wireMap() map[string]any {
	m := make(map[string]any, len(a.Params)+6)
	for k, v := range a.Params {
		m[k] = v
	}
	m["id"] = a.ID
	m["title"] = a.Title
	m["op"] = a.Op
	if a.BlockID != "" {
		m["block_id"] = a.BlockID
	}
	if a.FreezeCursor != nil {
		m["freeze_cursor"] = *a.FreezeCursor
	}
	if len(a.Actions) > 0 {
		nested := make([]any, 0, len(a.Actions))
		for i := range a.Actions {
			nested = append(nested, a.Actions[i].wireMap())
		}
		m["actions"] = nested
	}
	return m
}

// Ops returns the deduplicated, sorted set of operations the plan uses,
// descending through nested block actions.
func (p *Plan) Ops() []string {
	seen := make(map[string]bool)
	collectOps(p.Actions, seen)
	ops := make([]string, 0, len(seen))
	for op := range seen {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func collectOps(actions []Action, seen map[string]bool) {
	for i := range actions {
		if actions[i].Op != "" {
			seen[actions[i].Op] = true
		}
		if len(actions[i].Actions) > 0 {
			collectOps(actions[i].Actions, seen)
		}
	}
}

// BlockIDs returns the deduplicated block ids a plan touches, in first-use order.
func (p *Plan) BlockIDs() []string {
	var ids []string
	seen := make(map[string]bool)
	var walk func(actions []Action)
	walk = func(actions []Action) {
		for i := range actions {
			a := &actions[i]
			if (a.Op == OpUpsertBlock || a.Op == OpDeleteBlock) && !seen[a.BlockID] {
				seen[a.BlockID] = true
				ids = append(ids, a.BlockID)
			}
			if len(a.Actions) > 0 {
				walk(a.Actions)
			}
		}
	}
	walk(p.Actions)
	return ids
}
