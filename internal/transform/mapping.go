// Package transform maps raw stats API payloads onto normalized rows. Every
// function here is pure: no I/O, no clock.
package transform

import (
	"fmt"
	"strconv"
	"strings"

	"halo-tracker/internal/batch"
)

// ValidationError reports a payload missing a field that identifies the
// record (match id, player id). The sync engine skips the match on it.
type ValidationError struct {
	Kind   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s: %s", e.Kind, e.Field, e.Reason)
}

func missing(kind, field string) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Reason: "missing required field"}
}

// Field maps one source path onto one target column. Path segments are
// separated by dots; numeric segments index into arrays.
type Field struct {
	Column   string
	Path     string
	Default  any
	Required bool
	// Convert reshapes the raw value. A false return leaves the raw value in
	// place so coercion can audit it.
	Convert func(any) (any, bool)
}

type Mapping []Field

// Extract builds a row from src. Optional fields that are absent take their
// Default; required ones produce a *ValidationError.
func (m Mapping) Extract(kind string, src map[string]any) (batch.Row, error) {
	row := make(batch.Row, len(m))
	for _, f := range m {
		raw, ok := lookup(src, f.Path)
		if ok && f.Convert != nil {
			if v, converted := f.Convert(raw); converted {
				raw = v
			} else if f.Required {
				return nil, &ValidationError{Kind: kind, Field: f.Path, Reason: fmt.Sprintf("unusable value %v", raw)}
			}
		}
		if !ok || isBlank(raw) {
			if f.Required {
				return nil, missing(kind, f.Path)
			}
			row[f.Column] = f.Default
			continue
		}
		row[f.Column] = raw
	}
	return row, nil
}

func isBlank(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func lookup(src any, path string) (any, bool) {
	cur := src
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}
