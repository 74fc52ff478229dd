package normalize

import (
	"encoding/json"
	"strings"
)

// Shape is the closed set of raw value forms a Jira field can take.
type Shape int

const (
	ShapeFallback Shape = iota
	ShapePrimitive
	ShapeLabeled
	ShapeRichText
	ShapeList
)

func (s Shape) String() string {
	switch s {
	case ShapePrimitive:
		return "primitive"
	case ShapeLabeled:
		return "labeled"
	case ShapeRichText:
		return "rich-text"
	case ShapeList:
		return "list"
	default:
		return "fallback"
	}
}

// labelKeys are checked in priority order.
var labelKeys = []string{"value", "name", "displayName"}

// Classify reports the shape of a decoded JSON value. Checks run in the
// order primitive, labeled, rich-text, list, fallback.
func Classify(v any) Shape {
	switch t := v.(type) {
	case string, json.Number, float64, int, int64:
		return ShapePrimitive
	case map[string]any:
		for _, k := range labelKeys {
			if _, ok := t[k]; ok {
				return ShapeLabeled
			}
		}
		if t["type"] == "doc" {
			return ShapeRichText
		}
		return ShapeFallback
	case []any:
		return ShapeList
	default:
		return ShapeFallback
	}
}

// Resolve turns any raw value into its display string.
func Resolve(v any) string {
	switch Classify(v) {
	case ShapePrimitive:
		return resolvePrimitive(v)
	case ShapeLabeled:
		return resolveLabeled(v.(map[string]any))
	case ShapeRichText:
		return ExtractText(v)
	case ShapeList:
		return resolveList(v.([]any))
	default:
		return resolveFallback(v)
	}
}

func resolvePrimitive(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return resolveFallback(v)
	}
}

// resolveLabeled takes the first non-empty of value, name, displayName. A
// non-scalar label (cascading selects) is resolved in turn.
func resolveLabeled(m map[string]any) string {
	for _, k := range labelKeys {
		inner, ok := m[k]
		if !ok || inner == nil || inner == "" {
			continue
		}
		if s := Resolve(inner); s != "" {
			return s
		}
	}
	return ""
}

func resolveList(items []any) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, listItem(item))
	}
	return strings.Join(parts, ", ")
}

// listItem renders an element without a value or name as JSON, so plain
// strings keep their quotes.
func listItem(item any) string {
	if m, ok := item.(map[string]any); ok {
		for _, k := range []string{"value", "name"} {
			if s, ok := m[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return resolveFallback(item)
}

func resolveFallback(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
