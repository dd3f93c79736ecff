// Package finder builds Flutter driver finders in the serialized form the
// Appium Flutter driver accepts as an element id.
//
// A finder is a JSON object with a "finderType" field, compact-encoded and
// then base64 (standard alphabet) encoded:
//
//	f := finder.ByText("You have pushed the button this many times:")
//	f.String() // eyJmaW5kZXJUeXBlIjoiQnlUZXh0Ii...
package finder

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// Finder types understood by the Flutter driver extension.
const (
	TypeByText           = "ByText"
	TypeByValueKey       = "ByValueKey"
	TypeByType           = "ByType"
	TypeByTooltipMessage = "ByTooltipMessage"
	TypeBySemanticsLabel = "BySemanticsLabel"
	TypePageBack         = "PageBack"
	TypeAncestor         = "Ancestor"
	TypeDescendant       = "Descendant"
)

// Key value types for ByValueKey.
const (
	KeyTypeString = "String"
	KeyTypeInt    = "int"
)

// Finder is a serialized Flutter finder.
type Finder struct {
	encoded string
	fields  map[string]interface{}
}

// String returns the base64 form used as the W3C element id.
func (f Finder) String() string {
	return f.encoded
}

// Type returns the finderType, or "" for the zero Finder.
func (f Finder) Type() string {
	t, _ := f.fields["finderType"].(string)
	return t
}

// IsZero reports whether f was never built.
func (f Finder) IsZero() bool {
	return f.encoded == ""
}

// Fields returns a copy of the decoded JSON object.
func (f Finder) Fields() map[string]interface{} {
	out := make(map[string]interface{}, len(f.fields))
	for k, v := range f.fields {
		out[k] = v
	}
	return out
}

// Describe returns a short human-readable form for logs and errors.
func (f Finder) Describe() string {
	switch f.Type() {
	case TypeByText, TypeByTooltipMessage:
		return fmt.Sprintf("%s(%q)", f.Type(), f.fields["text"])
	case TypeByValueKey:
		return fmt.Sprintf("%s(%v:%q)", f.Type(), f.fields["keyValueType"], f.fields["keyValueString"])
	case TypeByType:
		return fmt.Sprintf("%s(%v)", f.Type(), f.fields["type"])
	case TypeBySemanticsLabel:
		return fmt.Sprintf("%s(%q, regexp=%v)", f.Type(), f.fields["label"], f.fields["isRegExp"])
	case "":
		return "<empty finder>"
	default:
		return f.Type()
	}
}

func serialize(fields map[string]interface{}) Finder {
	// encoding/json sorts map keys, so the output is deterministic.
	data, err := json.Marshal(fields)
	if err != nil {
		// Only strings, bools and nested strings are ever stored.
		panic(fmt.Sprintf("finder: marshal %v: %v", fields, err))
	}
	return Finder{
		encoded: base64.StdEncoding.EncodeToString(data),
		fields:  fields,
	}
}

// ByText finds widgets whose displayed text equals text.
func ByText(text string) Finder {
	return serialize(map[string]interface{}{
		"finderType": TypeByText,
		"text":       text,
	})
}

// ByValueKey finds the widget with ValueKey<String>(key).
func ByValueKey(key string) Finder {
	return serialize(map[string]interface{}{
		"finderType":     TypeByValueKey,
		"keyValueString": key,
		"keyValueType":   KeyTypeString,
	})
}

// ByValueKeyInt finds the widget with ValueKey<int>(key).
func ByValueKeyInt(key int) Finder {
	return serialize(map[string]interface{}{
		"finderType":     TypeByValueKey,
		"keyValueString": strconv.Itoa(key),
		"keyValueType":   KeyTypeInt,
	})
}

// ByType finds widgets by their runtime type name, e.g. "ElevatedButton".
func ByType(widgetType string) Finder {
	return serialize(map[string]interface{}{
		"finderType": TypeByType,
		"type":       widgetType,
	})
}

// ByTooltip finds the Tooltip widget with the given message.
func ByTooltip(message string) Finder {
	return serialize(map[string]interface{}{
		"finderType": TypeByTooltipMessage,
		"text":       message,
	})
}

// BySemanticsLabel finds widgets by semantics label. When isRegExp is true
// the label is matched as a Dart regular expression.
func BySemanticsLabel(label string, isRegExp bool) Finder {
	return serialize(map[string]interface{}{
		"finderType": TypeBySemanticsLabel,
		"label":      label,
		"isRegExp":   isRegExp,
	})
}

// PageBack finds the back button of the current route.
func PageBack() Finder {
	return serialize(map[string]interface{}{
		"finderType": TypePageBack,
	})
}

// Ancestor finds ancestors of of that match matching.
func Ancestor(of, matching Finder, matchRoot, firstMatchOnly bool) Finder {
	return relative(TypeAncestor, of, matching, matchRoot, firstMatchOnly)
}

// Descendant finds descendants of of that match matching.
func Descendant(of, matching Finder, matchRoot, firstMatchOnly bool) Finder {
	return relative(TypeDescendant, of, matching, matchRoot, firstMatchOnly)
}

func relative(finderType string, of, matching Finder, matchRoot, firstMatchOnly bool) Finder {
	return serialize(map[string]interface{}{
		"finderType":     finderType,
		"of":             innerJSON(of),
		"matching":       innerJSON(matching),
		"matchRoot":      matchRoot,
		"firstMatchOnly": firstMatchOnly,
	})
}

// innerJSON returns the un-encoded JSON text of f; nested finders travel as
// JSON strings, not base64.
func innerJSON(f Finder) string {
	data, err := json.Marshal(f.fields)
	if err != nil {
		panic(fmt.Sprintf("finder: marshal %v: %v", f.fields, err))
	}
	return string(data)
}

// Decode parses a serialized finder.
func Decode(s string) (Finder, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Finder{}, fmt.Errorf("finder: invalid base64: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return Finder{}, fmt.Errorf("finder: invalid JSON: %w", err)
	}
	if t, _ := fields["finderType"].(string); t == "" {
		return Finder{}, fmt.Errorf("finder: missing finderType")
	}
	return Finder{encoded: s, fields: fields}, nil
}
