package finder

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse builds a Finder from a command-line expression of the form kind=value.
//
//	text=Increment
//	key=counter          ValueKey<String>
//	key:int=42           ValueKey<int>
//	type=FloatingActionButton
//	tooltip=Increment
//	label=Submit         semantics label
//	label:regexp=^Sub.*  semantics label as regular expression
//	pageBack
//
// The value is everything after the first '=', so it may itself contain '='.
func Parse(expr string) (Finder, error) {
	if strings.EqualFold(strings.TrimSpace(expr), "pageBack") {
		return PageBack(), nil
	}

	kind, value, ok := strings.Cut(expr, "=")
	if !ok {
		return Finder{}, fmt.Errorf("invalid finder %q: expected kind=value", expr)
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	if value == "" {
		return Finder{}, fmt.Errorf("invalid finder %q: empty value", expr)
	}

	switch kind {
	case "text":
		return ByText(value), nil
	case "key":
		return ByValueKey(value), nil
	case "key:int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return Finder{}, fmt.Errorf("invalid finder %q: key:int needs an integer", expr)
		}
		return ByValueKeyInt(n), nil
	case "type":
		return ByType(value), nil
	case "tooltip":
		return ByTooltip(value), nil
	case "label":
		return BySemanticsLabel(value, false), nil
	case "label:regexp":
		return BySemanticsLabel(value, true), nil
	default:
		return Finder{}, fmt.Errorf("invalid finder %q: unknown kind %q", expr, kind)
	}
}
