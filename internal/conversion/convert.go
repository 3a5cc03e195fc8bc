package conversion

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// TextLimit is the maximum length of a single-line text value.
	TextLimit = 255
	// TruncationMarker is appended to values cut down to TextLimit.
	TruncationMarker = "..."
)

// Convert transforms a source value for the target field. A nil result
// means the value must not be written.
func Convert(value any, p Pair) any {
	if value == nil {
		return nil
	}

	sk, tk := p.sourceKind(), p.targetKind()
	switch {
	case sk == KindDateTime && tk == KindDatePicker:
		return dateOnly(value)
	case sk == KindUserPicker && tk == KindMultiUserPicker:
		return asList(value)
	case IsTextual(p.TargetType) && tk != KindTextarea:
		return truncate(value)
	}
	return value
}

func dateOnly(value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		return s[:i]
	}
	return s
}

func asList(value any) any {
	if _, ok := value.([]any); ok {
		return value
	}
	return []any{value}
}

func truncate(value any) any {
	s := stringify(value)
	if utf8.RuneCountInString(s) <= TextLimit {
		return value
	}
	runes := []rune(s)
	return string(runes[:TextLimit-len(TruncationMarker)]) + TruncationMarker
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}
