package conversion

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestConvertNil(t *testing.T) {
	pairs := []Pair{
		{},
		{SourceCustomType: ct(KindDateTime), TargetCustomType: ct(KindDatePicker)},
		{SourceCustomType: ct(KindUserPicker), TargetCustomType: ct(KindMultiUserPicker)},
		{TargetType: "string", TargetCustomType: ct("textfield")},
		{TargetType: "string", TargetCustomType: ct(KindTextarea)},
	}
	for _, p := range pairs {
		if got := Convert(nil, p); got != nil {
			t.Errorf("Convert(nil, %+v) = %v, want nil", p, got)
		}
	}
}

func TestConvertDateTimeToDate(t *testing.T) {
	p := Pair{
		SourceType:       "datetime",
		TargetType:       "date",
		SourceCustomType: ct(KindDateTime),
		TargetCustomType: ct(KindDatePicker),
	}
	if got := Convert("2024-01-05T10:30:00Z", p); got != "2024-01-05" {
		t.Errorf("Convert datetime = %v, want 2024-01-05", got)
	}
	if got := Convert("2024-01-05", p); got != "2024-01-05" {
		t.Errorf("bare date changed: %v", got)
	}
	n := json.Number("1704450600000")
	if got := Convert(n, p); got != n {
		t.Errorf("non-string value changed: %v", got)
	}
}

func TestConvertUserToMultiUser(t *testing.T) {
	p := Pair{
		SourceType:       "user",
		TargetType:       "array",
		SourceCustomType: ct(KindUserPicker),
		TargetCustomType: ct(KindMultiUserPicker),
	}
	user := map[string]any{"accountId": "abc-123"}

	once := Convert(user, p)
	list, ok := once.([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("Convert(user) = %#v, want one-element list", once)
	}
	if !reflect.DeepEqual(list[0], user) {
		t.Errorf("list[0] = %#v, want %#v", list[0], user)
	}

	twice := Convert(once, p)
	if !reflect.DeepEqual(twice, once) {
		t.Errorf("Convert is not idempotent on lists: %#v vs %#v", twice, once)
	}
}

func TestConvertTruncatesPlainText(t *testing.T) {
	p := Pair{SourceType: "string", TargetType: "string", TargetCustomType: ct("textfield")}

	got, ok := Convert(strings.Repeat("x", 300), p).(string)
	if !ok {
		t.Fatal("expected string result")
	}
	if utf8.RuneCountInString(got) != TextLimit {
		t.Errorf("len = %d, want %d", utf8.RuneCountInString(got), TextLimit)
	}
	if !strings.HasSuffix(got, TruncationMarker) {
		t.Errorf("missing truncation marker: %q", got[len(got)-5:])
	}

	exact := strings.Repeat("y", TextLimit)
	if Convert(exact, p) != exact {
		t.Error("value at the limit should be unchanged")
	}

	// multi-byte characters count once each
	wide := strings.Repeat("é", 300)
	w := Convert(wide, p).(string)
	if utf8.RuneCountInString(w) != TextLimit {
		t.Errorf("rune length = %d, want %d", utf8.RuneCountInString(w), TextLimit)
	}
}

func TestConvertTruncatesStringifiedObjects(t *testing.T) {
	p := Pair{SourceType: "array", TargetType: "string", TargetCustomType: ct("textfield")}
	long := []any{strings.Repeat("a", 200), strings.Repeat("b", 200)}
	got, ok := Convert(long, p).(string)
	if !ok {
		t.Fatalf("expected stringified result, got %T", Convert(long, p))
	}
	if utf8.RuneCountInString(got) != TextLimit || !strings.HasPrefix(got, `["aaa`) {
		t.Errorf("unexpected truncation: %q", got)
	}
}

func TestConvertMultilineNotTruncated(t *testing.T) {
	p := Pair{SourceType: "string", TargetType: "string", TargetCustomType: ct(KindTextarea)}
	long := strings.Repeat("z", 1000)
	if Convert(long, p) != long {
		t.Error("textarea target must not truncate")
	}
}

func TestConvertPassThrough(t *testing.T) {
	p := Pair{
		SourceType:       "option",
		TargetType:       "option",
		SourceCustomType: ct(KindSelect),
		TargetCustomType: ct(KindSelect),
	}
	v := map[string]any{"value": "High"}
	if got := Convert(v, p); !reflect.DeepEqual(got, v) {
		t.Errorf("Convert = %#v, want unchanged", got)
	}
}
