// Package conversion decides whether a field pair can be consolidated and how
// individual values are transformed on the way from source to target.
package conversion

import (
	"strings"

	"github.com/untoldecay/fieldmerge/internal/types"
)

// Custom type kinds of the built-in Jira custom field types
// (com.atlassian.jira.plugin.system.customfieldtypes:select -> select).
const (
	KindTextarea        = "textarea"
	KindSelect          = "select"
	KindMultiSelect     = "multiselect"
	KindDateTime        = "datetime"
	KindDatePicker      = "datepicker"
	KindRadioButtons    = "radiobuttons"
	KindUserPicker      = "userpicker"
	KindMultiUserPicker = "multiuserpicker"
)

// CustomTypePrefix is the namespace of the built-in Jira custom field types.
const CustomTypePrefix = "com.atlassian.jira.plugin.system.customfieldtypes:"

// Pair describes the source and target types of a conversion.
type Pair struct {
	SourceType       string
	TargetType       string
	SourceCustomType string
	TargetCustomType string
}

// PairOf builds a Pair from two field snapshots.
func PairOf(source, target types.Field) Pair {
	return Pair{
		SourceType:       source.Type,
		TargetType:       target.Type,
		SourceCustomType: source.CustomType,
		TargetCustomType: target.CustomType,
	}
}

// Kind returns the short kind of a built-in custom-type tag. A bare kind is
// returned as is. Tags from other plugins keep their full form, so they never
// match a built-in kind.
func Kind(customType string) string {
	if kind, ok := strings.CutPrefix(customType, CustomTypePrefix); ok {
		return kind
	}
	return customType
}

// IsTextual reports whether a primitive type holds text.
func IsTextual(primitive string) bool {
	return primitive == "string" || primitive == "text"
}

func (p Pair) sourceKind() string { return Kind(p.SourceCustomType) }
func (p Pair) targetKind() string { return Kind(p.TargetCustomType) }

// Rule is a named conversion check. Applies gates whether the rule is
// reported at all; Valid computes its verdict. Only critical rules can veto.
type Rule struct {
	Name     string
	Message  string
	Critical bool
	Applies  func(Pair) bool
	Valid    func(Pair) bool
}

func always(Pair) bool { return true }

// Rules is the ordered rule set evaluated by Evaluate.
var Rules = []Rule{
	{
		Name:    "canConvertToText",
		Message: "Any field can be converted to a text field if values are under 255 characters.",
		Applies: always,
		Valid:   func(p Pair) bool { return IsTextual(p.TargetType) },
	},
	{
		Name:    "canConvertToMultilineText",
		Message: "Any field can be converted to a multi-line text field.",
		Applies: always,
		Valid:   func(p Pair) bool { return p.targetKind() == KindTextarea },
	},
	{
		Name:     "cannotConvertTextToSelect",
		Message:  "Text fields cannot be converted to select fields.",
		Critical: true,
		Applies:  always,
		Valid: func(p Pair) bool {
			tk := p.targetKind()
			return !(IsTextual(p.SourceType) && (tk == KindSelect || tk == KindMultiSelect))
		},
	},
	{
		Name:    "canConvertDateTimeToDate",
		Message: "Date and time fields can be converted to date fields. The time portion will be set to 00:00.",
		Applies: func(p Pair) bool { return p.sourceKind() == KindDateTime || p.targetKind() == KindDatePicker },
		Valid:   always,
	},
	{
		Name:    "canConvertSelectToRadio",
		Message: "Select fields can be converted to radio buttons.",
		Applies: func(p Pair) bool { return p.sourceKind() == KindSelect || p.targetKind() == KindRadioButtons },
		Valid:   always,
	},
	{
		Name:    "canConvertUserToMultiUser",
		Message: "Single user fields can be converted to multi-user fields.",
		Applies: func(p Pair) bool { return p.sourceKind() == KindUserPicker || p.targetKind() == KindMultiUserPicker },
		Valid:   always,
	},
}

// Check evaluates a single rule against a pair. ok is false when the rule
// does not apply and should not be reported.
func (r Rule) Check(p Pair) (result types.RuleResult, ok bool) {
	if !r.Applies(p) {
		return types.RuleResult{}, false
	}
	return types.RuleResult{
		Rule:     r.Name,
		Valid:    r.Valid(p),
		Message:  r.Message,
		Critical: r.Critical,
	}, true
}

// Evaluate runs every applicable rule in order. The result is invalid iff a
// critical rule fails.
func Evaluate(p Pair) types.Compatibility {
	out := types.Compatibility{Valid: true, Rules: make([]types.RuleResult, 0, len(Rules))}
	for _, r := range Rules {
		res, ok := r.Check(p)
		if !ok {
			continue
		}
		if res.Critical && !res.Valid {
			out.Valid = false
		}
		out.Rules = append(out.Rules, res)
	}
	return out
}
