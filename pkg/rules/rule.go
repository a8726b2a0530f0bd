// Package rules holds the watch-rule model, the sanitizer that turns loose
// capture payloads into canonical rules, and the persisted rule list.
package rules

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// SchemaVersion is written into every rules file.
const SchemaVersion = 2

// DefaultName labels a rule that has neither a name nor a text snapshot.
const DefaultName = "Rule"

const (
	SourceManual    = "manual"
	SourceExtension = "extension"
)

// ErrInvalidRule is returned when a payload cannot produce a rule with a
// non-empty selector.
var ErrInvalidRule = errors.New("invalid rule")

// Type says what part of the page a rule targets.
type Type string

const (
	TypeElement     Type = "element"
	TypeElementText Type = "element_text"
)

// Valid reports whether t is a supported rule type.
func (t Type) Valid() bool {
	return t == TypeElement || t == TypeElementText
}

// DefaultCondition is the condition a rule of this type gets when none is given.
func (t Type) DefaultCondition() Condition {
	if t == TypeElementText {
		return ConditionElementText
	}
	return ConditionElement
}

// Condition is the change a rule watches for.
type Condition string

const (
	ConditionElement         Condition = "element"
	ConditionElementText     Condition = "element_text"
	ConditionTextEquals      Condition = "text_equals"
	ConditionTextDiffers     Condition = "text_differs"
	ConditionTextContains    Condition = "text_contains"
	ConditionTextNotContains Condition = "text_not_contains"
	ConditionTextLengthGt    Condition = "text_length_gt"
	ConditionTextLengthLt    Condition = "text_length_lt"
)

// Valid reports whether c is one of the eight supported conditions.
func (c Condition) Valid() bool {
	switch c {
	case ConditionElement, ConditionElementText,
		ConditionTextEquals, ConditionTextDiffers, ConditionTextContains, ConditionTextNotContains,
		ConditionTextLengthGt, ConditionTextLengthLt:
		return true
	}
	return false
}

var (
	typeNames = enumNames(TypeElement, TypeElementText)

	conditionNames = enumNames(
		ConditionElement, ConditionElementText,
		ConditionTextEquals, ConditionTextDiffers, ConditionTextContains, ConditionTextNotContains,
		ConditionTextLengthGt, ConditionTextLengthLt,
	)
)

func enumNames[T ~string](values ...T) map[string]T {
	m := make(map[string]T, len(values))
	for _, v := range values {
		m[enumKey(string(v))] = v
	}
	return m
}

// enumKey folds snake_case and camelCase spellings to one key, so that
// "element_text", "elementText" and "ELEMENT_TEXT" are the same value.
func enumKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
}

// ParseType maps any accepted spelling of a rule type to its constant. The
// empty Type is returned for unknown input.
func ParseType(s string) Type {
	return typeNames[enumKey(s)]
}

// ParseCondition maps any accepted spelling of a condition to its constant.
// The empty Condition is returned for unknown input.
func ParseCondition(s string) Condition {
	return conditionNames[enumKey(s)]
}

// NeedsBaseline reports whether c compares against a baseline text.
func (c Condition) NeedsBaseline() bool {
	switch c {
	case ConditionTextEquals, ConditionTextDiffers, ConditionTextContains, ConditionTextNotContains:
		return true
	}
	return false
}

// NeedsLength reports whether c compares against a length threshold.
func (c Condition) NeedsLength() bool {
	return c == ConditionTextLengthGt || c == ConditionTextLengthLt
}

// Rule is one watch rule as stored and served to the browser extension.
type Rule struct {
	Name            string         `json:"name"`
	URLContains     string         `json:"url_contains"`
	Type            Type           `json:"type"`
	Selector        string         `json:"selector"`
	CSSSelector     string         `json:"css_selector,omitempty"`
	Condition       Condition      `json:"condition"`
	BaselineText    string         `json:"baseline_text,omitempty"`
	TextSnapshot    string         `json:"text_snapshot,omitempty"`
	LengthThreshold *int           `json:"length_threshold,omitempty"`
	PageURL         string         `json:"page_url,omitempty"`
	Source          string         `json:"source"`
	CapturedAt      Timestamp      `json:"captured_at"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Normalize re-applies the field invariants to a typed rule: type and
// condition are reconciled, orphaned baseline/threshold fields are dropped,
// and a missing threshold on a length condition is derived from the snapshot.
func Normalize(r Rule) (Rule, error) {
	r.Selector = strings.TrimSpace(r.Selector)
	if r.Selector == "" {
		return Rule{}, ErrInvalidRule
	}
	r.Type = ParseType(string(r.Type))
	if r.Type == "" {
		r.Type = TypeElement
	}
	r.Condition = ParseCondition(string(r.Condition))
	if r.Condition == "" {
		r.Condition = r.Type.DefaultCondition()
	}
	if r.Type != TypeElement {
		r.CSSSelector = ""
	}
	if !r.Condition.NeedsBaseline() {
		r.BaselineText = ""
	} else if r.BaselineText == "" {
		r.BaselineText = r.TextSnapshot
	}
	if !r.Condition.NeedsLength() {
		r.LengthThreshold = nil
	} else if r.LengthThreshold == nil {
		n := utf8.RuneCountInString(r.TextSnapshot)
		r.LengthThreshold = &n
	}
	if r.Name == "" {
		r.Name = r.TextSnapshot
	}
	if r.Name == "" {
		r.Name = DefaultName
	}
	return r, nil
}

// String renders the one-line list form of a rule.
func (r Rule) String() string {
	return fmt.Sprintf("%s (URL: %s) -> %s: %q", r.Name, r.URLContains, r.Condition, r.Selector)
}

// Summary renders the short review form shown to the operator for a proposal.
func (r Rule) Summary() string {
	parts := []string{r.Name, "condition: " + string(r.Condition)}
	target := r.Selector
	if target == "" {
		target = r.CSSSelector
	}
	if target != "" {
		parts = append(parts, "target: "+shorten(target, 80))
	}
	snippet := r.TextSnapshot
	if snippet == "" {
		snippet = r.BaselineText
	}
	if snippet != "" {
		parts = append(parts, "text: "+shorten(snippet, 80))
	}
	url := r.URLContains
	if url == "" {
		url = r.PageURL
	}
	if url != "" {
		parts = append(parts, "url: "+shorten(url, 80))
	}
	return strings.Join(parts, " | ")
}

func shorten(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-1]) + "…"
}
