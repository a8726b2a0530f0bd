package rules

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

var now = time.Now

var (
	cssSelectorKeys  = []string{"css_selector", "cssPath", "css_path", "selector"}
	textSnapshotKeys = []string{"text_snapshot", "text", "captured_text"}
)

// Sanitize turns a loosely-structured JSON object into a canonical Rule.
// It returns ErrInvalidRule when the payload is not an object or when no
// selector can be resolved. defaultSource fills an absent "source".
func Sanitize(payload []byte, defaultSource string) (Rule, error) {
	if !gjson.ValidBytes(payload) {
		return Rule{}, fmt.Errorf("%w: malformed json", ErrInvalidRule)
	}
	doc := gjson.ParseBytes(payload)
	if !doc.IsObject() {
		return Rule{}, fmt.Errorf("%w: payload is not an object", ErrInvalidRule)
	}
	return sanitize(doc, defaultSource)
}

// SanitizeMap is Sanitize for payloads that were already decoded.
func SanitizeMap(payload map[string]any, defaultSource string) (Rule, error) {
	if payload == nil {
		return Rule{}, fmt.Errorf("%w: empty payload", ErrInvalidRule)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return Sanitize(data, defaultSource)
}

func sanitize(doc gjson.Result, defaultSource string) (Rule, error) {
	pageURL := clean(doc.Get("page_url"))
	urlContains := clean(doc.Get("url_contains"))
	if urlContains == "" && pageURL != "" {
		urlContains = deriveURLContains(pageURL)
	}

	ruleType := ParseType(clean(doc.Get("type")))
	if !ruleType.Valid() {
		ruleType = TypeElement
	}

	rawSelector := clean(doc.Get("selector"))
	cssSelector := firstNonEmpty(doc, cssSelectorKeys)
	textSnapshot := firstNonEmpty(doc, textSnapshotKeys)

	condition := ParseCondition(clean(doc.Get("condition")))
	if !condition.Valid() {
		condition = ruleType.DefaultCondition()
	}

	var selector string
	switch ruleType {
	case TypeElement:
		selector = cssSelector
		if selector == "" {
			selector = rawSelector
		}
	case TypeElementText:
		selector = rawSelector
		if selector == "" {
			selector = textSnapshot
		}
	}
	if selector == "" {
		return Rule{}, fmt.Errorf("%w: empty selector", ErrInvalidRule)
	}

	baselineText := clean(doc.Get("baseline_text"))
	if baselineText == "" && condition.NeedsBaseline() {
		baselineText = textSnapshot
	}
	if !condition.NeedsBaseline() {
		baselineText = ""
	}

	var lengthThreshold *int
	if condition.NeedsLength() {
		if n, ok := intValue(doc.Get("length_threshold")); ok {
			lengthThreshold = &n
		} else if n, ok := intValue(doc.Get("baseline_length")); ok && n != 0 {
			lengthThreshold = &n
		} else {
			n := utf8.RuneCountInString(textSnapshot)
			lengthThreshold = &n
		}
	}

	name := clean(doc.Get("name"))
	if name == "" {
		name = textSnapshot
	}
	if name == "" {
		name = DefaultName
	}

	source := clean(doc.Get("source"))
	if source == "" {
		source = defaultSource
	}

	capturedAt, ok := parseTimestamp(doc.Get("captured_at"))
	if !ok {
		capturedAt = NewTimestamp(now())
	}

	rule := Rule{
		Name:            name,
		URLContains:     urlContains,
		Type:            ruleType,
		Selector:        selector,
		Condition:       condition,
		BaselineText:    baselineText,
		TextSnapshot:    textSnapshot,
		LengthThreshold: lengthThreshold,
		PageURL:         pageURL,
		Source:          source,
		CapturedAt:      capturedAt,
	}
	if ruleType == TypeElement {
		rule.CSSSelector = cssSelector
	}
	if meta := doc.Get("metadata"); meta.IsObject() {
		if m, ok := meta.Value().(map[string]any); ok {
			rule.Metadata = m
		}
	}
	return rule, nil
}

// clean stringifies and trims a JSON value; null and absent become "".
func clean(r gjson.Result) string {
	switch r.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return strings.TrimSpace(r.Str)
	default:
		return strings.TrimSpace(r.Raw)
	}
}

func firstNonEmpty(doc gjson.Result, keys []string) string {
	for _, key := range keys {
		if v := clean(doc.Get(key)); v != "" {
			return v
		}
	}
	return ""
}

// intValue accepts JSON numbers and numeric strings.
func intValue(r gjson.Result) (int, bool) {
	switch r.Type {
	case gjson.Number:
		return int(r.Int()), true
	case gjson.String:
		s := strings.TrimSpace(r.Str)
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f), true
		}
	}
	return 0, false
}

func deriveURLContains(pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return pageURL
	}
	if parsed.Host != "" {
		return parsed.Host
	}
	if parsed.Path != "" {
		return parsed.Path
	}
	return pageURL
}
