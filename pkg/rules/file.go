package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"
)

// ErrUnsupportedVersion is returned for a rules file written by a newer schema.
var ErrUnsupportedVersion = errors.New("unsupported rules file version")

// ErrCorruptFile is returned when the rules file is not valid JSON.
var ErrCorruptFile = errors.New("corrupt rules file")

type fileV2 struct {
	Version int    `json:"version"`
	Rules   []Rule `json:"rules"`
}

// Decode parses a rules file. The version tag is read first and selects the
// decoder: version 1 is either a bare list or a wrapper with loose entries that
// are re-sanitized; version 2 entries decode directly. Entries that break the
// rule invariants are dropped and logged.
func Decode(data []byte, log *slog.Logger) (int, []Rule, error) {
	if log == nil {
		log = slog.Default()
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || !gjson.ValidBytes(data) {
		return 0, nil, ErrCorruptFile
	}

	doc := gjson.ParseBytes(data)
	var (
		version int
		body    gjson.Result
	)
	switch {
	case doc.IsArray():
		version, body = 1, doc
	case doc.IsObject():
		version = 1
		if v := doc.Get("version"); v.Exists() {
			version = int(v.Int())
		}
		body = doc.Get("rules")
	default:
		return 0, nil, ErrCorruptFile
	}

	switch version {
	case 1:
		return 1, decodeV1(body, log), nil
	case 2:
		rules, err := decodeV2(body, log)
		if err != nil {
			return 0, nil, err
		}
		return 2, rules, nil
	default:
		return version, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
}

func decodeV1(body gjson.Result, log *slog.Logger) []Rule {
	if !body.IsArray() {
		return []Rule{}
	}
	entries := body.Array()
	out := make([]Rule, 0, len(entries))
	for i, entry := range entries {
		rule, err := Sanitize([]byte(entry.Raw), SourceManual)
		if err != nil {
			log.Warn("dropping invalid version 1 rule", "index", i, "error", err)
			continue
		}
		out = append(out, rule)
	}
	return out
}

func decodeV2(body gjson.Result, log *slog.Logger) ([]Rule, error) {
	if !body.Exists() || body.Type == gjson.Null {
		return []Rule{}, nil
	}
	var decoded []Rule
	if err := json.Unmarshal([]byte(body.Raw), &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}
	out := make([]Rule, 0, len(decoded))
	for i, r := range decoded {
		normalized, err := Normalize(r)
		if err != nil {
			log.Warn("dropping invalid rule", "index", i, "name", r.Name, "error", err)
			continue
		}
		out = append(out, normalized)
	}
	return out, nil
}

// Encode renders the current schema.
func Encode(rules []Rule) any {
	if rules == nil {
		rules = []Rule{}
	}
	return fileV2{Version: SchemaVersion, Rules: rules}
}
