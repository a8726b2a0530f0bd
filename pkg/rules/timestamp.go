package rules

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Timestamp is serialized as fractional Unix seconds. It decodes seconds,
// milliseconds and RFC 3339 strings, because capture tools send all three.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	secs := float64(t.UnixNano()) / float64(time.Second)
	return strconv.AppendFloat(nil, secs, 'f', -1, 64), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	ts, _ := parseTimestamp(gjson.ParseBytes(data))
	*t = ts
	return nil
}

func parseTimestamp(r gjson.Result) (Timestamp, bool) {
	switch r.Type {
	case gjson.Number:
		return fromNumber(r.Float())
	case gjson.String:
		s := strings.TrimSpace(r.Str)
		if s == "" {
			return Timestamp{}, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromNumber(f)
		}
		if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return Timestamp{Time: parsed}, true
		}
	}
	return Timestamp{}, false
}

func fromNumber(v float64) (Timestamp, bool) {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return Timestamp{}, false
	}
	if v > 1e12 {
		v /= 1000
	}
	sec, frac := math.Modf(v)
	return Timestamp{Time: time.Unix(int64(sec), int64(frac*float64(time.Second)))}, true
}
