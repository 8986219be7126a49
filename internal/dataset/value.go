package dataset

import (
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical text form of dates in records.
const DateLayout = "2006-01-02"

type ValueKind int

const (
	KindString ValueKind = iota
	KindInt
	KindFloat
	KindDate
)

var dateLayouts = []string{
	DateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"1/2/2006",
	"01/02/2006",
	"1/2/06",
	"01/02/06",
}

// ParseDate accepts the date shapes found in exported request logs.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Coerce converts raw cell text into the typed value for kind. Empty cells
// become nil and unparsable cells keep their text so nothing is lost.
func Coerce(raw string, kind ValueKind) any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	switch kind {
	case KindDate:
		if t, ok := ParseDate(s); ok {
			return t
		}
	case KindInt:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f)
		}
	case KindFloat:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return raw
}

func formatScalar(v any) string {
	switch x := v.(type) {
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case string:
		return x
	default:
		return ""
	}
}
