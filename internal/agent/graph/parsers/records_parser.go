package parsers

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/rfi-assistant/server/internal/dataset"
	errx "github.com/rfi-assistant/server/internal/core/error"
	logx "github.com/rfi-assistant/server/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 1 << 20 // 1MB
	maxRecords    = 5000
	maxErrSnippet = 200
)

var (
	timestampCallRe = regexp.MustCompile(`^Timestamp\(\s*(['"])(.*?)['"]\s*(?:,[^)]*)?\)`)
	datetimeCallRe  = regexp.MustCompile(`^datetime\.(?:date|datetime)\(\s*(\d{4})\s*,\s*(\d{1,2})\s*,\s*(\d{1,2})(?:\s*,\s*(\d{1,2}))?(?:\s*,\s*(\d{1,2}))?(?:\s*,\s*(\d{1,2}))?[^)]*\)`)
	bareDatetimeRe  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(?:[ T]\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?)?`)
	identRe         = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*`)
)

// ParseRecords deserializes the printed result of a lookup program into
// records. It accepts JSON and tolerates loose literals: single-quoted
// strings, None/True/False/NaN/NaT, Timestamp('...') and bare datetime tokens.
// Nothing is evaluated.
func ParseRecords(content string) (records []dataset.Record, err error) {
	// panic safety
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "records_parser").Msgf("panic recovered: %v", r)
			err = errx.New(fmt.Errorf("records parser panic"), http.StatusInternalServerError, errx.SystemErrorMessage)
			records = nil
		}
	}()

	if len(content) > maxContentLen {
		return nil, fmt.Errorf("record output too large: %d bytes", len(content))
	}

	starts := listStarts(content)
	if len(starts) == 0 {
		if strings.TrimSpace(content) == "" {
			return []dataset.Record{}, nil
		}
		return nil, fmt.Errorf("no record list in output: %q", safeSnippet(content))
	}

	// Text printed before the list may itself contain brackets, so every
	// candidate opening is tried in order.
	var raw []map[string]any
	var decodeErr error
	for _, start := range starts {
		raw, decodeErr = decodeList(content[start:])
		if decodeErr == nil {
			break
		}
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	if len(raw) > maxRecords {
		logx.Warn().
			Str("component", "records_parser").
			Int("max_records", maxRecords).
			Int("records", len(raw)).
			Msg("record list capped")
		raw = raw[:maxRecords]
	}

	records = make([]dataset.Record, 0, len(raw))
	for _, m := range raw {
		if m == nil {
			continue
		}
		rec := make(dataset.Record, len(m))
		for k, v := range m {
			rec[k] = convertValue(v)
		}
		records = append(records, rec)
	}
	return records, nil
}

func convertValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
		return x.String()
	case string:
		if len(bareDatetimeRe.FindString(x)) != len(x) {
			return x
		}
		if t, ok := dataset.ParseDate(x); ok {
			return t
		}
		if t, ok := dataset.ParseDate(strings.Replace(x, "T", " ", 1)); ok {
			return t
		}
		return x
	default:
		return v
	}
}

// listStarts returns the offsets of every '[' that opens a list of objects
// or an empty list.
func listStarts(content string) []int {
	var out []int
	for i := 0; i < len(content); i++ {
		if content[i] != '[' {
			continue
		}
		rest := strings.TrimLeft(content[i+1:], " \t\r\n")
		if strings.HasPrefix(rest, "{") || strings.HasPrefix(rest, "]") {
			out = append(out, i)
		}
	}
	return out
}

// decodeList decodes the first value of s as a record list; anything after
// it is ignored.
func decodeList(s string) ([]map[string]any, error) {
	normalized := normalizeLiteral(s)
	dec := json.NewDecoder(strings.NewReader(normalized))
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode record list: %w (%q)", err, safeSnippet(normalized))
	}
	return raw, nil
}

// normalizeLiteral rewrites a loose literal into JSON. Double-quoted
// strings pass through untouched.
func normalizeLiteral(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '"':
			j := scanQuoted(s, i)
			b.WriteString(s[i:j])
			i = j
		case c == '\'':
			j := scanQuoted(s, i)
			inner := s[i+1 : max(i+1, j-1)]
			writeJSONString(&b, unescapeSingle(inner))
			i = j
		default:
			rest := s[i:]
			if m := timestampCallRe.FindStringSubmatch(rest); m != nil {
				writeJSONString(&b, m[2])
				i += len(m[0])
				continue
			}
			if m := datetimeCallRe.FindStringSubmatch(rest); m != nil {
				writeJSONString(&b, datetimeFromParts(m[1:]))
				i += len(m[0])
				continue
			}
			if m := bareDatetimeRe.FindString(rest); m != "" && (i == 0 || !isWordByte(s[i-1])) {
				writeJSONString(&b, m)
				i += len(m)
				continue
			}
			if m := identRe.FindString(rest); m != "" && (i == 0 || !isWordByte(s[i-1])) {
				switch m {
				case "None", "NaN", "nan", "NaT", "null":
					b.WriteString("null")
				case "True", "true":
					b.WriteString("true")
				case "False", "false":
					b.WriteString("false")
				default:
					b.WriteString(m)
				}
				i += len(m)
				continue
			}
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// scanQuoted returns the index just past the closing quote of the string
// starting at i, or len(s) when unterminated.
func scanQuoted(s string, i int) int {
	q := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			return j + 1
		}
	}
	return len(s)
}

func unescapeSingle(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '\'', '\\', '"':
				b.WriteByte(s[i+1])
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(s[i])
				b.WriteByte(s[i+1])
			}
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func writeJSONString(b *strings.Builder, s string) {
	out, _ := json.Marshal(s)
	b.Write(out)
}

func datetimeFromParts(parts []string) string {
	n := make([]int, 6)
	for i, p := range parts {
		if i >= len(n) || p == "" {
			continue
		}
		n[i], _ = strconv.Atoi(p)
	}
	if n[3] == 0 && n[4] == 0 && n[5] == 0 {
		return fmt.Sprintf("%04d-%02d-%02d", n[0], n[1], n[2])
	}
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", n[0], n[1], n[2], n[3], n[4], n[5])
}

func isWordByte(c byte) bool {
	return c == '_' || c == '.' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
