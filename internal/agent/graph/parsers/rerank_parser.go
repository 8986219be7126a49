package parsers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rfi-assistant/server/internal/agent/llm"
)

// ErrNoIndices is returned when a ranking reply holds no usable index.
var ErrNoIndices = errors.New("ranking contains no valid indices")

type rankingReply struct {
	Indices []any `json:"indices"`
}

// ParseRerankIndices reads a ranking reply of the form {"indices":[...]} (a
// bare array is also accepted). Indices outside [0,n) and repeats are
// dropped; the result holds at most topN entries in reply order.
func ParseRerankIndices(content string, n, topN int) ([]int, error) {
	if len(content) > maxContentLen {
		return nil, fmt.Errorf("ranking too large: %d bytes", len(content))
	}
	cleaned := llm.StripFences(content)

	var values []any
	if strings.HasPrefix(cleaned, "[") {
		if err := json.Unmarshal([]byte(cleaned), &values); err != nil {
			return nil, fmt.Errorf("decode ranking: %w (%q)", err, safeSnippet(content))
		}
	} else {
		var reply rankingReply
		if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
			return nil, fmt.Errorf("decode ranking: %w (%q)", err, safeSnippet(content))
		}
		values = reply.Indices
	}

	if topN <= 0 || topN > n {
		topN = n
	}
	seen := make(map[int]struct{}, len(values))
	out := make([]int, 0, topN)
	for _, v := range values {
		f, ok := v.(float64)
		if !ok || f != math.Trunc(f) {
			continue
		}
		idx := int(f)
		if idx < 0 || idx >= n {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
		if len(out) == topN {
			break
		}
	}
	if len(out) == 0 {
		return nil, ErrNoIndices
	}
	return out, nil
}
