package nodes

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rfi-assistant/server/internal/agent/model"
)

// MaxPreviewWords bounds the thread label.
const MaxPreviewWords = 5

var (
	citationRefRe  = regexp.MustCompile(`\[(\d+)\]`)
	sourcesLabelRe = regexp.MustCompile(`(?im)^\s*sources\s*:`)
)

// EnsureSourceList appends a "Sources:" list for the cited indices when the
// answer cites [n] but carries no list of its own.
func EnsureSourceList(answer string, sources []model.Source) string {
	if len(sources) == 0 || sourcesLabelRe.MatchString(answer) {
		return answer
	}

	byIndex := make(map[int]model.Source, len(sources))
	for _, s := range sources {
		byIndex[s.Index] = s
	}

	seen := map[int]bool{}
	var cited []int
	for _, m := range citationRefRe.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		if _, ok := byIndex[n]; !ok {
			continue
		}
		seen[n] = true
		cited = append(cited, n)
	}
	if len(cited) == 0 {
		return answer
	}
	sort.Ints(cited)

	var b strings.Builder
	b.WriteString(strings.TrimRight(answer, "\n "))
	b.WriteString("\n\nSources:")
	for _, n := range cited {
		s := byIndex[n]
		fmt.Fprintf(&b, "\n[%d] %s", n, s.Label)
		if s.Ref != "" && s.Ref != s.Label {
			fmt.Fprintf(&b, " (%s)", s.Ref)
		}
	}
	return b.String()
}

// MergeSummary returns updated with every line of prior that it dropped
// re-appended, so the rolling summary never loses facts.
func MergeSummary(prior, updated string) string {
	updated = strings.TrimSpace(updated)
	if updated == "" {
		return strings.TrimSpace(prior)
	}

	have := normalize(updated)
	var missing []string
	for _, line := range strings.Split(prior, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(have, normalize(line)) {
			continue
		}
		missing = append(missing, line)
	}
	if len(missing) == 0 {
		return updated
	}
	return updated + "\n" + strings.Join(missing, "\n")
}

// ClipPreview keeps the first MaxPreviewWords words of a thread label.
func ClipPreview(preview string) string {
	words := strings.Fields(strings.Trim(strings.TrimSpace(preview), `"'`))
	if len(words) == 0 {
		return model.NewChatPreview
	}
	if len(words) > MaxPreviewWords {
		words = words[:MaxPreviewWords]
	}
	return strings.Join(words, " ")
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
