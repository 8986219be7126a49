package parsers

import (
	"fmt"
	"regexp"
	"strings"
)

// Report is the three-part narrative produced from program output.
type Report struct {
	Summary     string
	KeyFindings string
	Details     string
}

var sectionRe = regexp.MustCompile(`(?im)^[#*\t ]*(SUMMARY|KEY FINDINGS|DETAILS)[*\t ]*:[*\t ]*`)

// ParseReport splits text on its SUMMARY, KEY FINDINGS and DETAILS markers.
// Text before the first marker is ignored. At least one marker is required.
func ParseReport(content string) (Report, error) {
	locs := sectionRe.FindAllStringSubmatchIndex(content, -1)
	if len(locs) == 0 {
		return Report{}, fmt.Errorf("report has no section markers: %q", safeSnippet(content))
	}

	var r Report
	for i, loc := range locs {
		name := strings.ToUpper(content[loc[2]:loc[3]])
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(content[loc[1]:end])
		switch name {
		case "SUMMARY":
			r.Summary = appendSection(r.Summary, body)
		case "KEY FINDINGS":
			r.KeyFindings = appendSection(r.KeyFindings, body)
		case "DETAILS":
			r.Details = appendSection(r.Details, body)
		}
	}
	return r, nil
}

func appendSection(cur, body string) string {
	if cur == "" {
		return body
	}
	if body == "" {
		return cur
	}
	return cur + "\n" + body
}

// String renders the report with plain section markers. Empty sections are
// omitted.
func (r Report) String() string {
	var parts []string
	if r.Summary != "" {
		parts = append(parts, "SUMMARY:\n"+r.Summary)
	}
	if r.KeyFindings != "" {
		parts = append(parts, "KEY FINDINGS:\n"+r.KeyFindings)
	}
	if r.Details != "" {
		parts = append(parts, "DETAILS:\n"+r.Details)
	}
	return strings.Join(parts, "\n\n")
}
