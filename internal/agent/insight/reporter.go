package insight

import (
	"context"
	"strings"

	"github.com/rfi-assistant/server/internal/agent/graph/parsers"
	"github.com/rfi-assistant/server/internal/agent/graph/prompts"
	"github.com/rfi-assistant/server/internal/agent/llm"
	logx "github.com/rfi-assistant/server/pkg/logger"
)

// maxReportInput bounds the program output passed to the report model.
const maxReportInput = 20000

// Reporter turns raw program output into a sectioned report.
type Reporter struct {
	client *llm.Client
}

func NewReporter(client *llm.Client) *Reporter {
	return &Reporter{client: client}
}

// Format asks the model for SUMMARY / KEY FINDINGS / DETAILS sections. A reply
// without markers is kept whole as the details section.
func (r *Reporter) Format(ctx context.Context, instruction, code, output string) (parsers.Report, error) {
	if len(output) > maxReportInput {
		output = output[:maxReportInput] + truncatedNote
	}
	rendered, err := prompts.RenderReport(ctx, prompts.ReportVars{
		Instruction: instruction,
		Code:        code,
		Output:      output,
	})
	if err != nil {
		return parsers.Report{}, err
	}

	reply, err := r.client.Text(ctx, "", rendered)
	if err != nil {
		return parsers.Report{}, err
	}

	report, err := parsers.ParseReport(reply)
	if err != nil {
		logx.Warn().Err(err).Str("component", "reporter").Msg("Report without section markers")
		return parsers.Report{Details: strings.TrimSpace(reply)}, nil
	}
	return report, nil
}
