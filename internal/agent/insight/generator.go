// Package insight answers analytics questions over the request log by
// generating a small Go program, running it in an interpreter sandbox and
// turning its output into a report.
package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rfi-assistant/server/internal/agent/graph/prompts"
	"github.com/rfi-assistant/server/internal/agent/llm"
	"github.com/rfi-assistant/server/internal/agent/model"
	"github.com/rfi-assistant/server/internal/dataset"
	logx "github.com/rfi-assistant/server/pkg/logger"
)

var codeFenceRe = regexp.MustCompile("(?s)```(?:go|golang)?\\s*\\n(.*?)```")

// Generator writes analysis programs against the shared table.
type Generator struct {
	client *llm.Client
	table  *dataset.Table
	cfg    model.InsightConfig
	now    func() time.Time
}

func NewGenerator(client *llm.Client, table *dataset.Table, cfg model.InsightConfig) *Generator {
	return &Generator{client: client, table: table, cfg: cfg, now: time.Now}
}

// Generate returns Go source for instruction. The model package is only
// described when subclass is needs_model; lookup asks for records.Emit output.
func (g *Generator) Generate(ctx context.Context, instruction string, subclass model.QuerySubclass, lookup bool) (string, error) {
	needsModel := subclass == model.SubclassNeedsModel && !lookup

	sample, err := json.MarshalIndent(toMaps(g.table.Sample(g.cfg.SampleRows)), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode sample rows: %w", err)
	}

	rendered, err := prompts.RenderCodegen(ctx, prompts.CodegenVars{
		Instruction:   instruction,
		Schema:        g.table.Schema().Describe(),
		Sample:        string(sample),
		Imports:       strings.Join(AllowedImports(needsModel), ", "),
		Today:         g.now().Format(dataset.DateLayout),
		NeedsModel:    needsModel,
		Lookup:        lookup,
		MaxConcurrent: g.cfg.MaxConcurrentModelCalls,
	})
	if err != nil {
		return "", err
	}

	reply, err := g.client.Text(ctx, "", rendered)
	if err != nil {
		return "", err
	}
	code := ExtractCode(reply)
	if code == "" {
		return "", fmt.Errorf("generate with %s: %w", g.client.Name(), llm.ErrEmptyResponse)
	}

	logx.Debug().
		Str("subclass", string(subclass)).
		Bool("lookup", lookup).
		Int("code_bytes", len(code)).
		Msg("Program generated")
	return code, nil
}

// ExtractCode pulls the first fenced block out of a reply, or returns the
// trimmed reply when it has no fence.
func ExtractCode(reply string) string {
	if m := codeFenceRe.FindStringSubmatch(reply); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(reply)
}

func toMaps(rows []dataset.Record) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = map[string]any(r)
	}
	return out
}
