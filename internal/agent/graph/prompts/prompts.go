package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/guardrail_prompt.txt
var guardrailSystemPrompt string

//go:embed template/classify_prompt.txt
var classifySystemPrompt string

//go:embed template/rerank_prompt.txt
var rerankPrompt string

//go:embed template/codegen_prompt.txt
var codegenPrompt string

//go:embed template/report_prompt.txt
var reportPrompt string

//go:embed template/synthesis_prompt.txt
var synthesisSystemPrompt string

//go:embed template/synthesis_repair.txt
var synthesisRepairPrompt string

// render formats a Go-template system message via the Eino prompt component
// so prompt callbacks fire.
func render(ctx context.Context, name, tpl string, vars map[string]any) (string, error) {
	msgs, err := prompt.FromMessages(schema.GoTemplate, schema.SystemMessage(tpl)).Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("%s prompt render: %w", name, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("%s prompt render: empty result", name)
	}
	return msgs[0].Content, nil
}

func RenderGuardrailSystem(ctx context.Context) (string, error) {
	return render(ctx, "guardrail", guardrailSystemPrompt, map[string]any{})
}

type ClassifyVars struct {
	Summary          string
	RecentTurns      string
	PreviousRewrites []string
}

// RenderClassifySystem renders the rewrite+classify instructions; the latest
// turn goes in the user message.
func RenderClassifySystem(ctx context.Context, v ClassifyVars) (string, error) {
	return render(ctx, "classify", classifySystemPrompt, map[string]any{
		"Summary":          v.Summary,
		"RecentTurns":      v.RecentTurns,
		"PreviousRewrites": v.PreviousRewrites,
	})
}

type RerankVars struct {
	Query    string
	Snippets []string
	TopN     int
}

func RenderRerank(ctx context.Context, v RerankVars) (string, error) {
	return render(ctx, "rerank", rerankPrompt, map[string]any{
		"Query":    v.Query,
		"Snippets": v.Snippets,
		"TopN":     v.TopN,
	})
}

type CodegenVars struct {
	Instruction   string
	Schema        string
	Sample        string
	Imports       string
	Today         string
	NeedsModel    bool
	Lookup        bool
	MaxConcurrent int
}

func RenderCodegen(ctx context.Context, v CodegenVars) (string, error) {
	return render(ctx, "codegen", codegenPrompt, map[string]any{
		"Instruction":   v.Instruction,
		"Schema":        v.Schema,
		"Sample":        v.Sample,
		"Imports":       v.Imports,
		"Today":         v.Today,
		"NeedsModel":    v.NeedsModel,
		"Lookup":        v.Lookup,
		"MaxConcurrent": v.MaxConcurrent,
	})
}

type ReportVars struct {
	Instruction string
	Code        string
	Output      string
}

func RenderReport(ctx context.Context, v ReportVars) (string, error) {
	return render(ctx, "report", reportPrompt, map[string]any{
		"Instruction": v.Instruction,
		"Code":        v.Code,
		"Output":      v.Output,
	})
}

type SynthesisVars struct {
	Summary        string
	RecentTurns    string
	Context        string
	SummaryWordCap int
}

// RenderSynthesisSystem renders the answer+summary+preview contract; the
// question goes in the user message.
func RenderSynthesisSystem(ctx context.Context, v SynthesisVars) (string, error) {
	return render(ctx, "synthesis", synthesisSystemPrompt, map[string]any{
		"Summary":        v.Summary,
		"RecentTurns":    v.RecentTurns,
		"Context":        v.Context,
		"SummaryWordCap": v.SummaryWordCap,
	})
}

func SynthesisRepair() string {
	return synthesisRepairPrompt
}
