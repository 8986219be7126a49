package guardrail

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/schema"

	"github.com/rfi-assistant/server/internal/agent/graph/prompts"
	"github.com/rfi-assistant/server/internal/agent/llm"
)

type gateVerdict struct {
	Blocked *bool `json:"blocked"`
}

func (v gateVerdict) Validate() error {
	if v.Blocked == nil {
		return errors.New("blocked is required")
	}
	return nil
}

// LLMClassifier asks a fast model for a binary block verdict.
type LLMClassifier struct {
	client *llm.Client
}

func NewLLMClassifier(client *llm.Client) *LLMClassifier {
	return &LLMClassifier{client: client}
}

func (c *LLMClassifier) Blocked(ctx context.Context, text string) (bool, error) {
	system, err := prompts.RenderGuardrailSystem(ctx)
	if err != nil {
		return false, err
	}
	v, err := llm.Structured[gateVerdict](ctx, c.client, []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(text),
	})
	if err != nil {
		return false, err
	}
	return *v.Blocked, nil
}
