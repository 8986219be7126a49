// Package llm wraps eino chat models with usage metering and
// schema-constrained (structured) calls.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/rfi-assistant/server/internal/agent/model"
	logx "github.com/rfi-assistant/server/pkg/logger"
)

// ErrEmptyResponse is returned when the model answers with no content.
var ErrEmptyResponse = errors.New("empty model response")

// Client is a named chat model. It is safe for concurrent use when the
// underlying model is.
type Client struct {
	chat einomodel.BaseChatModel
	name string
}

func New(chat einomodel.BaseChatModel, name string) *Client {
	return &Client{chat: chat, name: name}
}

func (c *Client) Name() string {
	return c.name
}

// Generate calls the model, records usage on the request meter and logs it.
func (c *Client) Generate(ctx context.Context, msgs []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	ctx = einocb.ReuseHandlers(ctx, &einocb.RunInfo{
		Name:      c.name,
		Type:      "ChatModel",
		Component: components.ComponentOfChatModel,
	})

	out, err := c.chat.Generate(ctx, msgs, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate with %s: %w", c.name, err)
	}
	if out == nil {
		return nil, fmt.Errorf("generate with %s: %w", c.name, ErrEmptyResponse)
	}

	var usage *schema.TokenUsage
	if out.ResponseMeta != nil {
		usage = out.ResponseMeta.Usage
	}
	cost := model.MeterFrom(ctx).Record(c.name, usage)
	if usage != nil {
		logx.Debug().
			Str("model", c.name).
			Int("prompt_tokens", usage.PromptTokens).
			Int("completion_tokens", usage.CompletionTokens).
			Int("total_tokens", usage.TotalTokens).
			Float64("total_cost_usd", cost).
			Msg("LLM usage")
	}
	return out, nil
}

// Text runs a system+user exchange and returns the trimmed reply.
func (c *Client) Text(ctx context.Context, system, user string) (string, error) {
	msgs := make([]*schema.Message, 0, 2)
	if system != "" {
		msgs = append(msgs, schema.SystemMessage(system))
	}
	msgs = append(msgs, schema.UserMessage(user))

	out, err := c.Generate(ctx, msgs)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.Content)
	if text == "" {
		return "", fmt.Errorf("generate with %s: %w", c.name, ErrEmptyResponse)
	}
	return text, nil
}
