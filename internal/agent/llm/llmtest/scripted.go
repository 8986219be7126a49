// Package llmtest provides deterministic chat models for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Responder produces the reply for one call.
type Responder func(ctx context.Context, msgs []*schema.Message) (string, error)

// ScriptedModel implements einomodel.BaseChatModel without network access.
type ScriptedModel struct {
	respond Responder

	mu    sync.Mutex
	calls [][]*schema.Message
}

var _ einomodel.BaseChatModel = (*ScriptedModel)(nil)

func New(respond Responder) *ScriptedModel {
	return &ScriptedModel{respond: respond}
}

// Fixed always replies with text.
func Fixed(text string) *ScriptedModel {
	return New(func(context.Context, []*schema.Message) (string, error) { return text, nil })
}

// Sequence replies with each text in turn and repeats the last one.
func Sequence(texts ...string) *ScriptedModel {
	var mu sync.Mutex
	i := 0
	return New(func(context.Context, []*schema.Message) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(texts) == 0 {
			return "", nil
		}
		t := texts[i]
		if i < len(texts)-1 {
			i++
		}
		return t, nil
	})
}

// Failing always returns err.
func Failing(err error) *ScriptedModel {
	return New(func(context.Context, []*schema.Message) (string, error) { return "", err })
}

// Unexpected fails the call; use it where a model must not be reached.
func Unexpected() *ScriptedModel {
	return Failing(errors.New("unexpected model call"))
}

func (m *ScriptedModel) Generate(ctx context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, input)
	m.mu.Unlock()

	text, err := m.respond(ctx, input)
	if err != nil {
		return nil, err
	}
	return &schema.Message{
		Role:    schema.Assistant,
		Content: text,
		ResponseMeta: &schema.ResponseMeta{
			Usage: &schema.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
	}, nil
}

func (m *ScriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	out, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{out}), nil
}

// Calls returns how many times the model was invoked.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastInput returns the messages of the most recent call.
func (m *ScriptedModel) LastInput() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

// Joined concatenates message contents, handy for matching prompts in responders.
func Joined(msgs []*schema.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m == nil {
			continue
		}
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return b.String()
}
