package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfi-assistant/server/internal/agent/llm/llmtest"
	"github.com/rfi-assistant/server/internal/agent/model"
)

type verdict struct {
	Label string `json:"label"`
}

func (v verdict) Validate() error {
	if v.Label == "" {
		return errors.New("label is required")
	}
	return nil
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n{\"a\":1}```", "{\"a\":1}"},
		{"Sure! {\"a\":1} hope this helps", "{\"a\":1}"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripFences(tt.in))
	}
}

func TestStructured(t *testing.T) {
	ctx := context.Background()
	c := New(llmtest.Fixed("```json\n{\"label\":\"ok\"}\n```"), "gemini-2.5-flash")

	out, err := Structured[verdict](ctx, c, []*schema.Message{schema.UserMessage("x")})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Label)
}

func TestStructuredValidationFailure(t *testing.T) {
	ctx := context.Background()
	c := New(llmtest.Fixed(`{"label":""}`), "m")

	_, err := Structured[verdict](ctx, c, nil)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, `{"label":""}`, pe.Raw)
}

func TestStructuredMalformed(t *testing.T) {
	c := New(llmtest.Fixed("not json at all"), "m")
	_, err := Structured[verdict](context.Background(), c, nil)
	assert.True(t, IsParseError(err))
}

func TestStructuredTransportError(t *testing.T) {
	boom := errors.New("unavailable")
	c := New(llmtest.Failing(boom), "m")

	_, err := Structured[verdict](context.Background(), c, nil)
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsParseError(err))
}

func TestStructuredWithRepair(t *testing.T) {
	scripted := llmtest.Sequence("oops", `{"label":"fixed"}`)
	c := New(scripted, "m")

	out, err := StructuredWithRepair[verdict](context.Background(), c, []*schema.Message{schema.UserMessage("x")}, "return JSON only")
	require.NoError(t, err)
	assert.Equal(t, "fixed", out.Label)
	assert.Equal(t, 2, scripted.Calls())

	last := scripted.LastInput()
	require.Len(t, last, 3)
	assert.Equal(t, "oops", last[1].Content)
	assert.Equal(t, "return JSON only", last[2].Content)
}

func TestStructuredWithRepairFailsTwice(t *testing.T) {
	c := New(llmtest.Fixed("still not json"), "m")

	_, err := StructuredWithRepair[verdict](context.Background(), c, nil, "fix it")
	var re *RepairError
	require.ErrorAs(t, err, &re)
	assert.True(t, IsParseError(re.First))
	assert.True(t, IsParseError(re.Repair))
}

func TestGenerateRecordsUsage(t *testing.T) {
	meter := &model.Meter{}
	ctx := model.WithMeter(context.Background(), meter)
	c := New(llmtest.Fixed("hello"), "gemini-2.5-flash")

	text, err := c.Text(ctx, "sys", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 1, meter.Snapshot().Calls)
	assert.Equal(t, 10, meter.Snapshot().PromptTokens)
}

func TestTextEmpty(t *testing.T) {
	c := New(llmtest.Fixed("   "), "m")
	_, err := c.Text(context.Background(), "", "hi")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}
