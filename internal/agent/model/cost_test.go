package model

import (
	"context"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
)

func TestComputeCost(t *testing.T) {
	in, out, total := ComputeCost(&schema.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 2_000_000}, ResolvePricing("gemini-2.5-flash"))
	assert.InDelta(t, 0.30, in, 1e-9)
	assert.InDelta(t, 5.00, out, 1e-9)
	assert.InDelta(t, 5.30, total, 1e-9)

	_, _, total = ComputeCost(nil, ResolvePricing("gemini-2.5-flash"))
	assert.Zero(t, total)
	assert.Equal(t, Pricing{}, ResolvePricing("unknown-model"))
}

func TestMeterConcurrentRecord(t *testing.T) {
	m := &Meter{}
	ctx := WithMeter(context.Background(), m)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			MeterFrom(ctx).Record("gemini-2.5-flash-lite", &schema.TokenUsage{PromptTokens: 10, CompletionTokens: 5})
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, 20, snap.Calls)
	assert.Equal(t, 200, snap.PromptTokens)
	assert.Equal(t, 100, snap.CompletionTokens)
}

func TestNilMeter(t *testing.T) {
	var m *Meter
	assert.NotPanics(t, func() {
		m.Record("gemini-2.5-flash", &schema.TokenUsage{PromptTokens: 1})
	})
	assert.Nil(t, MeterFrom(context.Background()))
	assert.Equal(t, Usage{}, m.Snapshot())
}
