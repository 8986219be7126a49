package model

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// Pricing defines USD cost per 1M tokens for input/output.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// defaultPricing provides hardcoded USD pricing per 1M tokens (text tokens).
var defaultPricing = map[string]Pricing{
	// Source: Gemini pricing (Standard; text).
	"gemini-2.5-pro":        {InputPerM: 1.25, OutputPerM: 10.00},
	"gemini-2.5-flash":      {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite": {InputPerM: 0.10, OutputPerM: 0.40},
	"text-embedding-004":    {InputPerM: 0.00, OutputPerM: 0.00},
}

// ResolvePricing returns hardcoded pricing for a model, zero when unknown.
func ResolvePricing(model string) Pricing {
	if p, ok := defaultPricing[model]; ok {
		return p
	}
	return Pricing{}
}

// ComputeCost converts token usage to USD cost using per-1M Pricing.
func ComputeCost(usage *schema.TokenUsage, p Pricing) (inputCost, outputCost, total float64) {
	if usage == nil {
		return 0, 0, 0
	}
	inputCost = p.InputPerM * float64(usage.PromptTokens) / 1_000_000.0
	outputCost = p.OutputPerM * float64(usage.CompletionTokens) / 1_000_000.0
	total = inputCost + outputCost
	return
}

// Usage is a snapshot of a Meter.
type Usage struct {
	Calls            int
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// Meter accumulates model usage for one request. Generated code may fan out
// model calls, so Record is safe for concurrent use.
type Meter struct {
	mu    sync.Mutex
	usage Usage
}

// Record adds one call and returns its cost.
func (m *Meter) Record(model string, usage *schema.TokenUsage) float64 {
	_, _, total := ComputeCost(usage, ResolvePricing(model))
	if m == nil {
		return total
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage.Calls++
	if usage != nil {
		m.usage.PromptTokens += usage.PromptTokens
		m.usage.CompletionTokens += usage.CompletionTokens
	}
	m.usage.CostUSD += total
	return total
}

func (m *Meter) Snapshot() Usage {
	if m == nil {
		return Usage{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

type meterKey struct{}

// WithMeter attaches a meter to ctx.
func WithMeter(ctx context.Context, m *Meter) context.Context {
	return context.WithValue(ctx, meterKey{}, m)
}

// MeterFrom returns the meter attached to ctx or nil. A nil *Meter is usable.
func MeterFrom(ctx context.Context) *Meter {
	m, _ := ctx.Value(meterKey{}).(*Meter)
	return m
}
