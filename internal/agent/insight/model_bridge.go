package insight

import (
	"context"
	"fmt"
	"reflect"

	"github.com/traefik/yaegi/interp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/rfi-assistant/server/internal/agent/llm"
	"github.com/rfi-assistant/server/internal/agent/metrics"
)

// fanout bounds per-row model calls across every running program.
type fanout struct {
	limit   int
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

func newFanout(limit int, perSecond float64, m *metrics.Metrics) *fanout {
	if limit <= 0 {
		limit = 1
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(perSecond), limit)
	}
	return &fanout{
		limit:   limit,
		sem:     semaphore.NewWeighted(int64(limit)),
		limiter: lim,
		metrics: m,
	}
}

// modelBridge is the "llm" package seen by generated programs.
type modelBridge struct {
	ctx    context.Context
	client *llm.Client
	fan    *fanout
}

func (b *modelBridge) exports() interp.Exports {
	return interp.Exports{
		"llm/llm": {
			"Ask": reflect.ValueOf(b.Ask),
			"Map": reflect.ValueOf(b.Map),
		},
	}
}

// Ask sends one prompt. It blocks while the fan-out limit is reached.
func (b *modelBridge) Ask(prompt string) (string, error) {
	return b.ask(b.ctx, prompt)
}

// Map answers prompts concurrently, at most limit at a time, and keeps order.
// The first failure cancels the calls not yet started.
func (b *modelBridge) Map(prompts []string) ([]string, error) {
	out := make([]string, len(prompts))
	g, ctx := errgroup.WithContext(b.ctx)
	g.SetLimit(b.fan.limit)
	for i, p := range prompts {
		g.Go(func() error {
			answer, err := b.ask(ctx, p)
			if err != nil {
				return fmt.Errorf("prompt %d: %w", i, err)
			}
			out[i] = answer
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *modelBridge) ask(ctx context.Context, prompt string) (string, error) {
	if err := b.fan.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer b.fan.sem.Release(1)

	if err := b.fan.limiter.Wait(ctx); err != nil {
		return "", err
	}

	done := b.fan.metrics.TrackFanout()
	defer done()
	return b.client.Text(ctx, "", prompt)
}
