package observers

import (
	"context"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"

	"github.com/rfi-assistant/server/internal/agent/metrics"
	logx "github.com/rfi-assistant/server/pkg/logger"
)

type nodeStartKey struct{}

// newNodeHandler times every lambda node and feeds the node latency histogram.
func newNodeHandler(m *metrics.Metrics) einocb.Handler {
	return einocb.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackInput) context.Context {
			logx.Debug().Str("node", info.Name).Msg("Node start")
			return context.WithValue(ctx, nodeStartKey{}, time.Now())
		}).
		OnEndFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackOutput) context.Context {
			elapsed := sinceStart(ctx)
			m.ObserveNode(info.Name, elapsed)
			logx.Debug().Str("node", info.Name).Dur("elapsed", elapsed).Msg("Node end")
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			elapsed := sinceStart(ctx)
			m.ObserveNode(info.Name, elapsed)
			logx.Error().Err(err).Str("node", info.Name).Dur("elapsed", elapsed).Msg("Node failed")
			return ctx
		}).
		Build()
}

func sinceStart(ctx context.Context) time.Duration {
	start, ok := ctx.Value(nodeStartKey{}).(time.Time)
	if !ok {
		return 0
	}
	return time.Since(start)
}
