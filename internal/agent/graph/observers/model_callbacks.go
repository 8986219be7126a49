package observers

import (
	"context"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/rfi-assistant/server/pkg/logger"
)

// maxLoggedChars bounds message content written to the debug log.
const maxLoggedChars = 500

// newModelHandler logs the latest user message and the reply around model calls.
func newModelHandler() *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			ev := logx.Debug().Str("model", info.Name)
			if input != nil {
				ev = ev.Int("messages", len(input.Messages)).
					Str("user", clip(lastUserContent(input.Messages)))
			}
			ev.Msg("Model start")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			ev := logx.Debug().Str("model", info.Name)
			if output != nil && output.Message != nil {
				ev = ev.Str("assistant", clip(strings.TrimSpace(output.Message.Content)))
			}
			ev.Msg("Model end")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Error().Err(err).Str("model", info.Name).Msg("Model call failed")
			return ctx
		},
	}
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxLoggedChars {
		return s
	}
	return string(r[:maxLoggedChars]) + "..."
}
