// Package observers logs graph, model and prompt lifecycle events.
package observers

import (
	einocb "github.com/cloudwego/eino/callbacks"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	"github.com/rfi-assistant/server/internal/agent/metrics"
)

// NewCallbacks aggregates node timing, model and prompt observers into one
// callbacks.Handler. Attach it via compose.WithCallbacks when invoking the graph.
func NewCallbacks(m *metrics.Metrics) einocb.Handler {
	return callbackHelper.NewHandlerHelper().
		Lambda(newNodeHandler(m)).
		ChatModel(newModelHandler()).
		Prompt(newPromptHandler()).
		Handler()
}
