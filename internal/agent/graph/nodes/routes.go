package nodes

import (
	"context"

	"github.com/rfi-assistant/server/internal/agent/model"
	logx "github.com/rfi-assistant/server/pkg/logger"
)

// Route picks the next node from the state alone.
type Route func(state *model.ConversationState) string

// RouteOnError sends an errored state to respond and anything else to next.
func RouteOnError(next string) Route {
	return func(state *model.ConversationState) string {
		if state.HasError() {
			return NodeRespond
		}
		return next
	}
}

// RouteAfterClassify dispatches on the query class.
func RouteAfterClassify(state *model.ConversationState) string {
	if state.HasError() {
		return NodeRespond
	}
	if state.QueryClass.UsesGeneratedCode() {
		return NodeGenerate
	}
	return NodeRetrieve
}

// RouteAfterExecute sends lookups through the record lookup and everything
// else straight to synthesis.
func RouteAfterExecute(state *model.ConversationState) string {
	if state.HasError() {
		return NodeRespond
	}
	if state.QueryClass == model.ClassRecordLookup {
		return NodeLookup
	}
	return NodeSynthesize
}

// NewCondition adapts a Route to a graph branch condition.
func NewCondition(from string, route Route) func(context.Context, *model.ConversationState) (string, error) {
	return func(ctx context.Context, state *model.ConversationState) (string, error) {
		next := route(state)
		logx.Debug().Str("from", from).Str("to", next).Msg("Routing")
		return next, nil
	}
}
