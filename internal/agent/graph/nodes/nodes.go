package nodes

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/cloudwego/eino/compose"

	"github.com/rfi-assistant/server/internal/agent/graph/parsers"
	"github.com/rfi-assistant/server/internal/agent/guardrail"
	"github.com/rfi-assistant/server/internal/agent/insight"
	"github.com/rfi-assistant/server/internal/agent/llm"
	"github.com/rfi-assistant/server/internal/agent/lookup"
	"github.com/rfi-assistant/server/internal/agent/metrics"
	"github.com/rfi-assistant/server/internal/agent/model"
	"github.com/rfi-assistant/server/internal/agent/retrieval"
	errx "github.com/rfi-assistant/server/internal/core/error"
	logx "github.com/rfi-assistant/server/pkg/logger"
)

// Guard admits or rejects the latest turn.
type Guard interface {
	Check(ctx context.Context, query string) guardrail.Decision
}

// stateFunc is the shape shared by every node: it updates the state in place
// and hands it on.
type stateFunc func(ctx context.Context, state *model.ConversationState) (*model.ConversationState, error)

// lambda wraps fn so a nil state is reported instead of dereferenced.
func lambda(name string, fn stateFunc) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, state *model.ConversationState) (*model.ConversationState, error) {
		if state == nil {
			return nil, fmt.Errorf("%s: nil conversation state", name)
		}
		return fn(ctx, state)
	})
}

// NewCheckQueryNode runs the guardrail on the raw latest turn.
func NewCheckQueryNode(guard Guard) *compose.Lambda {
	return lambda(NodeCheckQuery, func(ctx context.Context, state *model.ConversationState) (*model.ConversationState, error) {
		d := guard.Check(ctx, state.LatestTurn())
		if !d.Allowed {
			state.Fail(errx.Rejected(d.Reason))
		}
		return state, nil
	})
}

// NewClassifyNode rewrites and classifies the latest turn in one call.
func NewClassifyNode(c *Classifier, m *metrics.Metrics) *compose.Lambda {
	return lambda(NodeClassify, classifyFunc(c, m))
}

func classifyFunc(c *Classifier, m *metrics.Metrics) stateFunc {
	return func(ctx context.Context, state *model.ConversationState) (*model.ConversationState, error) {
		out, err := c.Classify(ctx, state)
		if err != nil {
			logx.Error().Err(err).Str("node", NodeClassify).Msg("Classification failed")
			if llm.IsParseError(err) {
				state.Fail(errx.Classification(err))
			} else {
				state.Fail(errx.Upstream(err))
			}
			return state, nil
		}

		state.RewrittenQuery = out.RewrittenQuery
		state.QueryClass = out.QueryClass
		state.QuerySubclass = out.QuerySubclass
		state.AddRewrite(out.RewrittenQuery)
		m.Route(string(out.QueryClass))

		logx.Debug().
			Str("query_class", string(out.QueryClass)).
			Str("query_subclass", string(out.QuerySubclass)).
			Str("rewritten_query", out.RewrittenQuery).
			Msg("Query classified")
		return state, nil
	}
}

// NewGenerateNode writes the program for tabular and lookup queries.
func NewGenerateNode(g *insight.Generator) *compose.Lambda {
	return lambda(NodeGenerate, func(ctx context.Context, state *model.ConversationState) (*model.ConversationState, error) {
		code, err := g.Generate(ctx, state.Query(), state.QuerySubclass, state.QueryClass == model.ClassRecordLookup)
		if err != nil {
			logx.Error().Err(err).Str("node", NodeGenerate).Msg("Code generation failed")
			state.Fail(errx.Upstream(err))
			return state, nil
		}
		state.Code = code
		return state, nil
	})
}

// NewExecuteNode runs the generated program. A failing program is not an
// error: its output carries the failure text and the outcome is recorded.
// Tabular output is formatted into report sections; lookup output is parsed
// back into records.
func NewExecuteNode(exec *insight.Executor, reporter *insight.Reporter, fast *llm.Client) *compose.Lambda {
	return lambda(NodeExecute, func(ctx context.Context, state *model.ConversationState) (*model.ConversationState, error) {
		var caps insight.Capabilities
		if state.QueryClass == model.ClassTabularInsight && state.QuerySubclass == model.SubclassNeedsModel {
			caps.Model = fast
		}

		res := exec.Execute(ctx, state.Code, caps)
		state.Output = res.Output
		if res.Faulted() {
			state.Outcome = errx.KindGenerationExecutionFault
			return state, nil
		}

		switch state.QueryClass {
		case model.ClassRecordLookup:
			records, err := parsers.ParseRecords(res.Output)
			if err != nil {
				logx.Warn().Err(err).Str("node", NodeExecute).Msg("Program output is not a record list")
				state.Outcome = errx.KindGenerationExecutionFault
				return state, nil
			}
			state.RecordMatches = records
		case model.ClassTabularInsight:
			report, err := reporter.Format(ctx, state.Query(), state.Code, res.Output)
			if err != nil {
				logx.Error().Err(err).Str("node", NodeExecute).Msg("Report formatting failed")
				state.Fail(errx.Upstream(err))
				return state, nil
			}
			state.FinalAnswer = report.String()
		}
		return state, nil
	})
}

// NewLookupNode resolves matched records to their documents.
func NewLookupNode(l *lookup.Lookup) *compose.Lambda {
	return lambda(NodeLookup, func(ctx context.Context, state *model.ConversationState) (*model.ConversationState, error) {
		if state.Outcome == errx.KindGenerationExecutionFault {
			state.LookupContext = state.Output
			return state, nil
		}
		text, sources := l.Combine(ctx, state.RecordMatches)
		state.LookupContext = text
		state.Sources = sources
		return state, nil
	})
}

// NewRetrieveNode searches the document index with the rewritten query.
func NewRetrieveNode(r *retrieval.Retriever) *compose.Lambda {
	return lambda(NodeRetrieve, func(ctx context.Context, state *model.ConversationState) (*model.ConversationState, error) {
		hits, err := r.Retrieve(ctx, state.Query())
		switch {
		case errors.Is(err, retrieval.ErrNoHits):
			logx.Info().Str("query", state.Query()).Msg("No documents found")
			state.Fail(errx.RetrievalEmpty())
		case err != nil:
			logx.Error().Err(err).Str("node", NodeRetrieve).Msg("Retrieval failed")
			state.Fail(errx.Upstream(err))
		default:
			state.RankedChunks = hits
		}
		return state, nil
	})
}

// NewRerankNode keeps the topN most relevant chunks.
func NewRerankNode(r retrieval.Reranker, topN int) *compose.Lambda {
	return lambda(NodeRerank, func(ctx context.Context, state *model.ConversationState) (*model.ConversationState, error) {
		ranked, err := r.Rerank(ctx, state.Query(), state.RankedChunks, topN)
		if err != nil {
			logx.Warn().Err(err).Str("node", NodeRerank).Msg("Rerank failed, keeping retrieval order")
			if topN > 0 && len(state.RankedChunks) > topN {
				state.RankedChunks = state.RankedChunks[:topN]
			}
			return state, nil
		}
		state.RankedChunks = ranked
		return state, nil
	})
}

// NewSynthesizeNode writes the answer, summary and preview. A tabular report
// produced by execute is kept as the answer.
func NewSynthesizeNode(s *Synthesizer) *compose.Lambda {
	return lambda(NodeSynthesize, synthesizeFunc(s))
}

func synthesizeFunc(s *Synthesizer) stateFunc {
	return func(ctx context.Context, state *model.ConversationState) (*model.ConversationState, error) {
		out, err := s.Synthesize(ctx, state)
		if err != nil {
			logx.Error().Err(err).Str("node", NodeSynthesize).Msg("Synthesis failed")
			var repairErr *llm.RepairError
			if errors.As(err, &repairErr) || llm.IsParseError(err) {
				state.Fail(errx.Synthesis(err))
			} else {
				state.Fail(errx.Upstream(err))
			}
			state.FinalAnswer = ""
			return state, nil
		}

		if state.QueryClass != model.ClassTabularInsight || state.FinalAnswer == "" {
			state.FinalAnswer = out.Answer
		}
		state.History = out.UpdatedSummary
		state.ThreadPreview = out.ThreadPreview
		return state, nil
	}
}

// NewRespondNode settles the terminal answer: an error message wins, and a
// missing answer falls back to a generic message.
func NewRespondNode(m *metrics.Metrics) *compose.Lambda {
	return lambda(NodeRespond, respondFunc(m))
}

func respondFunc(m *metrics.Metrics) stateFunc {
	return func(ctx context.Context, state *model.ConversationState) (*model.ConversationState, error) {
		if state.Error != nil {
			state.FinalAnswer = state.Error.Message
			state.Outcome = state.Error.Kind
			state.Error = nil
		}
		if state.FinalAnswer == "" {
			logx.Warn().Msg("No answer produced, using fallback message")
			state.FinalAnswer = errx.FallbackMessage
		}
		m.Outcome(string(state.Outcome))
		return state, nil
	}
}

// NewTracePostHandler records that the node ran, in the run's local state and
// on the conversation state.
func NewTracePostHandler(name string) func(context.Context, *model.ConversationState, *model.RunStats) (*model.ConversationState, error) {
	return func(ctx context.Context, out *model.ConversationState, stats *model.RunStats) (*model.ConversationState, error) {
		stats.Visited = append(stats.Visited, name)
		if out != nil {
			out.Trace = slices.Clone(stats.Visited)
		}
		return out, nil
	}
}
