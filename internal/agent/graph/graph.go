// Package graph wires the request pipeline into an eino graph and exposes
// Resolve, the single entry point used by the conversation service.
package graph

import (
	"context"
	"fmt"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"

	"github.com/rfi-assistant/server/internal/agent/graph/nodes"
	"github.com/rfi-assistant/server/internal/agent/graph/observers"
	"github.com/rfi-assistant/server/internal/agent/insight"
	"github.com/rfi-assistant/server/internal/agent/llm"
	"github.com/rfi-assistant/server/internal/agent/lookup"
	"github.com/rfi-assistant/server/internal/agent/metrics"
	"github.com/rfi-assistant/server/internal/agent/model"
	"github.com/rfi-assistant/server/internal/agent/retrieval"
	"github.com/rfi-assistant/server/internal/dataset"
	logx "github.com/rfi-assistant/server/pkg/logger"
)

// defaultMaxRunSteps covers the longest path (seven nodes) with headroom.
const defaultMaxRunSteps = 20

// Config holds everything needed to compose the pipeline end-to-end.
// Process-wide services (guard, table, index) are built once by the caller
// and shared by every request.
type Config struct {
	ChatModels *nodes.ChatModels
	Guard      nodes.Guard
	Table      *dataset.Table
	Embedder   retrieval.Embedder
	Index      retrieval.Index
	// Reranker defaults to a ModelReranker on the fast model.
	Reranker retrieval.Reranker
	// Resolver defaults to a no-op resolver.
	Resolver lookup.Resolver
	Metrics  *metrics.Metrics

	Retrieval    model.RetrievalConfig
	Insight      model.InsightConfig
	Dataset      model.DatasetConfig
	Conversation model.ConversationConfig
}

// Deps are the components bound to graph nodes.
type Deps struct {
	Guard       nodes.Guard
	Classifier  *nodes.Classifier
	Generator   *insight.Generator
	Executor    *insight.Executor
	Reporter    *insight.Reporter
	Fast        *llm.Client
	Lookup      *lookup.Lookup
	Retriever   *retrieval.Retriever
	Reranker    retrieval.Reranker
	RerankTopN  int
	Synthesizer *nodes.Synthesizer
	Metrics     *metrics.Metrics
	MaxRunSteps int
}

// Runner executes the compiled graph for one turn at a time. It is safe for
// concurrent use; each call gets its own state.
type Runner struct {
	runnable  compose.Runnable[*model.ConversationState, *model.ConversationState]
	callbacks einocb.Handler
}

// BuildRunner constructs the node components from cfg and compiles the graph.
func BuildRunner(ctx context.Context, cfg Config) (*Runner, error) {
	cms := cfg.ChatModels
	if cms == nil || cms.Classifier == nil || cms.Codegen == nil || cms.Synthesis == nil || cms.Fast == nil {
		return nil, fmt.Errorf("chat models are not properly initialized")
	}
	if cfg.Guard == nil {
		return nil, fmt.Errorf("guard is nil")
	}
	if cfg.Table == nil {
		return nil, fmt.Errorf("dataset table is nil")
	}
	if cfg.Embedder == nil || cfg.Index == nil {
		return nil, fmt.Errorf("retrieval embedder and index are required")
	}

	reranker := cfg.Reranker
	if reranker == nil {
		reranker = retrieval.NewModelReranker(cms.Fast)
	}

	runner, err := Build(ctx, &Deps{
		Guard:       cfg.Guard,
		Classifier:  nodes.NewClassifier(cms.Classifier, cfg.Conversation),
		Generator:   insight.NewGenerator(cms.Codegen, cfg.Table, cfg.Insight),
		Executor:    insight.NewExecutor(cfg.Table, cfg.Insight, cfg.Metrics),
		Reporter:    insight.NewReporter(cms.Fast),
		Fast:        cms.Fast,
		Lookup:      lookup.New(cfg.Resolver, cfg.Dataset),
		Retriever:   retrieval.NewRetriever(cfg.Embedder, cfg.Index, cfg.Retrieval),
		Reranker:    reranker,
		RerankTopN:  cfg.Retrieval.RerankTopN,
		Synthesizer: nodes.NewSynthesizer(cms.Synthesis, cfg.Conversation),
		Metrics:     cfg.Metrics,
		MaxRunSteps: cfg.Conversation.MaxRunSteps,
	})
	if err != nil {
		return nil, err
	}

	logx.Debug().Msg("Request graph built successfully")
	return runner, nil
}

// Build compiles the graph over already constructed components.
func Build(ctx context.Context, deps *Deps) (*Runner, error) {
	if deps == nil {
		return nil, fmt.Errorf("graph deps are nil")
	}

	g := compose.NewGraph[*model.ConversationState, *model.ConversationState](
		compose.WithGenLocalState(func(ctx context.Context) *model.RunStats {
			return &model.RunStats{}
		}),
	)

	lambdas := []struct {
		name string
		node *compose.Lambda
	}{
		{nodes.NodeCheckQuery, nodes.NewCheckQueryNode(deps.Guard)},
		{nodes.NodeClassify, nodes.NewClassifyNode(deps.Classifier, deps.Metrics)},
		{nodes.NodeGenerate, nodes.NewGenerateNode(deps.Generator)},
		{nodes.NodeExecute, nodes.NewExecuteNode(deps.Executor, deps.Reporter, deps.Fast)},
		{nodes.NodeLookup, nodes.NewLookupNode(deps.Lookup)},
		{nodes.NodeRetrieve, nodes.NewRetrieveNode(deps.Retriever)},
		{nodes.NodeRerank, nodes.NewRerankNode(deps.Reranker, deps.RerankTopN)},
		{nodes.NodeSynthesize, nodes.NewSynthesizeNode(deps.Synthesizer)},
		{nodes.NodeRespond, nodes.NewRespondNode(deps.Metrics)},
	}
	for _, l := range lambdas {
		if err := g.AddLambdaNode(l.name, l.node,
			compose.WithNodeName(l.name),
			compose.WithStatePostHandler(nodes.NewTracePostHandler(l.name)),
		); err != nil {
			return nil, fmt.Errorf("add node %s: %w", l.name, err)
		}
	}

	edges := [][2]string{
		{compose.START, nodes.NodeCheckQuery},
		{nodes.NodeLookup, nodes.NodeSynthesize},
		{nodes.NodeRerank, nodes.NodeSynthesize},
		{nodes.NodeSynthesize, nodes.NodeRespond},
		{nodes.NodeRespond, compose.END},
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("add edge %s -> %s: %w", e[0], e[1], err)
		}
	}

	branches := []struct {
		from  string
		route nodes.Route
		ends  []string
	}{
		{nodes.NodeCheckQuery, nodes.RouteOnError(nodes.NodeClassify), []string{nodes.NodeRespond, nodes.NodeClassify}},
		{nodes.NodeClassify, nodes.RouteAfterClassify, []string{nodes.NodeRespond, nodes.NodeGenerate, nodes.NodeRetrieve}},
		{nodes.NodeGenerate, nodes.RouteOnError(nodes.NodeExecute), []string{nodes.NodeRespond, nodes.NodeExecute}},
		{nodes.NodeExecute, nodes.RouteAfterExecute, []string{nodes.NodeRespond, nodes.NodeLookup, nodes.NodeSynthesize}},
		{nodes.NodeRetrieve, nodes.RouteOnError(nodes.NodeRerank), []string{nodes.NodeRespond, nodes.NodeRerank}},
	}
	for _, b := range branches {
		ends := make(map[string]bool, len(b.ends))
		for _, e := range b.ends {
			ends[e] = true
		}
		if err := g.AddBranch(b.from, compose.NewGraphBranch(nodes.NewCondition(b.from, b.route), ends)); err != nil {
			logx.Error().Err(err).Str("from", b.from).Msg("Error adding branch")
			return nil, fmt.Errorf("add branch from %s: %w", b.from, err)
		}
	}

	maxSteps := deps.MaxRunSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxRunSteps
	}
	runnable, err := g.Compile(ctx, compose.WithMaxRunSteps(maxSteps))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	return &Runner{runnable: runnable, callbacks: observers.NewCallbacks(deps.Metrics)}, nil
}

// Resolve runs one turn through the pipeline. Domain failures are reported
// in Result.FinalAnswer and Result.ErrorKind; the error return is reserved
// for faults of the graph itself.
func (r *Runner) Resolve(ctx context.Context, tc model.ThreadContext, newTurn string) (*model.Result, error) {
	meter := &model.Meter{}
	ctx = model.WithMeter(ctx, meter)

	start := time.Now()
	out, err := r.runnable.Invoke(ctx, model.NewConversationState(tc, newTurn), compose.WithCallbacks(r.callbacks))
	if err != nil {
		return nil, fmt.Errorf("resolve thread %s: %w", tc.ThreadID, err)
	}
	if out == nil {
		return nil, fmt.Errorf("resolve thread %s: graph returned no state", tc.ThreadID)
	}

	usage := meter.Snapshot()
	res := &model.Result{
		FinalAnswer:      out.FinalAnswer,
		UpdatedSummary:   out.History,
		ThreadPreview:    out.ThreadPreview,
		QueryClass:       out.QueryClass,
		QuerySubclass:    out.QuerySubclass,
		RewrittenQuery:   out.RewrittenQuery,
		PreviousRewrites: out.PreviousRewrites,
		Code:             out.Code,
		Output:           out.Output,
		Sources:          out.Sources,
		ErrorKind:        out.Outcome,
		Trace:            out.Trace,
		CostUSD:          usage.CostUSD,
	}

	logx.Info().
		Str("thread_id", tc.ThreadID).
		Str("query_class", string(res.QueryClass)).
		Str("outcome", string(res.ErrorKind)).
		Strs("trace", res.Trace).
		Int("model_calls", usage.Calls).
		Float64("total_cost_usd", usage.CostUSD).
		Dur("elapsed", time.Since(start)).
		Msg("Turn resolved")
	return res, nil
}
