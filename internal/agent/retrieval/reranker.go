package retrieval

import (
	"context"
	"strings"

	"github.com/rfi-assistant/server/internal/agent/graph/parsers"
	"github.com/rfi-assistant/server/internal/agent/graph/prompts"
	"github.com/rfi-assistant/server/internal/agent/llm"
	logx "github.com/rfi-assistant/server/pkg/logger"
)

// maxSnippetRunes bounds each snippet shown to the ranking model.
const maxSnippetRunes = 600

// Reranker reorders hits by relevance and keeps at most topN.
type Reranker interface {
	Rerank(ctx context.Context, query string, hits []Hit, topN int) ([]Hit, error)
}

// ModelReranker asks a chat model for a permutation of snippet indices.
// Invalid indices are dropped; an unusable reply keeps the index order.
type ModelReranker struct {
	client *llm.Client
}

func NewModelReranker(client *llm.Client) *ModelReranker {
	return &ModelReranker{client: client}
}

func (r *ModelReranker) Rerank(ctx context.Context, query string, hits []Hit, topN int) ([]Hit, error) {
	if topN <= 0 || topN > len(hits) {
		topN = len(hits)
	}
	if len(hits) <= 1 {
		return hits[:topN], nil
	}

	snippets := make([]string, len(hits))
	for i, h := range hits {
		snippets[i] = clipRunes(flatten(h.Snippet), maxSnippetRunes)
	}
	rendered, err := prompts.RenderRerank(ctx, prompts.RerankVars{
		Query:    query,
		Snippets: snippets,
		TopN:     topN,
	})
	if err != nil {
		return nil, err
	}

	reply, err := r.client.Text(ctx, "", rendered)
	if err != nil {
		logx.Warn().Err(err).Str("component", "reranker").Msg("Rerank call failed, keeping index order")
		return hits[:topN], nil
	}

	order, err := parsers.ParseRerankIndices(reply, len(hits), topN)
	if err != nil {
		logx.Warn().Err(err).Str("component", "reranker").Msg("Unusable ranking, keeping index order")
		return hits[:topN], nil
	}

	out := make([]Hit, 0, len(order))
	for _, idx := range order {
		out = append(out, hits[idx])
	}
	logx.Debug().Int("candidates", len(hits)).Int("kept", len(out)).Msg("Reranked hits")
	return out, nil
}

func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func clipRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
