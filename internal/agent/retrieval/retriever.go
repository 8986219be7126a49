package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rfi-assistant/server/internal/agent/model"
	logx "github.com/rfi-assistant/server/pkg/logger"
)

// ErrNoHits is returned when the index has nothing for the query.
var ErrNoHits = errors.New("no documents matched the query")

// Retriever embeds a query and runs one fixed-size nearest-neighbour search.
type Retriever struct {
	embedder  Embedder
	index     Index
	topK      int
	namespace string
}

// NewRetriever wraps embedder so blank queries are rejected before any call.
func NewRetriever(embedder Embedder, index Index, cfg model.RetrievalConfig) *Retriever {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 50
	}
	if _, ok := embedder.(*ValidatingEmbedder); !ok {
		embedder = NewValidatingEmbedder(embedder)
	}
	return &Retriever{
		embedder:  embedder,
		index:     index,
		topK:      topK,
		namespace: cfg.Namespace,
	}
}

// Retrieve returns hits in index order. Zero hits is ErrNoHits.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Hit, error) {
	start := time.Now()

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.index.Query(ctx, vec, r.topK, r.namespace)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	logx.Debug().
		Int("top_k", r.topK).
		Int("hits", len(hits)).
		Str("namespace", r.namespace).
		Dur("elapsed", time.Since(start)).
		Msg("Retrieval finished")

	if len(hits) == 0 {
		return nil, ErrNoHits
	}
	return hits, nil
}
