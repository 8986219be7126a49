package retrieval

import (
	"context"
	"errors"
	"fmt"

	chromem "github.com/philippgille/chromem-go"

	logx "github.com/rfi-assistant/server/pkg/logger"
)

// ChromemIndex is an embedded index used for local runs and tests.
type ChromemIndex struct {
	collection *chromem.Collection
}

// NewChromemIndex opens (or creates) a collection. An empty path keeps the
// index in memory.
func NewChromemIndex(path, collection string) (*ChromemIndex, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, true)
		if err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w", path, err)
		}
	}

	// Vectors are always supplied, so the collection never embeds on its own.
	noEmbed := func(context.Context, string) ([]float32, error) {
		return nil, errors.New("chromem index requires precomputed embeddings")
	}
	c, err := db.GetOrCreateCollection(collection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("open chromem collection %s: %w", collection, err)
	}
	return &ChromemIndex{collection: c}, nil
}

func (x *ChromemIndex) Query(ctx context.Context, vector []float32, topK int, namespace string) ([]Hit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	// chromem requires nResults <= document count
	count := x.collection.Count()
	if count == 0 {
		return []Hit{}, nil
	}
	if topK > count {
		topK = count
	}

	var where map[string]string
	if namespace != "" {
		where = map[string]string{MetaNamespace: namespace}
	}

	results, err := x.collection.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query chromem: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			ID:       r.ID,
			Source:   r.Metadata[MetaSource],
			Snippet:  r.Content,
			Metadata: r.Metadata,
			Score:    r.Similarity,
		})
	}
	logx.Debug().Int("top_k", topK).Int("hits", len(hits)).Msg("Chromem query")
	return hits, nil
}

func (x *ChromemIndex) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	out := make([]chromem.Document, 0, len(docs))
	for _, d := range docs {
		if d.ID == "" {
			return errors.New("document id is required")
		}
		if len(d.Embedding) == 0 {
			return fmt.Errorf("document %s has no embedding", d.ID)
		}
		out = append(out, chromem.Document{
			ID:        d.ID,
			Metadata:  documentMetadata(d),
			Embedding: d.Embedding,
			Content:   d.Content,
		})
	}
	if err := x.collection.AddDocuments(ctx, out, 1); err != nil {
		return fmt.Errorf("add chromem documents: %w", err)
	}
	return nil
}

func (x *ChromemIndex) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := x.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete chromem documents: %w", err)
	}
	return nil
}
