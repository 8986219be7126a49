package retrieval

import (
	"context"

	"github.com/rfi-assistant/server/internal/agent/model"
)

// Hit is one nearest-neighbour result.
type Hit = model.Chunk

// Metadata keys stored with every document.
const (
	MetaSource    = "source"
	MetaNamespace = "namespace"
)

// Document is an ingestion-side record; the query path never builds one.
type Document struct {
	ID        string
	Namespace string
	Source    string
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

// Index is the nearest-neighbour store. Upsert and Delete serve ingestion only.
type Index interface {
	Query(ctx context.Context, vector []float32, topK int, namespace string) ([]Hit, error)
	Upsert(ctx context.Context, docs []Document) error
	Delete(ctx context.Context, ids ...string) error
}

func documentMetadata(d Document) map[string]string {
	meta := make(map[string]string, len(d.Metadata)+2)
	for k, v := range d.Metadata {
		meta[k] = v
	}
	if d.Source != "" {
		meta[MetaSource] = d.Source
	}
	if d.Namespace != "" {
		meta[MetaNamespace] = d.Namespace
	}
	return meta
}
