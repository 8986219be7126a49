// Package retrieval embeds queries, searches the document index and reranks hits.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// ErrEmptyInput is returned for empty or whitespace-only text. An embedder
// never answers such input with a zero vector.
var ErrEmptyInput = errors.New("embedding input is empty")

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// ValidatingEmbedder rejects blank input before reaching the wrapped embedder.
type ValidatingEmbedder struct {
	next Embedder
}

func NewValidatingEmbedder(next Embedder) *ValidatingEmbedder {
	return &ValidatingEmbedder{next: next}
}

func (e *ValidatingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	vec, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedder returned an empty vector")
	}
	return vec, nil
}

// GeminiEmbedder embeds text with the Gemini embedding API.
type GeminiEmbedder struct {
	client   *genai.Client
	model    string
	taskType string
}

// NewGeminiEmbedder returns an embedder for retrieval queries. Wrap it with
// NewValidatingEmbedder before use.
func NewGeminiEmbedder(client *genai.Client, model string) *GeminiEmbedder {
	return &GeminiEmbedder{client: client, model: model, taskType: "RETRIEVAL_QUERY"}
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: e.taskType,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if result == nil || len(result.Embeddings) == 0 || result.Embeddings[0] == nil {
		return nil, fmt.Errorf("gemini embed: no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}
