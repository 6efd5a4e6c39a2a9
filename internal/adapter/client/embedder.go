package client

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// Embedder turns stored trip payloads into vectors for the Qdrant trip store.
type Embedder struct {
	client     *genai.Client
	model      string // e.g., "text-embedding-004"
	dimensions int32
}

func NewEmbedderFromClient(c *genai.Client, model string, dimensions int) *Embedder {
	return &Embedder{
		client:     c,
		model:      model,
		dimensions: int32(dimensions),
	}
}

func (e *Embedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	var cfg *genai.EmbedContentConfig
	if e.dimensions > 0 {
		cfg = &genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(e.dimensions)}
	}
	res, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), cfg)
	if err != nil {
		return nil, mapError(err)
	}
	if len(res.Embeddings) == 0 {
		return nil, errors.New("embedding response was empty")
	}
	values := res.Embeddings[0].Values
	if e.dimensions > 0 && len(values) != int(e.dimensions) {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(values), e.dimensions)
	}
	return values, nil
}
