package embeddings

import (
	"context"
	"fmt"

	"ragdesk/backend/go/internal/embedding"
	"ragdesk/backend/go/internal/rag_service/rag/guard"
	"ragdesk/backend/go/internal/rag_service/rag/interfaces"
	"ragdesk/backend/go/internal/rag_service/rag/schema"
)

// Adapter adapts an embedding.Embedding client to the EmbeddingModel interface.
// Calls go through a guard, and replies are checked before they reach the store.
type Adapter struct {
	client embedding.Embedding
	guard  *guard.Guard
}

// NewAdapter creates a new adapter.
func NewAdapter(client embedding.Embedding, g *guard.Guard) *Adapter {
	if g == nil {
		g = guard.New("embedder", 0, nil)
	}
	return &Adapter{client: client, guard: g}
}

// ModelName returns the model identifier recorded in the index manifest.
func (a *Adapter) ModelName() string {
	return a.client.ModelName()
}

// Embed returns one vector per text, in input order.
func (a *Adapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var vectors [][]float32
	err := a.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		vectors, err = a.client.EmbedBatch(ctx, texts)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for %d texts", schema.ErrModelUnavailable, len(vectors), len(texts))
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 || len(v) != dim {
			return nil, fmt.Errorf("%w: embedder returned a vector of dimension %d at position %d, expected %d", schema.ErrModelUnavailable, len(v), i, dim)
		}
	}
	return vectors, nil
}

// compile-time check to ensure Adapter implements the EmbeddingModel interface
var _ interfaces.EmbeddingModel = (*Adapter)(nil)
