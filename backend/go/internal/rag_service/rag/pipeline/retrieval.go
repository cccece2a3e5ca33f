package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ragdesk/backend/go/internal/rag_service/rag/interfaces"
	"ragdesk/backend/go/internal/rag_service/rag/schema"
	"ragdesk/backend/go/pkg/logger"
)

// RetrievalPipeline orchestrates the process of retrieving relevant documents for a given query.
type RetrievalPipeline struct {
	embedder    interfaces.EmbeddingModel
	vectorStore interfaces.VectorStore
	log         *logger.Logger
}

// NewRetrievalPipeline creates a new RetrievalPipeline.
func NewRetrievalPipeline(embedder interfaces.EmbeddingModel, vectorStore interfaces.VectorStore, log *logger.Logger) *RetrievalPipeline {
	return &RetrievalPipeline{
		embedder:    embedder,
		vectorStore: vectorStore,
		log:         log,
	}
}

// Run returns the topK records closest to query, most similar first.
// An empty index is reported as ErrRetrievalUnavailable before the embedder is called.
func (p *RetrievalPipeline) Run(ctx context.Context, query string, topK int, filters map[string]string) ([]schema.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: question is blank", schema.ErrEmptyInput)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", schema.ErrInvalidInput, topK)
	}

	ready, err := p.vectorStore.Exists(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	if !ready {
		return nil, fmt.Errorf("%w: the index is empty, ingest documents first", schema.ErrRetrievalUnavailable)
	}

	// 1. Embed the query
	vectors, err := p.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for the query", schema.ErrModelUnavailable, len(vectors))
	}

	// 2. Query the VectorStore
	results, err := p.vectorStore.Query(ctx, vectors[0], topK, filters)
	if err != nil {
		return nil, storeError(err)
	}

	p.log.WithFields(map[string]interface{}{"k": topK, "retrieved": len(results)}).Debug("retrieved passages")
	return results, nil
}

// storeError keeps classified errors and reports anything else as an unreachable index.
func storeError(err error) error {
	if schema.Kind(err) != "Internal" || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", schema.ErrRetrievalUnavailable, err)
}
