package interfaces

import (
	"context"

	"ragdesk/backend/go/internal/rag_service/rag/schema"
)

// Loader is the interface for loading data from a source (e.g., file, URL)
// and converting it into an ordered list of page Documents.
type Loader interface {
	Load(ctx context.Context, path string) ([]*schema.Document, error)
}

// Splitter is the interface for splitting a list of Documents into smaller chunks.
type Splitter interface {
	Split(ctx context.Context, docs []*schema.Document) ([]*schema.Document, error)
}

// VectorStore is the interface for storing and querying document vectors.
type VectorStore interface {
	// Add appends documents with their embeddings. Duplicates are kept.
	// The write is durable when Add returns.
	Add(ctx context.Context, docs []*schema.Document) error
	// Query returns up to topK results ordered by descending similarity.
	// An empty store yields an empty slice and no error.
	Query(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]schema.SearchResult, error)
	// Exists reports whether a previously persisted index is present.
	Exists(ctx context.Context) (bool, error)
	Count(ctx context.Context) (int, error)
	// Manifest returns the embedding space description, or nil when nothing was written yet.
	Manifest(ctx context.Context) (*schema.Manifest, error)
	// Reset removes every record and the manifest.
	Reset(ctx context.Context) error
	Close() error
}

// EmbeddingModel is the interface for a text embedding model.
type EmbeddingModel interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// LLM is the interface for a large language model that can generate text.
type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
