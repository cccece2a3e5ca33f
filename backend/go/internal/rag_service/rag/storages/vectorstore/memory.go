package vectorstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ragdesk/backend/go/internal/rag_service/rag/interfaces"
	"ragdesk/backend/go/internal/rag_service/rag/schema"
)

// snapshot is an immutable view of the index. Writers build a new one and swap it in,
// so readers see either the state before a write or the state after it.
type snapshot struct {
	records  []*schema.Document
	manifest *schema.Manifest
	lastID   int64 // highest persisted row id, sqlite only
}

// MemoryStore is a thread-safe, in-memory implementation of the VectorStore interface.
// Nothing survives the process.
type MemoryStore struct {
	model string
	mu    sync.Mutex // serialises writers
	snap  atomic.Pointer[snapshot]
}

// NewMemoryStore creates an empty store for vectors produced by model.
func NewMemoryStore(model string) *MemoryStore {
	s := &MemoryStore{model: model}
	s.snap.Store(&snapshot{})
	return s
}

// Add appends docs to the store.
func (s *MemoryStore) Add(ctx context.Context, docs []*schema.Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	dim, err := checkBatch(docs, cur.manifest, s.model)
	if err != nil {
		return err
	}

	next := &snapshot{
		records:  make([]*schema.Document, 0, len(cur.records)+len(docs)),
		manifest: cur.manifest,
	}
	next.records = append(next.records, cur.records...)
	for _, d := range docs {
		next.records = append(next.records, storedCopy(d))
	}
	if next.manifest == nil {
		next.manifest = &schema.Manifest{EmbeddingModel: s.model, Dimension: dim, CreatedAt: time.Now().UTC()}
	}
	s.snap.Store(next)
	return nil
}

// Query returns the topK most similar records.
func (s *MemoryStore) Query(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]schema.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cur := s.snap.Load()
	if err := checkQuery(embedding, topK, cur.manifest); err != nil {
		return nil, err
	}
	return rank(cur.records, embedding, topK, filters), nil
}

// Exists reports whether anything was added.
func (s *MemoryStore) Exists(context.Context) (bool, error) {
	return len(s.snap.Load().records) > 0, nil
}

// Count returns the number of records.
func (s *MemoryStore) Count(context.Context) (int, error) {
	return len(s.snap.Load().records), nil
}

// Manifest returns the embedding space description, or nil while empty.
func (s *MemoryStore) Manifest(context.Context) (*schema.Manifest, error) {
	m := s.snap.Load().manifest
	if m == nil {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

// Reset drops every record.
func (s *MemoryStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Store(&snapshot{})
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func storedCopy(d *schema.Document) *schema.Document {
	md := make(map[string]interface{}, len(d.Metadata))
	for k, v := range d.Metadata {
		md[k] = v
	}
	vec := make([]float32, len(d.Embedding))
	copy(vec, d.Embedding)
	return &schema.Document{ID: d.ID, Text: d.Text, Embedding: vec, Metadata: md}
}

// compile-time check to ensure MemoryStore implements the VectorStore interface
var _ interfaces.VectorStore = (*MemoryStore)(nil)
