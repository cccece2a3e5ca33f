package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"ragdesk/backend/go/internal/database/milvus"
	"ragdesk/backend/go/internal/rag_service/rag/interfaces"
	"ragdesk/backend/go/internal/rag_service/rag/schema"
	"ragdesk/backend/go/pkg/logger"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	// Schema fields of the Milvus collection.
	FieldPK        = "pk"
	FieldChunkID   = "chunk_id"
	FieldText      = "text"
	FieldMetadata  = "metadata"
	FieldEmbedding = "embedding"

	maxTextLength = 65535
	modelPrefix   = "embedding_model="
)

// MilvusStore implements the VectorStore interface on a Milvus collection.
// The collection is created on the first Add, when the dimension is known.
// The embedding model is recorded in the collection description. A store
// opened before the collection existed picks it up once another process
// creates it.
type MilvusStore struct {
	log        *logger.Logger
	client     *milvus.Client
	collection string
	model      string

	mu       sync.Mutex
	manifest *schema.Manifest
}

// NewMilvusStore creates a new MilvusStore on the given collection.
func NewMilvusStore(ctx context.Context, client *milvus.Client, collection, model string, log *logger.Logger) (*MilvusStore, error) {
	if client == nil || client.Client == nil {
		return nil, fmt.Errorf("%w: milvus client is not initialized", schema.ErrConfiguration)
	}
	s := &MilvusStore{
		log:        log.WithField("collection", collection),
		client:     client,
		collection: collection,
		model:      model,
	}

	if _, err := s.discoverLocked(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrConfiguration, err)
	}
	return s, nil
}

// current returns the cached manifest, or looks for the collection again
// while none is known. Callers must not hold mu.
func (s *MilvusStore) current(ctx context.Context) (*schema.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manifest != nil {
		return s.manifest, nil
	}
	m, err := s.discoverLocked(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrRetrievalUnavailable, err)
	}
	return m, nil
}

// discoverLocked describes and loads the collection if it exists and caches
// its manifest. It returns nil when there is no collection yet.
func (s *MilvusStore) discoverLocked(ctx context.Context) (*schema.Manifest, error) {
	exists, err := s.client.HasCollection(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("checking collection %s: %w", s.collection, err)
	}
	if !exists {
		return nil, nil
	}
	m, err := s.describe(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.client.LoadCollection(ctx, s.collection, false); err != nil {
		return nil, fmt.Errorf("loading collection %s: %w", s.collection, err)
	}
	if s.manifest == nil {
		s.log.WithField("embedding_model", m.EmbeddingModel).Info("found milvus collection")
	}
	s.manifest = m
	return m, nil
}

// describe reads the manifest back from the collection schema.
func (s *MilvusStore) describe(ctx context.Context) (*schema.Manifest, error) {
	coll, err := s.client.DescribeCollection(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("describing collection %s: %w", s.collection, err)
	}

	m := &schema.Manifest{}
	for _, part := range strings.Split(coll.Schema.Description, ";") {
		if v, ok := strings.CutPrefix(part, modelPrefix); ok {
			m.EmbeddingModel = v
		}
		if v, ok := strings.CutPrefix(part, "created_at="); ok {
			m.CreatedAt, _ = time.Parse(time.RFC3339, v)
		}
	}
	for _, f := range coll.Schema.Fields {
		if f.Name == FieldEmbedding {
			m.Dimension, _ = strconv.Atoi(f.TypeParams["dim"])
		}
	}
	if m.EmbeddingModel == "" || m.Dimension == 0 {
		return nil, fmt.Errorf("collection %s was not created by this service", s.collection)
	}
	return m, nil
}

func (s *MilvusStore) spec(dim int, created time.Time) milvus.CollectionSpec {
	return milvus.CollectionSpec{
		Name:        s.collection,
		Description: fmt.Sprintf("%s%s;created_at=%s", modelPrefix, s.model, created.Format(time.RFC3339)),
		Fields: []*entity.Field{
			entity.NewField().WithName(FieldPK).WithDataType(entity.FieldTypeInt64).WithIsPrimaryKey(true).WithIsAutoID(true),
			entity.NewField().WithName(FieldChunkID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64),
			entity.NewField().WithName(FieldText).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxTextLength),
			entity.NewField().WithName(FieldMetadata).WithDataType(entity.FieldTypeJSON),
			entity.NewField().WithName(FieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dim)),
		},
		VectorField: FieldEmbedding,
		Metric:      entity.COSINE,
	}
}

// Add inserts docs and flushes so the write is durable when Add returns.
func (s *MilvusStore) Add(ctx context.Context, docs []*schema.Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manifest == nil {
		if _, err := s.discoverLocked(ctx); err != nil {
			return fmt.Errorf("%w: %w", schema.ErrRetrievalUnavailable, err)
		}
	}
	dim, err := checkBatch(docs, s.manifest, s.model)
	if err != nil {
		return err
	}

	manifest := s.manifest
	if manifest == nil {
		manifest = &schema.Manifest{EmbeddingModel: s.model, Dimension: dim, CreatedAt: time.Now().UTC()}
		if _, err := s.client.EnsureCollection(ctx, s.spec(dim, manifest.CreatedAt)); err != nil {
			return fmt.Errorf("%w: %w", schema.ErrRetrievalUnavailable, err)
		}
	}

	ids := make([]string, len(docs))
	texts := make([]string, len(docs))
	metas := make([][]byte, len(docs))
	vectors := make([][]float32, len(docs))
	for i, d := range docs {
		if len(d.Text) > maxTextLength {
			return fmt.Errorf("%w: chunk %s is %d bytes, the collection accepts %d", schema.ErrInvalidInput, d.ID, len(d.Text), maxTextLength)
		}
		meta, err := json.Marshal(d.StringMetadata())
		if err != nil {
			return fmt.Errorf("marshalling metadata of %s: %w", d.ID, err)
		}
		ids[i], texts[i], metas[i], vectors[i] = d.ID, d.Text, meta, d.Embedding
	}

	_, err = s.client.Insert(ctx, s.collection, "", /* default partition */
		entity.NewColumnVarChar(FieldChunkID, ids),
		entity.NewColumnVarChar(FieldText, texts),
		entity.NewColumnJSONBytes(FieldMetadata, metas),
		entity.NewColumnFloatVector(FieldEmbedding, dim, vectors),
	)
	if err != nil {
		return fmt.Errorf("%w: inserting into milvus: %w", schema.ErrRetrievalUnavailable, err)
	}
	if err := s.client.Flush(ctx, s.collection, false); err != nil {
		return fmt.Errorf("%w: flushing milvus collection: %w", schema.ErrRetrievalUnavailable, err)
	}

	s.manifest = manifest
	s.log.WithField("records", len(docs)).Debug("inserted records into milvus")
	return nil
}

// Query performs a vector search with optional metadata filtering.
func (s *MilvusStore) Query(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]schema.SearchResult, error) {
	manifest, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkQuery(embedding, topK, manifest); err != nil {
		return nil, err
	}
	if manifest == nil {
		return []schema.SearchResult{}, nil
	}

	sp, err := s.client.SearchParam()
	if err != nil {
		return nil, err
	}
	results, err := s.client.Search(
		ctx, s.collection, []string{}, buildFilterExpression(filters),
		[]string{FieldChunkID, FieldText, FieldMetadata},
		[]entity.Vector{entity.FloatVector(embedding)},
		FieldEmbedding, entity.COSINE, topK, sp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: searching milvus: %w", schema.ErrRetrievalUnavailable, err)
	}

	out := []schema.SearchResult{}
	for _, res := range results {
		idCol, ok := res.Fields.GetColumn(FieldChunkID).(*entity.ColumnVarChar)
		if !ok {
			return nil, fmt.Errorf("%w: search result is missing %s", schema.ErrRetrievalUnavailable, FieldChunkID)
		}
		textCol, ok := res.Fields.GetColumn(FieldText).(*entity.ColumnVarChar)
		if !ok {
			return nil, fmt.Errorf("%w: search result is missing %s", schema.ErrRetrievalUnavailable, FieldText)
		}
		var metaData [][]byte
		if metaCol, ok := res.Fields.GetColumn(FieldMetadata).(*entity.ColumnJSONBytes); ok {
			metaData = metaCol.Data()
		}

		ids, texts := idCol.Data(), textCol.Data()
		for i := 0; i < res.ResultCount; i++ {
			doc := &schema.Document{ID: ids[i], Text: texts[i], Metadata: map[string]interface{}{}}
			if i < len(metaData) {
				var flat map[string]string
				if err := json.Unmarshal(metaData[i], &flat); err != nil {
					s.log.WithError(err).WithField("chunk_id", ids[i]).Warn("could not decode record metadata")
				}
				for k, v := range flat {
					doc.Metadata[k] = v
				}
			}
			out = append(out, schema.SearchResult{Document: doc, Score: res.Scores[i]})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// buildFilterExpression creates a Milvus filter expression on the JSON metadata field.
// Keys are sorted so the same filters always yield the same expression.
func buildFilterExpression(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conditions := make([]string, 0, len(keys))
	for _, k := range keys {
		conditions = append(conditions, fmt.Sprintf(`%s[%s] == %s`, FieldMetadata, strconv.Quote(k), strconv.Quote(filters[k])))
	}
	return strings.Join(conditions, " and ")
}

// Exists reports whether the collection holds any record.
func (s *MilvusStore) Exists(ctx context.Context) (bool, error) {
	n, err := s.Count(ctx)
	return n > 0, err
}

// Count returns the flushed row count of the collection.
func (s *MilvusStore) Count(ctx context.Context) (int, error) {
	manifest, err := s.current(ctx)
	if err != nil {
		return 0, err
	}
	if manifest == nil {
		return 0, nil
	}

	stats, err := s.client.GetCollectionStatistics(ctx, s.collection)
	if err != nil {
		return 0, fmt.Errorf("%w: reading collection statistics: %w", schema.ErrRetrievalUnavailable, err)
	}
	n, err := strconv.Atoi(stats["row_count"])
	if err != nil {
		return 0, fmt.Errorf("%w: unexpected row_count %q", schema.ErrRetrievalUnavailable, stats["row_count"])
	}
	return n, nil
}

// Manifest returns the embedding space description, or nil while the
// collection does not exist.
func (s *MilvusStore) Manifest(ctx context.Context) (*schema.Manifest, error) {
	m, err := s.current(ctx)
	if err != nil || m == nil {
		return nil, err
	}
	cp := *m
	return &cp, nil
}

// Reset drops the collection. The next Add recreates it.
func (s *MilvusStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.client.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("%w: %w", schema.ErrRetrievalUnavailable, err)
	}
	if exists {
		if err := s.client.DropCollection(ctx, s.collection); err != nil {
			return fmt.Errorf("%w: dropping collection: %w", schema.ErrRetrievalUnavailable, err)
		}
	}
	s.manifest = nil
	return nil
}

// Close closes the Milvus connection.
func (s *MilvusStore) Close() error {
	return s.client.Close()
}

// compile-time check to ensure MilvusStore implements the VectorStore interface
var _ interfaces.VectorStore = (*MilvusStore)(nil)
