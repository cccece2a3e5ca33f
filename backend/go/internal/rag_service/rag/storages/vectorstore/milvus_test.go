package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"ragdesk/backend/go/internal/database/milvus"
	"ragdesk/backend/go/internal/rag_service/rag/schema"
	"ragdesk/backend/go/pkg/logger"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMilvus answers the calls the store makes on an existing collection.
// Any other method panics through the nil embedded interface.
type fakeMilvus struct {
	client.Client

	mu      sync.Mutex
	coll    *entity.Collection
	rows    int
	results []client.SearchResult
	loads   int
}

func (f *fakeMilvus) create(coll *entity.Collection, rows int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coll, f.rows = coll, rows
}

func (f *fakeMilvus) HasCollection(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.coll != nil && f.coll.Name == name, nil
}

func (f *fakeMilvus) DescribeCollection(context.Context, string) (*entity.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.coll, nil
}

func (f *fakeMilvus) LoadCollection(context.Context, string, bool, ...client.LoadCollectionOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return nil
}

func (f *fakeMilvus) GetCollectionStatistics(context.Context, string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[string]string{"row_count": strconv.Itoa(f.rows)}, nil
}

func (f *fakeMilvus) Search(context.Context, string, []string, string, []string, []entity.Vector, string,
	entity.MetricType, int, entity.SearchParam, ...client.SearchQueryOptionFunc) ([]client.SearchResult, error) {
	return f.results, nil
}

func (f *fakeMilvus) Close() error { return nil }

func collectionFor(t *testing.T, name, model string, dim int) *entity.Collection {
	t.Helper()
	s := &MilvusStore{collection: name, model: model}
	spec := s.spec(dim, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	sch := entity.NewSchema().WithName(spec.Name).WithDescription(spec.Description)
	for _, f := range spec.Fields {
		sch = sch.WithField(f)
	}
	return &entity.Collection{Name: name, Schema: sch}
}

func newFakeStore(t *testing.T, fake *fakeMilvus, log *logger.Logger) *MilvusStore {
	t.Helper()
	s, err := NewMilvusStore(context.Background(), &milvus.Client{Client: fake}, "chunks", testModel, log)
	require.NoError(t, err)
	return s
}

func TestMilvusStore_OpensExistingCollection(t *testing.T) {
	fake := &fakeMilvus{}
	fake.create(collectionFor(t, "chunks", testModel, 2), 3)

	s := newFakeStore(t, fake, logger.Discard())
	ctx := context.Background()

	m, err := s.Manifest(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, testModel, m.EmbeddingModel)
	assert.Equal(t, 2, m.Dimension)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, fake.loads)
}

func TestMilvusStore_PicksUpCollectionCreatedLater(t *testing.T) {
	fake := &fakeMilvus{}
	s := newFakeStore(t, fake, logger.Discard())
	ctx := context.Background()

	m, err := s.Manifest(ctx)
	require.NoError(t, err)
	assert.Nil(t, m)
	ok, err := s.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// another process ingests into the collection
	fake.create(collectionFor(t, "chunks", testModel, 2), 1)
	fake.results = []client.SearchResult{{
		ResultCount: 1,
		Scores:      []float32{0.9},
		Fields: client.ResultSet{
			entity.NewColumnVarChar(FieldChunkID, []string{"c1"}),
			entity.NewColumnVarChar(FieldText, []string{"Wedding leave is three days."}),
			entity.NewColumnJSONBytes(FieldMetadata, [][]byte{[]byte(`{"file_name":"handbook.pdf","page_label":"1"}`)}),
		},
	}}

	ok, err = s.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	m, err = s.Manifest(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, testModel, m.EmbeddingModel)

	res, err := s.Query(ctx, []float32{1, 0}, 4, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "c1", res[0].Document.ID)
	assert.Equal(t, "handbook.pdf", res[0].Document.Source())
	assert.Equal(t, 1, fake.loads)
}

func TestMilvusStore_ForeignCollectionIsConfigurationError(t *testing.T) {
	fake := &fakeMilvus{}
	fake.create(&entity.Collection{Name: "chunks", Schema: entity.NewSchema().WithName("chunks")}, 0)

	_, err := NewMilvusStore(context.Background(), &milvus.Client{Client: fake}, "chunks", testModel, logger.Discard())
	assert.ErrorIs(t, err, schema.ErrConfiguration)
}

func TestMilvusStore_LogsUndecodableMetadata(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, logger.Init("warn", &buf))
	t.Cleanup(func() { _ = logger.Init("info", os.Stdout) })

	fake := &fakeMilvus{}
	fake.create(collectionFor(t, "chunks", testModel, 2), 1)
	fake.results = []client.SearchResult{{
		ResultCount: 1,
		Scores:      []float32{0.5},
		Fields: client.ResultSet{
			entity.NewColumnVarChar(FieldChunkID, []string{"c7"}),
			entity.NewColumnVarChar(FieldText, []string{"text"}),
			entity.NewColumnJSONBytes(FieldMetadata, [][]byte{[]byte(`{"page_label":`)}),
		},
	}}
	s := newFakeStore(t, fake, logger.New("rag_service"))

	res, err := s.Query(context.Background(), []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Empty(t, res[0].Document.Metadata)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "warning", line["level"])
	assert.Equal(t, "could not decode record metadata", line["message"])
	assert.Equal(t, "c7", line["chunk_id"])
	assert.Equal(t, "chunks", line["collection"])
	assert.NotEmpty(t, line["error"])
}
