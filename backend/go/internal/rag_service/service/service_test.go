package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"ragdesk/backend/go/internal/config"
	"ragdesk/backend/go/internal/embedding"
	"ragdesk/backend/go/internal/rag_service/rag/embeddings"
	"ragdesk/backend/go/internal/rag_service/rag/loaders"
	"ragdesk/backend/go/internal/rag_service/rag/schema"
	"ragdesk/backend/go/internal/rag_service/rag/splitters"
	"ragdesk/backend/go/internal/rag_service/rag/storages/vectorstore"
	"ragdesk/backend/go/pkg/logger"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cannedLLM struct {
	calls atomic.Int32
	reply string
}

func (c *cannedLLM) Generate(context.Context, string) (string, error) {
	c.calls.Add(1)
	return c.reply, nil
}

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Index.Backend = "memory"
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Model = "hash-test"
	cfg.Embedding.Dimensions = 64
	cfg.Retrieval.TopK = 2
	cfg.Retrieval.MaxTopK = 3
	cfg.Chunking.Size = 60
	cfg.Chunking.Overlap = 10
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestService(t *testing.T, cfg *config.AppConfig, llm *cannedLLM) *Service {
	t.Helper()
	hash, err := embedding.NewHashModel(cfg.Embedding.Model, cfg.Embedding.Dimensions)
	require.NoError(t, err)
	splitter, err := splitters.New(cfg.Chunking.Strategy, cfg.Chunking.Size, cfg.Chunking.Overlap)
	require.NoError(t, err)

	svc, err := NewWithDeps(context.Background(), cfg, Deps{
		Store:    vectorstore.NewMemoryStore(cfg.Embedding.Model),
		Loader:   loaders.NewRegistry(),
		Splitter: splitter,
		Embedder: embeddings.NewAdapter(hash, nil),
		LLM:      llm,
	}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func writeDoc(t *testing.T, dir, name string, paragraphs int) string {
	t.Helper()
	var b strings.Builder
	for i := 0; i < paragraphs; i++ {
		fmt.Fprintf(&b, "Policy %d says employees may claim item %d.\n\n", i, i)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestService_TopKHandling(t *testing.T) {
	llm := &cannedLLM{reply: "ok"}
	svc := newTestService(t, testConfig(t), llm)
	ctx := context.Background()

	report, err := svc.Ingest(ctx, IngestRequest{Sources: []string{writeDoc(t, t.TempDir(), "policies.txt", 6)}})
	require.NoError(t, err)
	require.GreaterOrEqual(t, report.Records, 4)

	answer, err := svc.Answer(ctx, "What does policy 3 say?", 0)
	require.NoError(t, err)
	assert.Len(t, answer.Sources, 2, "k=0 uses the configured default")

	answer, err = svc.Answer(ctx, "What does policy 3 say?", 40)
	require.NoError(t, err)
	assert.Len(t, answer.Sources, 3, "k above the maximum is clamped")

	_, err = svc.Answer(ctx, "What does policy 3 say?", -1)
	assert.ErrorIs(t, err, schema.ErrInvalidInput)
	assert.EqualValues(t, 2, llm.calls.Load())
}

func TestService_StatusAndMetrics(t *testing.T) {
	llm := &cannedLLM{reply: "ok"}
	svc := newTestService(t, testConfig(t), llm)
	ctx := context.Background()

	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Ready)
	assert.Equal(t, "hash-test", st.EmbeddingModel)
	assert.Equal(t, "memory", st.Backend)

	_, err = svc.Answer(ctx, "anything?", 0)
	assert.ErrorIs(t, err, schema.ErrRetrievalUnavailable)
	assert.Zero(t, llm.calls.Load())

	report, err := svc.Ingest(ctx, IngestRequest{Sources: []string{writeDoc(t, t.TempDir(), "policies.txt", 2)}})
	require.NoError(t, err)

	st, err = svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Ready)
	assert.Equal(t, report.Records, st.Records)
	assert.Equal(t, 64, st.Dimension)

	m := svc.Metrics()
	assert.Equal(t, float64(report.Records), testutil.ToFloat64(m.ingestRecords))
	assert.Equal(t, float64(report.Records), testutil.ToFloat64(m.indexRecords))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ingestDocuments.WithLabelValues("ingested")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.queries.WithLabelValues("RetrievalUnavailable")))
}

func TestService_IngestFailureLeavesIndexEmpty(t *testing.T) {
	svc := newTestService(t, testConfig(t), &cannedLLM{reply: "ok"})
	ctx := context.Background()
	dir := t.TempDir()

	_, err := svc.Ingest(ctx, IngestRequest{Sources: []string{writeDoc(t, dir, "a.txt", 2), filepath.Join(dir, "nope.pdf")}})
	assert.ErrorIs(t, err, schema.ErrLoad)

	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Records)
	assert.Equal(t, float64(2), testutil.ToFloat64(svc.Metrics().ingestDocuments.WithLabelValues("failed")))
}

func TestNewWithDeps_RejectsOtherEmbeddingModel(t *testing.T) {
	cfg := testConfig(t)
	store := vectorstore.NewMemoryStore("old-model")
	require.NoError(t, store.Add(context.Background(), []*schema.Document{{ID: "1", Text: "x", Embedding: []float32{1}}}))

	hash, err := embedding.NewHashModel(cfg.Embedding.Model, cfg.Embedding.Dimensions)
	require.NoError(t, err)
	splitter, err := splitters.New("recursive", 60, 10)
	require.NoError(t, err)

	_, err = NewWithDeps(context.Background(), cfg, Deps{
		Store:    store,
		Loader:   loaders.NewRegistry(),
		Splitter: splitter,
		Embedder: embeddings.NewAdapter(hash, nil),
		LLM:      &cannedLLM{},
	}, logger.Discard())
	assert.ErrorIs(t, err, schema.ErrConfiguration)
}

func TestNew_SQLiteAndOllamaEndToEnd(t *testing.T) {
	var prompts atomic.Int32
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		prompts.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"model": "phi3:mini", "response": "Item 1.", "done": true})
	}))
	defer ollama.Close()

	cfg := testConfig(t)
	cfg.Index.Backend = "sqlite"
	cfg.Index.Path = t.TempDir()
	cfg.LLM.BaseURL = ollama.URL
	cfg.Embedding.Cache.Backend = "memory"
	ctx := context.Background()

	svc, err := New(ctx, cfg, logger.Discard())
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, IngestRequest{Sources: []string{writeDoc(t, t.TempDir(), "policies.txt", 3)}})
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	// a fresh process sees the persisted index
	svc, err = New(ctx, cfg, logger.Discard())
	require.NoError(t, err)
	defer svc.Close()

	answer, err := svc.Answer(ctx, "What may employees claim under policy 1?", 0)
	require.NoError(t, err)
	assert.Equal(t, "Item 1.", answer.Text)
	assert.NotEmpty(t, answer.Sources)
	assert.EqualValues(t, 1, prompts.Load())

	// a different embedding model may not reuse the index
	cfg.Embedding.Model = "hash-other"
	_, err = New(ctx, cfg, logger.Discard())
	assert.ErrorIs(t, err, schema.ErrConfiguration)
}

func TestNew_ModelChangeRequiresReset(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.Backend = "sqlite"
	cfg.Index.Path = t.TempDir()
	ctx := context.Background()
	doc := writeDoc(t, t.TempDir(), "policies.txt", 3)

	svc, err := New(ctx, cfg, logger.Discard())
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, IngestRequest{Sources: []string{doc}})
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	cfg.Embedding.Model = "hash-other"
	svc, err = New(ctx, cfg, logger.Discard(), WithModelChange())
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.Ingest(ctx, IngestRequest{Sources: []string{doc}})
	assert.ErrorIs(t, err, schema.ErrConfiguration, "the old index is kept without a reset")

	report, err := svc.Ingest(ctx, IngestRequest{Sources: []string{doc}, Reset: true})
	require.NoError(t, err)

	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.Records, st.Records)

	store, err := vectorstore.OpenSQLite(ctx, cfg.Index.Path, "hash-other")
	require.NoError(t, err)
	defer store.Close()
	m, err := store.Manifest(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "hash-other", m.EmbeddingModel)
}

func TestDiscoverSources(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "handbook-2023.txt", 1)
	cfg := config.IngestConfig{DataDir: dir, Pattern: "handbook-*.txt"}

	sources, err := DiscoverSources(cfg, false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "handbook-2023.txt")}, sources)

	writeDoc(t, dir, "handbook-2024.txt", 1)
	_, err = DiscoverSources(cfg, false)
	assert.ErrorIs(t, err, schema.ErrLoad)

	sources, err = DiscoverSources(cfg, true)
	require.NoError(t, err)
	assert.Len(t, sources, 2)

	_, err = DiscoverSources(config.IngestConfig{DataDir: dir, Pattern: "*.pdf"}, true)
	assert.ErrorIs(t, err, schema.ErrLoad)
}

func TestConfineSource(t *testing.T) {
	dir := t.TempDir()
	cfg := config.IngestConfig{DataDir: dir}

	path, err := ConfineSource(cfg, "handbook.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "handbook.pdf"), path)

	path, err = ConfineSource(cfg, "policies/../handbook.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "handbook.pdf"), path)

	for _, src := range []string{"/etc/passwd", "../handbook.pdf", "policies/../../handbook.pdf", "https://example.com/a", "minio://docs/a.pdf"} {
		_, err := ConfineSource(cfg, src)
		assert.ErrorIs(t, err, schema.ErrInvalidInput, src)
	}
	_, err = ConfineSource(cfg, "")
	assert.ErrorIs(t, err, schema.ErrEmptyInput)

	cfg.AllowRemote = true
	path, err = ConfineSource(cfg, "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", path)
	_, err = ConfineSource(cfg, "/etc/passwd")
	assert.ErrorIs(t, err, schema.ErrInvalidInput, "remote access does not open local paths")
}

func TestService_ConfinedIngestReportsCallerNames(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "policies.txt", 2)
	cfg := testConfig(t)
	cfg.Ingest.DataDir = dir
	svc := newTestService(t, cfg, &cannedLLM{reply: "ok"})
	ctx := context.Background()

	_, err := svc.Ingest(ctx, IngestRequest{Sources: []string{"../outside.txt"}, Confined: true})
	assert.ErrorIs(t, err, schema.ErrInvalidInput)

	report, err := svc.Ingest(ctx, IngestRequest{Sources: []string{"policies.txt", "gone.txt"}, OnError: "skip", Confined: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"policies.txt"}, report.Sources)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "gone.txt", report.Skipped[0].Source)
	assert.NotContains(t, report.Skipped[0].Error, dir)
}
