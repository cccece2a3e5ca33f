package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ragdesk/backend/go/internal/embedding"
	"ragdesk/backend/go/internal/rag_service/rag/embeddings"
	"ragdesk/backend/go/internal/rag_service/rag/guard"
	"ragdesk/backend/go/internal/rag_service/rag/llms"
	"ragdesk/backend/go/internal/rag_service/rag/loaders"
	"ragdesk/backend/go/internal/rag_service/rag/schema"
	"ragdesk/backend/go/internal/rag_service/rag/splitters"
	"ragdesk/backend/go/internal/rag_service/rag/storages/vectorstore"
	"ragdesk/backend/go/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const handbookText = "The handbook states that annual leave is 20 days."

// recordingLLM answers every prompt with a fixed reply and remembers what it was sent.
type recordingLLM struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	delay   time.Duration
}

func (r *recordingLLM) ModelName() string { return "recording" }

func (r *recordingLLM) Generate(ctx context.Context, prompt string) (string, error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, prompt)
	r.mu.Unlock()
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return r.reply, nil
}

func (r *recordingLLM) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prompts)
}

type harness struct {
	store    *vectorstore.MemoryStore
	indexing *IndexingPipeline
	answerer *Answerer
	llm      *recordingLLM
}

func newHarness(t *testing.T, llmTimeout time.Duration, llmDelay time.Duration) *harness {
	t.Helper()
	log := logger.Discard()

	hash, err := embedding.NewHashModel("", 128)
	require.NoError(t, err)
	embedder := embeddings.NewAdapter(hash, nil)

	splitter, err := splitters.New("recursive", 500, 50)
	require.NoError(t, err)

	store := vectorstore.NewMemoryStore(embedder.ModelName())
	rec := &recordingLLM{reply: "20 days.", delay: llmDelay}
	model := llms.NewAdapter(rec, guard.New("llm", llmTimeout, nil))

	qa, err := NewQAPipeline(model, "", log)
	require.NoError(t, err)

	return &harness{
		store:    store,
		indexing: NewIndexingPipeline(loaders.NewRegistry(), splitter, embedder, store, IndexingConfig{BatchSize: 2, Concurrency: 2}, log),
		answerer: NewAnswerer(NewRetrievalPipeline(embedder, store, log), qa, log),
		llm:      rec,
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestHandbookQuestion(t *testing.T) {
	h := newHarness(t, 0, 0)
	ctx := context.Background()
	path := writeFile(t, t.TempDir(), "handbook-2024.txt", handbookText)

	report, err := h.indexing.Run(ctx, []string{path}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pages)
	assert.Equal(t, 1, report.Chunks)
	assert.Equal(t, 1, report.Records)
	assert.Empty(t, report.Skipped)

	question := "How many days of annual leave?"
	answer, err := h.answerer.Answer(ctx, question, 4, nil)
	require.NoError(t, err)
	assert.Equal(t, "20 days.", answer.Text)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, handbookText, answer.Sources[0].Document.Text)
	assert.Equal(t, "handbook-2024.txt", answer.Sources[0].Document.Source())

	require.Equal(t, 1, h.llm.calls())
	prompt := h.llm.prompts[0]
	assert.Contains(t, prompt, handbookText)
	assert.Contains(t, prompt, question)
	assert.Contains(t, prompt, "I don't know")
}

func TestAnswer_EmptyStoreSkipsModel(t *testing.T) {
	h := newHarness(t, 0, 0)

	answer, err := h.answerer.Answer(context.Background(), "What is the leave policy?", 4, nil)
	assert.ErrorIs(t, err, schema.ErrRetrievalUnavailable)
	assert.Nil(t, answer)
	assert.Zero(t, h.llm.calls())
}

func TestAnswer_BlankQuestion(t *testing.T) {
	h := newHarness(t, 0, 0)
	_, err := h.answerer.Answer(context.Background(), "   \n", 4, nil)
	assert.ErrorIs(t, err, schema.ErrEmptyInput)
	assert.Zero(t, h.llm.calls())
}

func TestAnswer_ModelTimeoutKeepsSources(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond, time.Second)
	ctx := context.Background()
	path := writeFile(t, t.TempDir(), "handbook.txt", handbookText)
	_, err := h.indexing.Run(ctx, []string{path}, RunOptions{})
	require.NoError(t, err)

	answer, err := h.answerer.Answer(ctx, "annual leave", 4, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrModelUnavailable)
	assert.Contains(t, err.Error(), "timed out")
	require.NotNil(t, answer)
	assert.Empty(t, answer.Text)
	assert.Equal(t, []string{handbookText}, answer.SourceTexts())
}

func TestIndexing_MissingFileAborts(t *testing.T) {
	h := newHarness(t, 0, 0)
	dir := t.TempDir()
	good := writeFile(t, dir, "handbook.txt", handbookText)

	_, err := h.indexing.Run(context.Background(), []string{good, filepath.Join(dir, "missing.pdf")}, RunOptions{})
	assert.ErrorIs(t, err, schema.ErrLoad)

	count, err := h.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIndexing_SkipPolicy(t *testing.T) {
	h := newHarness(t, 0, 0)
	dir := t.TempDir()
	good := writeFile(t, dir, "handbook.txt", handbookText)
	blank := writeFile(t, dir, "blank.txt", " \n\t ")
	missing := filepath.Join(dir, "missing.pdf")

	report, err := h.indexing.Run(context.Background(), []string{missing, good, blank}, RunOptions{OnError: OnErrorSkip})
	require.NoError(t, err)
	assert.Equal(t, []string{good}, report.Sources)
	require.Len(t, report.Skipped, 2)
	assert.Equal(t, missing, report.Skipped[0].Source)
	assert.Equal(t, "LoadError", report.Skipped[0].Kind)
	assert.Equal(t, "EmptyInput", report.Skipped[1].Kind)
	assert.Equal(t, 1, report.Records)
}

func TestIndexing_NothingLoadable(t *testing.T) {
	h := newHarness(t, 0, 0)
	blank := writeFile(t, t.TempDir(), "blank.txt", "   ")

	_, err := h.indexing.Run(context.Background(), []string{blank}, RunOptions{OnError: OnErrorSkip})
	assert.ErrorIs(t, err, schema.ErrEmptyInput)

	_, err = h.indexing.Run(context.Background(), nil, RunOptions{})
	assert.ErrorIs(t, err, schema.ErrEmptyInput)
}

func TestIndexing_AdditiveAndReset(t *testing.T) {
	h := newHarness(t, 0, 0)
	ctx := context.Background()
	path := writeFile(t, t.TempDir(), "handbook.txt", handbookText)

	for range 2 {
		_, err := h.indexing.Run(ctx, []string{path}, RunOptions{})
		require.NoError(t, err)
	}
	count, err := h.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = h.indexing.Run(ctx, []string{path}, RunOptions{Reset: true})
	require.NoError(t, err)
	count, err = h.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIndexing_ModelMismatch(t *testing.T) {
	h := newHarness(t, 0, 0)
	ctx := context.Background()

	old := vectorstore.NewMemoryStore("old-model")
	require.NoError(t, old.Add(ctx, []*schema.Document{{ID: "1", Text: "x", Embedding: []float32{1, 0}}}))
	h.indexing.vectorStore = old

	path := writeFile(t, t.TempDir(), "handbook.txt", handbookText)
	_, err := h.indexing.Run(ctx, []string{path}, RunOptions{})
	assert.ErrorIs(t, err, schema.ErrConfiguration)

	count, err := old.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIndexing_BatchesKeepOrder(t *testing.T) {
	h := newHarness(t, 0, 0)
	ctx := context.Background()
	long := strings.Repeat("Section one covers onboarding. ", 40) + "\n\n" + strings.Repeat("Section two covers expenses. ", 40)
	path := writeFile(t, t.TempDir(), "long.txt", long)

	report, err := h.indexing.Run(ctx, []string{path}, RunOptions{})
	require.NoError(t, err)
	require.Greater(t, report.Chunks, 2)

	hash, err := embedding.NewHashModel("", 128)
	require.NoError(t, err)
	want, err := hash.Embed(ctx, "Section two covers expenses.")
	require.NoError(t, err)
	res, err := h.store.Query(ctx, want, 1, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Contains(t, res[0].Document.Text, "expenses")
}

func TestBuildPrompt_SinglePass(t *testing.T) {
	qa, err := NewQAPipeline(&recordingLLM{}, "C={context} Q={question}", logger.Discard())
	require.NoError(t, err)

	prompt := qa.BuildPrompt("what about {context}?", []schema.SearchResult{
		{Document: &schema.Document{Text: "first {question}"}},
		{Document: &schema.Document{Text: "second"}},
	})
	assert.Equal(t, "C=first {question}\n\nsecond Q=what about {context}?", prompt)
}

func TestNewQAPipeline_RejectsTemplateWithoutPlaceholders(t *testing.T) {
	_, err := NewQAPipeline(&recordingLLM{}, "Answer: {question}", logger.Discard())
	assert.ErrorIs(t, err, schema.ErrConfiguration)
}
