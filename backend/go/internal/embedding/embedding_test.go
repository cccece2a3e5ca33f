package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ragdesk/backend/go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestHashModel_Deterministic(t *testing.T) {
	m, err := NewHashModel("", 384)
	require.NoError(t, err)
	assert.Equal(t, "hash-384", m.ModelName())

	ctx := context.Background()
	a, err := m.Embed(ctx, "The handbook states that annual leave is 20 days.")
	require.NoError(t, err)
	b, err := m.Embed(ctx, "The handbook states that annual leave is 20 days.")
	require.NoError(t, err)

	assert.Len(t, a, 384)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, dot(a, a), 1e-5)
}

func TestHashModel_SimilarTextScoresHigher(t *testing.T) {
	m, err := NewHashModel("hash", 256)
	require.NoError(t, err)

	vecs, err := m.EmbedBatch(context.Background(), []string{
		"How many days of annual leave do I get?",
		"Annual leave is 20 days per year.",
		"The cafeteria opens at noon.",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Greater(t, dot(vecs[0], vecs[1]), dot(vecs[0], vecs[2]))
}

func TestHashModel_BlankTextIsZeroVector(t *testing.T) {
	m, err := NewHashModel("hash", 8)
	require.NoError(t, err)

	v, err := m.Embed(context.Background(), "  ...  ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), v)

	_, err = NewHashModel("hash", 0)
	assert.Error(t, err)
}

type countingModel struct {
	inner Embedding
	calls atomic.Int32
	texts atomic.Int32
}

func (c *countingModel) ModelName() string { return c.inner.ModelName() }
func (c *countingModel) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.inner.Embed(ctx, text)
}
func (c *countingModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	c.texts.Add(int32(len(texts)))
	return c.inner.EmbedBatch(ctx, texts)
}

func TestCachedModel_OnlyEmbedsMisses(t *testing.T) {
	hash, err := NewHashModel("hash", 32)
	require.NoError(t, err)
	inner := &countingModel{inner: hash}
	cache, err := NewMemoryCache(100, 0)
	require.NoError(t, err)
	m := NewCached(inner, cache)

	ctx := context.Background()
	first, err := m.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)

	second, err := m.EmbedBatch(ctx, []string{"b", "c", "a"})
	require.NoError(t, err)

	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, int32(3), inner.texts.Load())
	assert.Equal(t, first[0], second[2])
	assert.Equal(t, first[1], second[0])
	assert.Equal(t, "hash", m.ModelName())
}

func TestCacheKey_DependsOnModel(t *testing.T) {
	assert.NotEqual(t, CacheKey("a", "text"), CacheKey("b", "text"))
	assert.Equal(t, CacheKey("a", "text"), CacheKey("a", "text"))
	assert.NotEqual(t, CacheKey("ab", "c"), CacheKey("a", "bc"))
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0, -1.5, 3.25, 1e-7}
	got, err := DecodeVector(EncodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = DecodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestNew_Providers(t *testing.T) {
	m, err := New(config.EmbeddingConfig{Provider: "hash", Model: "hash-test", Dimensions: 16})
	require.NoError(t, err)
	assert.Equal(t, "hash-test", m.ModelName())

	_, err = New(config.EmbeddingConfig{Provider: "word2vec"})
	assert.Error(t, err)
}

func TestOllamaModel_EmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req.Model)

		out := make([][]float32, len(req.Input))
		for i := range out {
			out[i] = []float32{float32(i), 1}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"model": req.Model, "embeddings": out})
	}))
	defer srv.Close()

	m, err := NewOllamaModel("all-minilm", srv.URL, 5*time.Second)
	require.NoError(t, err)

	vecs, err := m.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}}, vecs)
}

func TestHuggingFaceModel_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models/minilm" {
			_ = json.NewEncoder(w).Encode([][]float32{{0.5, 0.5}})
			return
		}
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m, err := NewHuggingFaceModel("", "minilm", srv.URL+"/models", time.Second)
	require.NoError(t, err)
	v, err := m.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, v)

	bad, err := NewHuggingFaceModel("", "other", srv.URL+"/models", time.Second)
	require.NoError(t, err)
	_, err = bad.Embed(context.Background(), "hello")
	assert.ErrorContains(t, err, "503")
}
