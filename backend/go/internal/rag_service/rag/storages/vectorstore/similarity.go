package vectorstore

import (
	"fmt"
	"math"
	"sort"

	"ragdesk/backend/go/internal/rag_service/rag/schema"
)

// Cosine returns the cosine similarity of a and b. Vectors of different
// length or with zero norm score 0.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// rank scores every record that passes filters and returns the best topK,
// most similar first. Equal scores keep insertion order.
func rank(records []*schema.Document, query []float32, topK int, filters map[string]string) []schema.SearchResult {
	results := make([]schema.SearchResult, 0, len(records))
	for _, rec := range records {
		if !matches(rec, filters) {
			continue
		}
		results = append(results, schema.SearchResult{Document: rec, Score: Cosine(query, rec.Embedding)})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}

	for i := range results {
		results[i].Document = detach(results[i].Document)
	}
	return results
}

func matches(doc *schema.Document, filters map[string]string) bool {
	for k, want := range filters {
		v, ok := doc.Metadata[k]
		if !ok || fmt.Sprint(v) != want {
			return false
		}
	}
	return true
}

// detach copies a stored record so callers cannot mutate the index.
// The vector is left out of the copy.
func detach(doc *schema.Document) *schema.Document {
	md := make(map[string]interface{}, len(doc.Metadata))
	for k, v := range doc.Metadata {
		md[k] = v
	}
	return &schema.Document{ID: doc.ID, Text: doc.Text, Metadata: md}
}

// checkBatch validates docs before a write and returns their common dimension.
func checkBatch(docs []*schema.Document, manifest *schema.Manifest, model string) (int, error) {
	dim := len(docs[0].Embedding)
	for i, d := range docs {
		if len(d.Embedding) == 0 {
			return 0, fmt.Errorf("document %d (%s) has no embedding", i, d.ID)
		}
		if len(d.Embedding) != dim {
			return 0, fmt.Errorf("document %d has dimension %d, batch dimension is %d", i, len(d.Embedding), dim)
		}
	}
	if manifest == nil {
		return dim, nil
	}
	if manifest.EmbeddingModel != model {
		return 0, fmt.Errorf("%w: index was built with embedding model %q, writer uses %q", schema.ErrConfiguration, manifest.EmbeddingModel, model)
	}
	if manifest.Dimension != dim {
		return 0, fmt.Errorf("%w: index dimension is %d, documents have dimension %d", schema.ErrConfiguration, manifest.Dimension, dim)
	}
	return dim, nil
}

func checkQuery(embedding []float32, topK int, manifest *schema.Manifest) error {
	if topK <= 0 {
		return fmt.Errorf("%w: topK must be positive, got %d", schema.ErrInvalidInput, topK)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%w: query embedding is empty", schema.ErrInvalidInput)
	}
	if manifest != nil && manifest.Dimension != len(embedding) {
		return fmt.Errorf("%w: query dimension %d does not match index dimension %d", schema.ErrConfiguration, len(embedding), manifest.Dimension)
	}
	return nil
}
