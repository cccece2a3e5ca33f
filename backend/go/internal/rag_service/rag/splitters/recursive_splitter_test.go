package splitters

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"ragdesk/backend/go/internal/rag_service/rag/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reconstruct joins spans after removing each span's overlap prefix.
func reconstruct(spans []Span) string {
	var sb strings.Builder
	for _, s := range spans {
		r := []rune(s.Text)
		sb.WriteString(string(r[s.Overlap:]))
	}
	return sb.String()
}

// corpus returns a deterministic mix of texts exercising every separator level.
func corpus() []string {
	rng := rand.New(rand.NewSource(42))
	words := []string{"leave", "policy", "días", "übersicht", "年假", "handbook", "employee", "a", "is", "20"}
	seps := []string{" ", " ", " ", ". ", "\n", "\n\n", "! ", "? ", ", "}

	texts := []string{
		"The handbook states that annual leave is 20 days.",
		strings.Repeat("x", 1337),
		strings.Repeat("word ", 300),
		"line one\nline two\n\n\n\nparagraph after a gap",
		"   leading and trailing whitespace   ",
	}
	for n := 0; n < 20; n++ {
		var sb strings.Builder
		for i := 0; i < 50+rng.Intn(400); i++ {
			sb.WriteString(words[rng.Intn(len(words))])
			sb.WriteString(seps[rng.Intn(len(seps))])
		}
		if n%3 == 0 {
			sb.WriteString(strings.Repeat("z", 120))
		}
		texts = append(texts, sb.String())
	}
	return texts
}

func TestRecursiveSplitter_Reconstruction(t *testing.T) {
	params := []struct{ size, overlap int }{
		{500, 50}, {100, 20}, {37, 0}, {10, 9}, {5, 2}, {1, 0},
	}
	for _, p := range params {
		s, err := NewRecursiveSplitter(p.size, p.overlap)
		require.NoError(t, err)
		for _, text := range corpus() {
			spans := s.SplitText(text)
			require.NotEmpty(t, spans)
			assert.Equal(t, text, reconstruct(spans), "size=%d overlap=%d", p.size, p.overlap)
		}
	}
}

func TestRecursiveSplitter_ChunkLengthBound(t *testing.T) {
	params := []struct{ size, overlap int }{
		{500, 50}, {64, 63}, {20, 5}, {3, 1},
	}
	for _, p := range params {
		s, err := NewRecursiveSplitter(p.size, p.overlap)
		require.NoError(t, err)
		for _, text := range corpus() {
			for i, span := range s.SplitText(text) {
				n := utf8.RuneCountInString(span.Text)
				assert.LessOrEqual(t, n, p.size, "span %d size=%d overlap=%d", i, p.size, p.overlap)
				assert.LessOrEqual(t, span.Overlap, p.overlap)
				assert.Less(t, span.Overlap, n)
			}
		}
	}
}

func TestRecursiveSplitter_OverlapCarriesTrailingContext(t *testing.T) {
	s, err := NewRecursiveSplitter(100, 20)
	require.NoError(t, err)

	spans := s.SplitText(strings.Repeat("alpha beta gamma delta. ", 40))
	require.Greater(t, len(spans), 2)
	for i := 1; i < len(spans); i++ {
		prev := []rune(spans[i-1].Text)
		cur := []rune(spans[i].Text)
		shared := string(cur[:spans[i].Overlap])
		assert.True(t, strings.HasSuffix(string(prev), shared), "span %d does not start with the tail of span %d", i, i-1)
		assert.Equal(t, spans[i-1].Offset+len(prev)-spans[i].Overlap, spans[i].Offset)
	}
}

func TestRecursiveSplitter_PrefersLargestSeparator(t *testing.T) {
	s, err := NewRecursiveSplitter(30, 0)
	require.NoError(t, err)

	text := "first paragraph here.\n\nsecond paragraph here."
	spans := s.SplitText(text)
	require.Len(t, spans, 2)
	assert.Equal(t, "first paragraph here.\n\n", spans[0].Text)
	assert.Equal(t, "second paragraph here.", spans[1].Text)
}

func TestRecursiveSplitter_ShortDocumentIsOneChunk(t *testing.T) {
	s, err := NewRecursiveSplitter(500, 50)
	require.NoError(t, err)

	text := "The handbook states that annual leave is 20 days."
	spans := s.SplitText(text)
	require.Len(t, spans, 1)
	assert.Equal(t, text, spans[0].Text)
	assert.Zero(t, spans[0].Overlap)
}

func TestRecursiveSplitter_BlankText(t *testing.T) {
	s, err := NewRecursiveSplitter(500, 50)
	require.NoError(t, err)

	assert.Empty(t, s.SplitText(""))
	assert.Empty(t, s.SplitText(" \n\t "))
}

func TestRecursiveSplitter_Deterministic(t *testing.T) {
	s, err := NewRecursiveSplitter(120, 30)
	require.NoError(t, err)

	docs := func() []*schema.Document {
		var out []*schema.Document
		for i, text := range corpus()[:6] {
			out = append(out, &schema.Document{
				ID:   "page",
				Text: text,
				Metadata: map[string]interface{}{
					schema.MetadataKeyFileName:  "handbook.pdf",
					schema.MetadataKeyPageLabel: i + 1,
				},
			})
		}
		return out
	}

	first, err := s.Split(context.Background(), docs())
	require.NoError(t, err)
	second, err := s.Split(context.Background(), docs())
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Text, second[i].Text)
		assert.Equal(t, first[i].Metadata, second[i].Metadata)
	}
}

func TestRecursiveSplitter_SplitMetadata(t *testing.T) {
	s, err := NewRecursiveSplitter(20, 5)
	require.NoError(t, err)

	docs := []*schema.Document{
		{Text: "page one has some words in it", Metadata: map[string]interface{}{schema.MetadataKeyFileName: "a.pdf", schema.MetadataKeyPageLabel: 1}},
		{Text: "page two has more words in it", Metadata: map[string]interface{}{schema.MetadataKeyFileName: "a.pdf", schema.MetadataKeyPageLabel: 2}},
		{Text: "another file", Metadata: map[string]interface{}{schema.MetadataKeyFileName: "b.txt"}},
	}

	chunks, err := s.Split(context.Background(), docs)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	wantOrdinal := map[string]int{}
	lastPage := 0
	for _, c := range chunks {
		src := c.Source()
		assert.Equal(t, wantOrdinal[src], c.Metadata[schema.MetadataKeyChunkIndex])
		wantOrdinal[src]++
		assert.Equal(t, c.ID, c.Metadata[schema.MetadataKeyChunkID])
		if src == "a.pdf" {
			page := c.Metadata[schema.MetadataKeyPageLabel].(int)
			assert.GreaterOrEqual(t, page, lastPage)
			lastPage = page
		}
	}
	assert.Equal(t, 1, wantOrdinal["b.txt"])

	// the source metadata map must not be shared with chunks
	chunks[0].Metadata["extra"] = true
	assert.NotContains(t, docs[0].Metadata, "extra")
}

func TestRecursiveSplitter_ContextCancelled(t *testing.T) {
	s, err := NewRecursiveSplitter(20, 5)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Split(ctx, []*schema.Document{{Text: "text"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew(t *testing.T) {
	_, err := NewRecursiveSplitter(0, 0)
	assert.Error(t, err)
	_, err = NewRecursiveSplitter(50, 50)
	assert.Error(t, err)
	_, err = NewRecursiveSplitter(50, -1)
	assert.Error(t, err)
	_, err = NewTokenSplitter(10, 10)
	assert.Error(t, err)

	sp, err := New("", 500, 50)
	require.NoError(t, err)
	assert.IsType(t, &RecursiveSplitter{}, sp)

	_, err = New("sentences", 500, 50)
	assert.Error(t, err)
}
