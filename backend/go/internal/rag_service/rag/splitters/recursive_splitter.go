package splitters

import (
	"context"
	"fmt"
	"strings"

	"ragdesk/backend/go/internal/rag_service/rag/interfaces"
	"ragdesk/backend/go/internal/rag_service/rag/schema"
)

// DefaultSeparators are tried in order: paragraph break, line break,
// sentence end, word boundary and finally any character boundary.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", " ", ""}

// Span is one chunk of a text together with its position.
// Offset and Overlap are measured in characters (runes).
type Span struct {
	Text    string
	Offset  int
	Overlap int
}

// RecursiveSplitter implements the Splitter interface by recursively cutting text on
// a priority list of separators and merging the pieces into chunks of at most ChunkSize
// characters. Consecutive chunks of a page share ChunkOverlap trailing characters, or fewer
// when the full overlap would push the next chunk over ChunkSize.
type RecursiveSplitter struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// NewRecursiveSplitter creates a RecursiveSplitter with the default separators.
func NewRecursiveSplitter(chunkSize, chunkOverlap int) (*RecursiveSplitter, error) {
	if err := validate(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	return &RecursiveSplitter{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		Separators:   DefaultSeparators,
	}, nil
}

// Split splits every document into chunks, preserving document and page order.
// Chunks made only of whitespace are dropped.
func (s *RecursiveSplitter) Split(ctx context.Context, docs []*schema.Document) ([]*schema.Document, error) {
	var chunks []*schema.Document
	ordinals := make(map[string]int)

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, span := range s.SplitText(doc.Text) {
			if strings.TrimSpace(span.Text) == "" {
				continue
			}
			source := doc.Source()
			chunks = append(chunks, newChunk(doc, span, ordinals[source]))
			ordinals[source]++
		}
	}

	return chunks, nil
}

// SplitText cuts text into spans. Concatenating the spans after dropping each span's
// leading Overlap characters yields text unchanged. Blank text yields no spans.
func (s *RecursiveSplitter) SplitText(text string) []Span {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	cuts := s.segment(runes, 0, len(runes), s.Separators)
	return s.merge(runes, cuts)
}

// segment returns the ascending end positions of pieces covering runes[lo:hi],
// each at most ChunkSize long.
func (s *RecursiveSplitter) segment(runes []rune, lo, hi int, separators []string) []int {
	if hi-lo <= s.ChunkSize {
		return []int{hi}
	}

	for i, sep := range separators {
		if sep == "" {
			break
		}
		ends := cutAfter(runes, lo, hi, []rune(sep))
		if len(ends) == 0 {
			continue
		}

		var out []int
		start := lo
		for _, end := range append(ends, hi) {
			if end-start > s.ChunkSize {
				out = append(out, s.segment(runes, start, end, separators[i+1:])...)
			} else {
				out = append(out, end)
			}
			start = end
		}
		return out
	}

	return s.hardCut(lo, hi)
}

// hardCut splits runes[lo:hi] at fixed ChunkSize intervals.
func (s *RecursiveSplitter) hardCut(lo, hi int) []int {
	var out []int
	for p := lo + s.ChunkSize; p < hi; p += s.ChunkSize {
		out = append(out, p)
	}
	return append(out, hi)
}

// merge greedily packs consecutive pieces into spans.
func (s *RecursiveSplitter) merge(runes []rune, cuts []int) []Span {
	var spans []Span
	start, end, overlap := 0, 0, 0

	for _, cut := range cuts {
		if cut-start <= s.ChunkSize {
			end = cut
			continue
		}

		spans = append(spans, Span{Text: string(runes[start:end]), Offset: start, Overlap: overlap})

		next := end - s.ChunkOverlap
		if floor := cut - s.ChunkSize; next < floor {
			next = floor
		}
		if next <= start {
			next = start + 1
		}
		overlap = end - next
		start, end = next, cut
	}

	return append(spans, Span{Text: string(runes[start:end]), Offset: start, Overlap: overlap})
}

// cutAfter returns the positions right after each occurrence of sep in runes[lo:hi],
// excluding hi itself.
func cutAfter(runes []rune, lo, hi int, sep []rune) []int {
	var ends []int
	for j := lo; j+len(sep) <= hi; {
		if hasPrefix(runes[j:hi], sep) {
			j += len(sep)
			if j < hi {
				ends = append(ends, j)
			}
			continue
		}
		j++
	}
	return ends
}

func hasPrefix(runes, prefix []rune) bool {
	for i, r := range prefix {
		if runes[i] != r {
			return false
		}
	}
	return true
}

func validate(chunkSize, chunkOverlap int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", chunkSize, chunkOverlap)
	}
	return nil
}

// compile-time check to ensure RecursiveSplitter implements the Splitter interface
var _ interfaces.Splitter = (*RecursiveSplitter)(nil)
