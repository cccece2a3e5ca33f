package splitters

import (
	"context"
	"fmt"
	"strings"

	"ragdesk/backend/go/internal/rag_service/rag/interfaces"
	"ragdesk/backend/go/internal/rag_service/rag/schema"

	"github.com/pkoukk/tiktoken-go"
)

// TokenSplitter implements the Splitter interface to split documents based on token count.
// Offsets and overlaps it records are measured in tokens.
type TokenSplitter struct {
	ChunkSize    int
	ChunkOverlap int
	tokenizer    *tiktoken.Tiktoken
}

// NewTokenSplitter creates a new TokenSplitter using the cl100k_base encoding.
func NewTokenSplitter(chunkSize, chunkOverlap int) (*TokenSplitter, error) {
	if err := validate(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}

	tke, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}

	return &TokenSplitter{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		tokenizer:    tke,
	}, nil
}

// Split splits a list of documents into chunks of at most ChunkSize tokens.
func (s *TokenSplitter) Split(ctx context.Context, docs []*schema.Document) ([]*schema.Document, error) {
	var chunks []*schema.Document
	ordinals := make(map[string]int)
	step := s.ChunkSize - s.ChunkOverlap

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.TrimSpace(doc.Text) == "" {
			continue
		}

		tokens := s.tokenizer.Encode(doc.Text, nil, nil)
		for start := 0; start < len(tokens); start += step {
			end := min(start+s.ChunkSize, len(tokens))

			overlap := 0
			if start > 0 {
				overlap = s.ChunkOverlap
			}
			span := Span{Text: s.tokenizer.Decode(tokens[start:end]), Offset: start, Overlap: overlap}

			source := doc.Source()
			chunks = append(chunks, newChunk(doc, span, ordinals[source]))
			ordinals[source]++

			if end == len(tokens) {
				break
			}
		}
	}

	return chunks, nil
}

// compile-time check to ensure TokenSplitter implements the Splitter interface
var _ interfaces.Splitter = (*TokenSplitter)(nil)
