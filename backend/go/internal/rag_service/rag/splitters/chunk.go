package splitters

import (
	"fmt"

	"ragdesk/backend/go/internal/rag_service/rag/interfaces"
	"ragdesk/backend/go/internal/rag_service/rag/schema"

	"github.com/google/uuid"
)

// Strategy names accepted by New.
const (
	StrategyRecursive = "recursive"
	StrategyToken     = "token"
)

// New returns the splitter for the configured strategy.
func New(strategy string, chunkSize, chunkOverlap int) (interfaces.Splitter, error) {
	switch strategy {
	case "", StrategyRecursive:
		return NewRecursiveSplitter(chunkSize, chunkOverlap)
	case StrategyToken:
		return NewTokenSplitter(chunkSize, chunkOverlap)
	default:
		return nil, fmt.Errorf("unknown chunking strategy: %s", strategy)
	}
}

// newChunk builds the chunk document for span. The id is derived from the source,
// page, position and text so re-splitting the same input yields the same ids.
func newChunk(doc *schema.Document, span Span, ordinal int) *schema.Document {
	md := copyMetadata(doc.Metadata)
	name := fmt.Sprintf("%s|%v|%d|%s", doc.Source(), md[schema.MetadataKeyPageLabel], span.Offset, span.Text)
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()

	md[schema.MetadataKeyChunkID] = id
	md[schema.MetadataKeyChunkIndex] = ordinal
	md[schema.MetadataKeyChunkOffset] = span.Offset
	md[schema.MetadataKeyChunkOverlap] = span.Overlap

	return &schema.Document{
		ID:       id,
		Text:     span.Text,
		Metadata: md,
	}
}

func copyMetadata(md map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(md)+4)
	for k, v := range md {
		out[k] = v
	}
	return out
}
