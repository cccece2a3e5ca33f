package schema

import (
	"fmt"
	"time"
)

const (
	// MetadataKeyFileName is the key for the source document identifier (its base file name).
	MetadataKeyFileName = "file_name"
	// MetadataKeyPageLabel is the key for the 1-based page number of the source document.
	MetadataKeyPageLabel = "page_label"
	// MetadataKeySourceURI is the key for the location the document was loaded from.
	MetadataKeySourceURI = "source_uri"
	// MetadataKeySheetName is the key for the worksheet a spreadsheet page came from.
	MetadataKeySheetName = "sheet_name"
	// MetadataKeyChunkIndex is the ordinal position of a chunk within its source document.
	MetadataKeyChunkIndex = "chunk_index"
	// MetadataKeyChunkOffset is the character offset of a chunk within its page.
	MetadataKeyChunkOffset = "chunk_offset"
	// MetadataKeyChunkOverlap is the number of leading characters a chunk shares with the previous chunk of the same page.
	MetadataKeyChunkOverlap = "chunk_overlap"
	// MetadataKeyChunkID is the name-based identifier of a chunk, stable across re-ingestion.
	MetadataKeyChunkID = "chunk_id"
)

// Document is the central data structure representing a piece of text and its associated data.
// It carries loaded pages, chunks and index records through the pipelines.
type Document struct {
	// ID is the unique identifier for this document or chunk.
	ID string

	// Text is the string content.
	Text string

	// Embedding is the vector representation of the text. Nil until embedded.
	Embedding []float32

	// Metadata holds arbitrary data about the document such as file_name and page_label.
	Metadata map[string]interface{}
}

// Source returns the identifier of the document this text came from.
func (d *Document) Source() string {
	if d == nil || d.Metadata == nil {
		return ""
	}
	if v, ok := d.Metadata[MetadataKeyFileName]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

// StringMetadata flattens metadata into strings, the form persisted by the vector stores.
func (d *Document) StringMetadata() map[string]string {
	out := make(map[string]string, len(d.Metadata))
	for k, v := range d.Metadata {
		switch val := v.(type) {
		case string:
			out[k] = val
		case []byte, [][]byte:
			// binary payloads are not persisted
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// SearchResult is one entry of a retrieval result.
type SearchResult struct {
	Document *Document
	// Score is the cosine similarity between the query and the stored vector.
	Score float32
}

// Manifest describes the embedding space of a persisted index.
type Manifest struct {
	EmbeddingModel string
	Dimension      int
	CreatedAt      time.Time
}

// Answer is the result of a question answered against the index.
type Answer struct {
	Text    string
	Sources []SearchResult
}

// SourceTexts returns the supporting passage texts in retrieval order.
func (a *Answer) SourceTexts() []string {
	if a == nil {
		return []string{}
	}
	out := make([]string, 0, len(a.Sources))
	for _, s := range a.Sources {
		out = append(out, s.Document.Text)
	}
	return out
}
