package loaders

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ragdesk/backend/go/internal/rag_service/rag/interfaces"
	"ragdesk/backend/go/internal/rag_service/rag/schema"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
)

// PdfLoader implements the Loader interface for reading PDF files.
type PdfLoader struct{}

// NewPdfLoader creates a new PdfLoader.
func NewPdfLoader() *PdfLoader {
	return &PdfLoader{}
}

// Load reads a PDF file and returns a Document for each page that carries text.
// Page labels are 1-based page numbers.
func (l *PdfLoader) Load(ctx context.Context, path string) (docs []*schema.Document, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	// the parser panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			docs, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("not a readable pdf: %w", err)
	}

	fileName := filepath.Base(path)
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract text from page %d: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		docs = append(docs, &schema.Document{
			ID:   uuid.New().String(),
			Text: text,
			Metadata: map[string]interface{}{
				schema.MetadataKeyFileName:  fileName,
				schema.MetadataKeyPageLabel: i,
			},
		})
	}

	return docs, nil
}

// compile-time check to ensure PdfLoader implements the Loader interface
var _ interfaces.Loader = (*PdfLoader)(nil)
