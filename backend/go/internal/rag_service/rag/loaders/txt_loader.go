package loaders

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"ragdesk/backend/go/internal/rag_service/rag/interfaces"
	"ragdesk/backend/go/internal/rag_service/rag/schema"

	"github.com/google/uuid"
)

// TxtLoader implements the Loader interface for reading plain text files.
type TxtLoader struct{}

// NewTxtLoader creates a new TxtLoader.
func NewTxtLoader() *TxtLoader {
	return &TxtLoader{}
}

// Load reads a text file from the given path and returns it as a single page.
// A file holding only whitespace yields no pages.
func (l *TxtLoader) Load(ctx context.Context, path string) ([]*schema.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(string(content))
	if text == "" {
		return nil, nil
	}

	doc := &schema.Document{
		ID:   uuid.New().String(),
		Text: text,
		Metadata: map[string]interface{}{
			schema.MetadataKeyFileName:  filepath.Base(path),
			schema.MetadataKeyPageLabel: 1,
		},
	}

	return []*schema.Document{doc}, nil
}

// compile-time check to ensure TxtLoader implements the Loader interface
var _ interfaces.Loader = (*TxtLoader)(nil)
