package loaders

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"ragdesk/backend/go/internal/rag_service/rag/interfaces"
	"ragdesk/backend/go/internal/rag_service/rag/schema"

	"github.com/google/uuid"
)

// MetadataKeyImages lists the image references found in a Markdown page.
const MetadataKeyImages = "images"

// MarkdownLoader implements the Loader interface for reading Markdown (.md) files.
type MarkdownLoader struct{}

// NewMarkdownLoader creates a new MarkdownLoader.
func NewMarkdownLoader() *MarkdownLoader {
	return &MarkdownLoader{}
}

// imageRegex is used to find Markdown image syntax (e.g., ![alt text](path/to/image.jpg))
var imageRegex = regexp.MustCompile(`!\[(.*?)\]\((.*?)\)`)

// Load reads a Markdown file as a single page. Image references are replaced by their
// alt text and their targets recorded in metadata.
func (l *MarkdownLoader) Load(ctx context.Context, path string) ([]*schema.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var images []string
	for _, match := range imageRegex.FindAllStringSubmatch(string(content), -1) {
		images = append(images, match[2])
	}
	text := strings.TrimSpace(imageRegex.ReplaceAllString(string(content), "$1"))
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
	if len(images) > 0 {
		doc.Metadata[MetadataKeyImages] = strings.Join(images, ",")
	}

	return []*schema.Document{doc}, nil
}

// compile-time check to ensure MarkdownLoader implements the Loader interface
var _ interfaces.Loader = (*MarkdownLoader)(nil)
