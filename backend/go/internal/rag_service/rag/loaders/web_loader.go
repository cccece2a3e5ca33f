package loaders

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ragdesk/backend/go/internal/rag_service/rag/interfaces"
	"ragdesk/backend/go/internal/rag_service/rag/schema"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/google/uuid"
)

// maxPageBytes bounds the size of a fetched page.
const maxPageBytes = 10 << 20

// WebLoader implements the Loader interface for fetching web pages and converting them to Markdown.
type WebLoader struct {
	client *http.Client
}

// NewWebLoader creates a new WebLoader with the given request timeout.
func NewWebLoader(timeout time.Duration) *WebLoader {
	return &WebLoader{client: &http.Client{Timeout: timeout}}
}

// Load fetches content from a URL and returns it as a single page.
func (l *WebLoader) Load(ctx context.Context, url string) ([]*schema.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, err
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		text, err = htmltomarkdown.ConvertString(text)
		if err != nil {
			return nil, fmt.Errorf("convert %s to markdown: %w", url, err)
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	doc := &schema.Document{
		ID:   uuid.New().String(),
		Text: text,
		Metadata: map[string]interface{}{
			schema.MetadataKeyFileName:  url,
			schema.MetadataKeyPageLabel: 1,
		},
	}

	return []*schema.Document{doc}, nil
}

// compile-time check to ensure WebLoader implements the Loader interface
var _ interfaces.Loader = (*WebLoader)(nil)
