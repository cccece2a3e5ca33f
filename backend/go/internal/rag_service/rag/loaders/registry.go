package loaders

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ragdesk/backend/go/internal/rag_service/rag/interfaces"
	"ragdesk/backend/go/internal/rag_service/rag/schema"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Registry picks a Loader for a source and normalizes load failures into schema.ErrLoad.
type Registry struct {
	web     interfaces.Loader
	objects interfaces.Loader
	byExt   map[string]interfaces.Loader
}

// Option configures a Registry.
type Option func(*Registry)

// WithObjectStore enables minio:// sources.
func WithObjectStore(client *minio.Client) Option {
	return func(r *Registry) {
		if client != nil {
			r.objects = NewObjectLoader(client, r.resolveFile)
		}
	}
}

// IsRemote reports whether source names a web page or a stored object
// rather than a local file.
func IsRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") ||
		strings.HasPrefix(source, ObjectScheme)
}

// WithWebTimeout sets the request timeout for http(s) sources.
func WithWebTimeout(timeout time.Duration) Option {
	return func(r *Registry) {
		r.web = NewWebLoader(timeout)
	}
}

// NewRegistry creates a Registry for local files, web pages and, optionally, MinIO objects.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		web: NewWebLoader(30 * time.Second),
		byExt: map[string]interfaces.Loader{
			".pdf":      NewPdfLoader(),
			".xlsx":     NewXlsxLoader(),
			".md":       NewMarkdownLoader(),
			".markdown": NewMarkdownLoader(),
			".txt":      NewTxtLoader(),
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the loader for source without loading it.
func (r *Registry) Resolve(source string) (interfaces.Loader, error) {
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return r.web, nil
	case strings.HasPrefix(source, ObjectScheme):
		if r.objects == nil {
			return nil, fmt.Errorf("%w: %s: object storage is not configured", schema.ErrLoad, source)
		}
		return r.objects, nil
	default:
		loader, err := r.resolveFile(source)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", schema.ErrLoad, source, err)
		}
		return loader, nil
	}
}

// Load resolves and loads source. Every page gets the source location in its metadata.
func (r *Registry) Load(ctx context.Context, source string) ([]*schema.Document, error) {
	loader, err := r.Resolve(source)
	if err != nil {
		return nil, err
	}

	docs, err := loader.Load(ctx, source)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, schema.ErrLoad) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", schema.ErrLoad, source, err)
	}

	for _, doc := range docs {
		doc.Metadata[schema.MetadataKeySourceURI] = source
	}
	return docs, nil
}

// resolveFile picks a loader by extension, falling back to content sniffing.
func (r *Registry) resolveFile(path string) (interfaces.Loader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	if loader, ok := r.byExt[strings.ToLower(filepath.Ext(path))]; ok {
		return loader, nil
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to detect MIME type: %w", err)
	}
	for m := mtype; m != nil; m = m.Parent() {
		switch {
		case m.Is("application/pdf"):
			return r.byExt[".pdf"], nil
		case m.Is(xlsxMIME):
			return r.byExt[".xlsx"], nil
		case m.Is("text/markdown"):
			return r.byExt[".md"], nil
		case strings.HasPrefix(m.String(), "text/"):
			return r.byExt[".txt"], nil
		}
	}
	return nil, fmt.Errorf("unsupported document type %s", mtype.String())
}
