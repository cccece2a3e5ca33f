package loaders

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"ragdesk/backend/go/internal/rag_service/rag/interfaces"
	"ragdesk/backend/go/internal/rag_service/rag/schema"

	"github.com/minio/minio-go/v7"
)

// ObjectScheme prefixes sources stored in an S3-compatible bucket: minio://bucket/key.
const ObjectScheme = "minio://"

// ObjectLoader implements the Loader interface for documents kept in MinIO.
// The object is downloaded to a temporary file and handed to the loader for its extension.
type ObjectLoader struct {
	client *minio.Client
	files  func(path string) (interfaces.Loader, error)
}

// NewObjectLoader creates an ObjectLoader. files picks the loader for a downloaded file.
func NewObjectLoader(client *minio.Client, files func(path string) (interfaces.Loader, error)) *ObjectLoader {
	return &ObjectLoader{client: client, files: files}
}

// ParseObjectURI splits minio://bucket/key into its bucket and key.
func ParseObjectURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", err
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Scheme+"://" != ObjectScheme || u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid object uri %q, want %sbucket/key", uri, ObjectScheme)
	}
	return u.Host, key, nil
}

// Load downloads the object and loads it by extension.
func (l *ObjectLoader) Load(ctx context.Context, uri string) ([]*schema.Document, error) {
	bucket, key, err := ParseObjectURI(uri)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "ragdesk-object-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	local := filepath.Join(dir, path.Base(key))
	if err := l.client.FGetObject(ctx, bucket, key, local, minio.GetObjectOptions{}); err != nil {
		return nil, fmt.Errorf("download %s: %w", uri, err)
	}

	loader, err := l.files(local)
	if err != nil {
		return nil, err
	}
	return loader.Load(ctx, local)
}

// compile-time check to ensure ObjectLoader implements the Loader interface
var _ interfaces.Loader = (*ObjectLoader)(nil)
