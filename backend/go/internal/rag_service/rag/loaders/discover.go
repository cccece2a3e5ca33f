package loaders

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"ragdesk/backend/go/internal/rag_service/rag/schema"

	"github.com/gobwas/glob"
)

// Discover lists the files directly under dir whose names match pattern, sorted by name.
func Discover(dir, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid document pattern %q: %w", schema.ErrConfiguration, pattern, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", schema.ErrLoad, dir, err)
	}

	var matches []string
	for _, entry := range entries {
		if entry.IsDir() || !g.Match(entry.Name()) {
			continue
		}
		matches = append(matches, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(matches)
	return matches, nil
}

// DiscoverOne is Discover requiring exactly one match.
func DiscoverOne(dir, pattern string) (string, error) {
	matches, err := Discover(dir, pattern)
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: no document matching %q in %s", schema.ErrLoad, pattern, dir)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %d documents match %q in %s, expected exactly one", schema.ErrLoad, len(matches), pattern, dir)
	}
}
