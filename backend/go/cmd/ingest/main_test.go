package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"ragdesk/backend/go/internal/rag_service/rag/pipeline"
	"ragdesk/backend/go/internal/rag_service/rag/schema"
	"ragdesk/backend/go/internal/rag_service/rag/storages/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dataDir, indexDir string) string {
	t.Helper()
	return writeModelConfig(t, dataDir, indexDir, "hash-test")
}

func writeModelConfig(t *testing.T, dataDir, indexDir, model string) string {
	t.Helper()
	yaml := fmt.Sprintf(`logger:
  level: error
index:
  backend: sqlite
  path: %s
embedding:
  provider: hash
  model: %s
  dimensions: 32
ingest:
  dataDir: %s
  pattern: "handbook-*.txt"
`, indexDir, model, dataDir)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIngest_DiscoversSingleDocument(t *testing.T) {
	data := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(data, "handbook-2024.txt"), []byte("The handbook states that annual leave is 20 days."), 0o644))
	cfg := writeConfig(t, data, t.TempDir())

	out, err := execute(t, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "1 record(s) written")

	out, err = execute(t, "--config", cfg, "--reset", "--json")
	require.NoError(t, err)
	var report pipeline.IngestReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Records)
}

func TestIngest_AmbiguousPattern(t *testing.T) {
	data := t.TempDir()
	for _, name := range []string{"handbook-2023.txt", "handbook-2024.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(data, name), []byte("Leave is 20 days."), 0o644))
	}
	cfg := writeConfig(t, data, t.TempDir())

	_, err := execute(t, "--config", cfg)
	assert.ErrorContains(t, err, "expected exactly one")

	out, err := execute(t, "--config", cfg, "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Ingested 2 document(s)")
}

func TestIngest_SkipPolicyFlag(t *testing.T) {
	data := t.TempDir()
	good := filepath.Join(data, "notes.txt")
	require.NoError(t, os.WriteFile(good, []byte("Expenses are reimbursed monthly."), 0o644))
	cfg := writeConfig(t, data, t.TempDir())

	_, err := execute(t, "--config", cfg, good, filepath.Join(data, "missing.pdf"))
	assert.Error(t, err)

	out, err := execute(t, "--config", cfg, "--on-error", "skip", good, filepath.Join(data, "missing.pdf"))
	require.NoError(t, err)
	assert.Contains(t, out, "Skipped")

	_, err = execute(t, "--config", cfg, "--on-error", "retry", good)
	assert.Error(t, err)
}

func TestIngest_ResetSwitchesEmbeddingModel(t *testing.T) {
	data := t.TempDir()
	index := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(data, "handbook-2024.txt"), []byte("The handbook states that annual leave is 20 days."), 0o644))

	_, err := execute(t, "--config", writeModelConfig(t, data, index, "hash-a"))
	require.NoError(t, err)

	switched := writeModelConfig(t, data, index, "hash-b")
	_, err = execute(t, "--config", switched)
	assert.ErrorIs(t, err, schema.ErrConfiguration)

	out, err := execute(t, "--config", switched, "--reset")
	require.NoError(t, err)
	assert.Contains(t, out, "1 record(s) written")

	store, err := vectorstore.OpenSQLite(context.Background(), index, "hash-b")
	require.NoError(t, err)
	defer store.Close()
	m, err := store.Manifest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "hash-b", m.EmbeddingModel)
	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
