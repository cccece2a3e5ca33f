package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"ragdesk/backend/go/internal/embedding"
	"ragdesk/backend/go/internal/rag_service/rag/interfaces"
	"ragdesk/backend/go/internal/rag_service/rag/schema"
	"ragdesk/backend/go/internal/rag_service/rag/storages/vectorstore/migrations"
)

// IndexFileName is the database file created inside the index directory.
const IndexFileName = "index.db"

const (
	manifestKeyModel     = "embedding_model"
	manifestKeyDimension = "dimension"
	manifestKeyCreatedAt = "created_at"
)

// SQLiteStore persists records in a local SQLite file and answers queries by
// exact cosine search over an in-memory snapshot of every vector.
//
// Writes commit in one transaction before the snapshot is swapped, so a
// reader never observes part of a batch. Rows committed by another process
// are picked up on the next query.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	model string
	mu    sync.Mutex // serialises writers and reloads
	snap  atomic.Pointer[snapshot]
}

// OpenSQLite opens or creates the index under dir for vectors produced by model.
// Any failure to open is a configuration error.
func OpenSQLite(ctx context.Context, dir, model string) (*SQLiteStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: index path is empty", schema.ErrConfiguration)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating index directory: %w", schema.ErrConfiguration, err)
	}

	dbPath := filepath.Join(dir, IndexFileName)
	// WAL lets the serving process read while an ingest process writes
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: opening index: %w", schema.ErrConfiguration, err)
	}

	s := &SQLiteStore{db: db, path: dbPath, model: model}
	if err := s.migrate(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: preparing index %s: %w", schema.ErrConfiguration, dbPath, err)
	}
	snap, err := s.load(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: reading index %s: %w", schema.ErrConfiguration, dbPath, err)
	}
	s.snap.Store(snap)
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// migrate runs all pending migrations.
func (s *SQLiteStore) migrate(ctx context.Context, fsys fs.FS) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	// "001_initial.up.sql" -> 1
	versions := make(map[string]int, len(upFiles))
	latest := 0
	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		versions[name] = version
		latest = max(latest, version)
	}
	if currentVersion > latest {
		return fmt.Errorf("%w: index schema version %d is newer than the supported version %d",
			schema.ErrConfiguration, currentVersion, latest)
	}

	for _, name := range upFiles {
		version, ok := versions[name]
		if !ok || version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// load reads the manifest and every record.
func (s *SQLiteStore) load(ctx context.Context) (*snapshot, error) {
	manifest, err := s.readManifest(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id, chunk_id, text, vector, metadata FROM records ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	snap := &snapshot{manifest: manifest}
	for rows.Next() {
		var (
			rowID    int64
			chunkID  string
			text     string
			blob     []byte
			metaJSON string
		)
		if err := rows.Scan(&rowID, &chunkID, &text, &blob, &metaJSON); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		vec, err := embedding.DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", rowID, err)
		}
		var flat map[string]string
		if err := json.Unmarshal([]byte(metaJSON), &flat); err != nil {
			return nil, fmt.Errorf("record %d metadata: %w", rowID, err)
		}
		md := make(map[string]interface{}, len(flat))
		for k, v := range flat {
			md[k] = v
		}
		snap.records = append(snap.records, &schema.Document{ID: chunkID, Text: text, Embedding: vec, Metadata: md})
		snap.lastID = rowID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) readManifest(ctx context.Context) (*schema.Manifest, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM manifest")
	if err != nil {
		return nil, fmt.Errorf("querying manifest: %w", err)
	}
	defer rows.Close()

	values := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning manifest: %w", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}

	dim, err := strconv.Atoi(values[manifestKeyDimension])
	if err != nil {
		return nil, fmt.Errorf("manifest dimension %q: %w", values[manifestKeyDimension], err)
	}
	created, _ := time.Parse(time.RFC3339Nano, values[manifestKeyCreatedAt])
	return &schema.Manifest{
		EmbeddingModel: values[manifestKeyModel],
		Dimension:      dim,
		CreatedAt:      created,
	}, nil
}

// Add appends docs in a single transaction.
func (s *SQLiteStore) Add(ctx context.Context, docs []*schema.Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refreshLocked(ctx); err != nil {
		return err
	}
	cur := s.snap.Load()
	dim, err := checkBatch(docs, cur.manifest, s.model)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	manifest := cur.manifest
	if manifest == nil {
		manifest = &schema.Manifest{EmbeddingModel: s.model, Dimension: dim, CreatedAt: time.Now().UTC()}
		for k, v := range map[string]string{
			manifestKeyModel:     manifest.EmbeddingModel,
			manifestKeyDimension: strconv.Itoa(manifest.Dimension),
			manifestKeyCreatedAt: manifest.CreatedAt.Format(time.RFC3339Nano),
		} {
			if _, err := tx.ExecContext(ctx, "INSERT INTO manifest (key, value) VALUES (?, ?)", k, v); err != nil {
				return fmt.Errorf("writing manifest: %w", err)
			}
		}
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO records (chunk_id, text, vector, metadata) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	next := &snapshot{
		records:  make([]*schema.Document, 0, len(cur.records)+len(docs)),
		manifest: manifest,
	}
	next.records = append(next.records, cur.records...)
	for _, d := range docs {
		flat := d.StringMetadata()
		metaJSON, err := json.Marshal(flat)
		if err != nil {
			return fmt.Errorf("marshalling metadata of %s: %w", d.ID, err)
		}
		res, err := stmt.ExecContext(ctx, d.ID, d.Text, embedding.EncodeVector(d.Embedding), string(metaJSON))
		if err != nil {
			return fmt.Errorf("inserting record %s: %w", d.ID, err)
		}
		if next.lastID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("reading row id: %w", err)
		}

		stored := storedCopy(d)
		stored.Metadata = make(map[string]interface{}, len(flat))
		for k, v := range flat {
			stored.Metadata[k] = v
		}
		next.records = append(next.records, stored)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing records: %w", err)
	}
	s.snap.Store(next)
	return nil
}

// Query returns the topK most similar records.
func (s *SQLiteStore) Query(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]schema.SearchResult, error) {
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	cur := s.snap.Load()
	if err := checkQuery(embedding, topK, cur.manifest); err != nil {
		return nil, err
	}
	return rank(cur.records, embedding, topK, filters), nil
}

// refresh reloads the snapshot when another connection changed the records table.
func (s *SQLiteStore) refresh(ctx context.Context) error {
	stale, err := s.stale(ctx)
	if err != nil || !stale {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *SQLiteStore) refreshLocked(ctx context.Context) error {
	stale, err := s.stale(ctx)
	if err != nil || !stale {
		return err
	}
	snap, err := s.load(ctx)
	if err != nil {
		return fmt.Errorf("%w: reloading index: %w", schema.ErrRetrievalUnavailable, err)
	}
	s.snap.Store(snap)
	return nil
}

func (s *SQLiteStore) stale(ctx context.Context) (bool, error) {
	var lastID, count int64
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0), COUNT(*) FROM records").Scan(&lastID, &count)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		return false, fmt.Errorf("%w: reading index state: %w", schema.ErrRetrievalUnavailable, err)
	}
	cur := s.snap.Load()
	return lastID != cur.lastID || int(count) != len(cur.records), nil
}

// Exists reports whether the index holds any record.
func (s *SQLiteStore) Exists(ctx context.Context) (bool, error) {
	if err := s.refresh(ctx); err != nil {
		return false, err
	}
	return len(s.snap.Load().records) > 0, nil
}

// Count returns the number of records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	if err := s.refresh(ctx); err != nil {
		return 0, err
	}
	return len(s.snap.Load().records), nil
}

// Manifest returns the embedding space description, or nil while the index is empty.
func (s *SQLiteStore) Manifest(ctx context.Context) (*schema.Manifest, error) {
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	m := s.snap.Load().manifest
	if m == nil {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

// Reset deletes every record and the manifest.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range []string{"DELETE FROM records", "DELETE FROM manifest"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("resetting index: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reset: %w", err)
	}
	s.snap.Store(&snapshot{})
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// compile-time check to ensure SQLiteStore implements the VectorStore interface
var _ interfaces.VectorStore = (*SQLiteStore)(nil)
