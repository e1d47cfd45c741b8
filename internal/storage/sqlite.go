package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/mitsuke/internal/corpus"
	"github.com/hyperjump/mitsuke/internal/models"
)

// SQLiteStore implements CorpusStore using SQLite. Vectors are stored as
// little-endian float32 blobs; position preserves corpus order.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ CorpusStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS corpus_entries (
		position INTEGER PRIMARY KEY,
		id TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		shape TEXT NOT NULL DEFAULT '',
		vector BLOB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_corpus_entries_id ON corpus_entries(id);
	`
	_, err := db.Exec(schema)
	return err
}

// Import replaces all stored entries with entries in one transaction.
func (s *SQLiteStore) Import(ctx context.Context, entries []models.CorpusEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM corpus_entries`); err != nil {
		return fmt.Errorf("failed to clear corpus: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO corpus_entries (position, id, dimensions, shape, vector) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, i, e.ID, len(e.Vector), encodeShape(e.Shape), EncodeVector(e.Vector)); err != nil {
			return fmt.Errorf("failed to insert entry %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Load returns all entries ordered by position.
func (s *SQLiteStore) Load(ctx context.Context) ([]models.CorpusEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, shape, vector FROM corpus_entries ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.CorpusEntry
	for rows.Next() {
		var (
			e     models.CorpusEntry
			shape string
			blob  []byte
		)
		if err := rows.Scan(&e.ID, &shape, &blob); err != nil {
			return nil, err
		}
		if e.Vector, err = DecodeVector(blob); err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		if e.Shape, err = decodeShape(shape); err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of stored entries.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM corpus_entries`).Scan(&n)
	return n, err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SQLiteLoader is a corpus.Loader over an existing SQLite corpus database.
// It never creates the database.
type SQLiteLoader struct {
	path string
}

var _ corpus.Loader = (*SQLiteLoader)(nil)

// NewSQLiteLoader returns a loader for the database at path.
func NewSQLiteLoader(path string) *SQLiteLoader {
	return &SQLiteLoader{path: path}
}

// Source implements corpus.Loader.
func (l *SQLiteLoader) Source() string { return "sqlite:" + l.path }

// Load implements corpus.Loader.
func (l *SQLiteLoader) Load(ctx context.Context) ([]models.CorpusEntry, error) {
	if _, err := os.Stat(l.path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", corpus.ErrCorpusAbsent, l.path)
	}
	store, err := NewSQLiteStore(l.path)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Load(ctx)
}
