package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

const (
	schemaStmt = `
CREATE TABLE IF NOT EXISTS uploads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	lookup_key TEXT UNIQUE NOT NULL,
	deletion_key TEXT UNIQUE NOT NULL,
	file_extension TEXT NOT NULL
);
`
	insertStmt = `
INSERT INTO uploads (lookup_key, deletion_key, file_extension) VALUES (?, ?, ?)
`
	byLookupKeyStmt = `
SELECT lookup_key, deletion_key, file_extension FROM uploads WHERE lookup_key = ?
`
	byDeletionKeyStmt = `
SELECT lookup_key, deletion_key, file_extension FROM uploads WHERE deletion_key = ?
`
	deleteStmt = `
DELETE FROM uploads WHERE deletion_key = ?
`
	listStmt = `
SELECT lookup_key, deletion_key, file_extension FROM uploads
`
)

// SQLiteStore is an implementation of Store backed by a SQLite database. The
// underlying *sql.DB is a connection pool shared by all callers.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// uploads table exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database %q: %w", path, err)
	}
	s := &SQLiteStore{db: db}
	if err := s.createTableIfAbsent(); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return s, nil
}

func (s *SQLiteStore) createTableIfAbsent() error {
	if _, err := s.db.Exec(schemaStmt); err != nil {
		return fmt.Errorf("could not ensure uploads table exists: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Insert(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx, insertStmt, r.LookupKey, r.DeletionKey, r.Extension)
	if err != nil {
		var serr sqlite3.Error
		if errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%.10s: %v: %w", r.LookupKey, err, ErrConflict)
		}
		return fmt.Errorf("could not insert %.10s: %w", r.LookupKey, err)
	}
	return nil
}

func (s *SQLiteStore) FindByLookupKey(ctx context.Context, key string) (Record, error) {
	return s.findOne(ctx, byLookupKeyStmt, key)
}

func (s *SQLiteStore) FindByDeletionKey(ctx context.Context, key string) (Record, error) {
	return s.findOne(ctx, byDeletionKeyStmt, key)
}

func (s *SQLiteStore) findOne(ctx context.Context, stmt string, key string) (r Record, err error) {
	err = s.db.QueryRowContext(ctx, stmt, key).Scan(&r.LookupKey, &r.DeletionKey, &r.Extension)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%.10s: %w", key, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("could not look up %.10s: %w", key, err)
	}
	return r, nil
}

func (s *SQLiteStore) DeleteByDeletionKey(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, deleteStmt, key)
	if err != nil {
		return fmt.Errorf("could not delete %.10s: %w", key, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not delete %.10s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("%.10s: %w", key, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) (records []Record, err error) {
	rows, err := s.db.QueryContext(ctx, listStmt)
	if err != nil {
		return nil, fmt.Errorf("could not list uploads: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.LookupKey, &r.DeletionKey, &r.Extension); err != nil {
			return nil, fmt.Errorf("could not scan upload: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not list uploads: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
