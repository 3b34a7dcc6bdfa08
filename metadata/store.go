// Package metadata keeps the table of uploads: for each stored file, its
// lookup key, its deletion key and its extension. Both keys are unique across
// all records, which every backend enforces on insert.
package metadata // import "github.com/nicolagi/imgdrop/metadata"

import (
	"context"
	"errors"
)

// Record describes one stored file. Records are immutable: they are inserted
// once and eventually deleted, never updated.
type Record struct {
	LookupKey   string `json:"lookup_key"`
	DeletionKey string `json:"deletion_key"`

	// Extension includes the leading dot, e.g., ".png".
	Extension string `json:"file_extension"`
}

// BlobName is the name of the blob holding the record's content.
func (r Record) BlobName() string {
	return r.LookupKey + r.Extension
}

// Store represents the uploads table.
type Store interface {
	// Insert should return ErrConflict if either key is already in use.
	Insert(ctx context.Context, r Record) error

	// The Find methods should return ErrNotFound if no record matches.
	FindByLookupKey(ctx context.Context, key string) (Record, error)
	FindByDeletionKey(ctx context.Context, key string) (Record, error)

	// DeleteByDeletionKey should return ErrNotFound if no record matches.
	DeleteByDeletionKey(ctx context.Context, key string) error

	// List returns all records, in no particular order.
	List(ctx context.Context) ([]Record, error)

	Close() error
}

var (
	// ErrNotFound indicates no record has the given key.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates an insert would violate key uniqueness.
	ErrConflict = errors.New("key already in use")
)
