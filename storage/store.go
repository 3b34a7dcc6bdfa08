// Package storage holds the blob stores: places where uploaded file bytes are
// kept, addressed by name. Names are chosen by the caller; the stores do not
// interpret them beyond refusing anything that looks like a path.
package storage // import "github.com/nicolagi/imgdrop/storage"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// BlobStore represents a flat namespace of named byte streams.
type BlobStore interface {
	// Put stores the content read from r under name, replacing any
	// previous content.
	Put(ctx context.Context, name string, r io.Reader) error

	Exists(ctx context.Context, name string) (bool, error)

	// Open should return ErrNotFound if there is no blob with the given name.
	// The caller must close the returned stream.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete should return ErrNotFound if there is no blob with the given name.
	Delete(ctx context.Context, name string) error

	// List returns the names of all blobs, in no particular order.
	List(ctx context.Context) ([]string, error)
}

var (
	// ErrNotFound indicates a blob is not in the store.
	ErrNotFound = errors.New("not found")

	// ErrInvalidName indicates a name that cannot be used for a blob.
	ErrInvalidName = errors.New("invalid blob name")
)

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, tempPrefix) {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return nil
}
