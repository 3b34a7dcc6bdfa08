package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Temporary files are created in the store's own directory so that the final
// rename does not cross file systems. They are never listed.
const tempPrefix = ".tmp-"

// DiskStore implements BlobStore with one file per blob in a single directory.
type DiskStore struct {
	dir string
}

// NewDiskStore ensures dir exists and returns a store rooted there.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("could not ensure directory %q exists: %w", dir, err)
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) Put(ctx context.Context, name string, r io.Reader) (err error) {
	if err := checkName(name); err != nil {
		return err
	}
	f, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("could not create temporary file for %q: %w", name, err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			if rerr := os.Remove(f.Name()); rerr != nil && !os.IsNotExist(rerr) {
				log.WithFields(log.Fields{
					"err":  rerr,
					"path": f.Name(),
				}).Warn("Could not remove temporary file")
			}
		}
	}()
	if _, err = io.Copy(f, contextReader{ctx: ctx, r: r}); err != nil {
		return fmt.Errorf("could not write %q: %w", name, err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("could not sync %q: %w", name, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("could not close %q: %w", name, err)
	}
	if err = os.Rename(f.Name(), s.pathFor(name)); err != nil {
		return fmt.Errorf("could not move %q into place: %w", name, err)
	}
	return nil
}

func (s *DiskStore) Exists(_ context.Context, name string) (bool, error) {
	if err := checkName(name); err != nil {
		return false, err
	}
	info, err := os.Stat(s.pathFor(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("could not stat %q: %w", name, err)
	}
	return info.Mode().IsRegular(), nil
}

func (s *DiskStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(s.pathFor(name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("could not open %q: %w", name, err)
	}
	return f, nil
}

func (s *DiskStore) Delete(_ context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	err := os.Remove(s.pathFor(name))
	if os.IsNotExist(err) {
		return fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("could not remove %q: %w", name, err)
	}
	return nil
}

func (s *DiskStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("could not read directory %q: %w", s.dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (s *DiskStore) pathFor(name string) string {
	return filepath.Join(s.dir, name)
}

// contextReader stops a copy as soon as the context is done, e.g., when the
// uploading client goes away.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
