package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"sync"
)

// InMemoryStore is a BlobStore implementation powered by a map, to be used for
// testing or throwaway servers.
type InMemoryStore struct {
	sync.Mutex
	m map[string][]byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		m: make(map[string][]byte),
	}
}

func (s *InMemoryStore) Put(ctx context.Context, name string, r io.Reader) error {
	if err := checkName(name); err != nil {
		return err
	}
	value, err := ioutil.ReadAll(contextReader{ctx: ctx, r: r})
	if err != nil {
		return fmt.Errorf("could not read %q: %w", name, err)
	}
	s.Lock()
	s.m[name] = value
	s.Unlock()
	return nil
}

func (s *InMemoryStore) Exists(_ context.Context, name string) (bool, error) {
	s.Lock()
	_, ok := s.m[name]
	s.Unlock()
	return ok, nil
}

func (s *InMemoryStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	s.Lock()
	value, ok := s.m[name]
	s.Unlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	// Stored slices are never mutated, only replaced, so sharing is fine.
	return ioutil.NopCloser(bytes.NewReader(value)), nil
}

func (s *InMemoryStore) Delete(_ context.Context, name string) error {
	s.Lock()
	defer s.Unlock()
	if _, ok := s.m[name]; !ok {
		return fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	delete(s.m, name)
	return nil
}

func (s *InMemoryStore) List(_ context.Context) ([]string, error) {
	s.Lock()
	defer s.Unlock()
	names := make([]string, 0, len(s.m))
	for name := range s.m {
		names = append(names, name)
	}
	return names, nil
}
