package memory

import (
	"context"
	"sync"

	"github.com/pardot/oidcservice/storage"
)

var _ storage.Storage = (*Storage)(nil)
var _ storage.Updater = (*Storage)(nil)

// Storage is an in-memory implementation of storage.Storage. It should only be
// used for testing or single process clients. All data will be lost when the
// process ends.
type Storage struct {
	sync.Mutex
	m map[string]string
}

func New() *Storage {
	return &Storage{
		m: make(map[string]string),
	}
}

func (s *Storage) Get(_ context.Context, key string) (string, error) {
	s.Lock()
	defer s.Unlock()

	v, ok := s.m[key]
	if !ok {
		return "", &storage.NotFoundError{Key: key}
	}
	return v, nil
}

func (s *Storage) Set(_ context.Context, key, value string) error {
	s.Lock()
	defer s.Unlock()

	s.m[key] = value
	return nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	s.Lock()
	defer s.Unlock()

	delete(s.m, key)
	return nil
}

// Update runs fn with the lock held, so it is atomic with respect to every
// other operation on the store.
func (s *Storage) Update(_ context.Context, key string, fn storage.UpdateFunc) error {
	s.Lock()
	defer s.Unlock()

	old, found := s.m[key]
	nv, err := fn(old, found)
	if err != nil {
		return err
	}
	s.m[key] = nv
	return nil
}

// Len returns the number of keys held.
func (s *Storage) Len() int {
	s.Lock()
	defer s.Unlock()

	return len(s.m)
}
