package inmem

import (
	"context"
	"sync"

	"github.com/g4mless/mykelas-web/core"
)

// Store keeps values in process memory; nothing survives a restart.
type Store struct {
	mutex sync.RWMutex
	table map[string]string
}

var _ core.Storage = (*Store)(nil)

func NewStore() *Store {
	return &Store{table: make(map[string]string)}
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	val, ok := s.table[key]
	if !ok {
		return "", core.ErrKeyNotFound
	}
	return val, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.table[key] = value
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.table, key)
	return nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.table)
}
