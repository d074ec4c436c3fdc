// Package teacher holds the signed-in teacher's identity and the teacher-side operations.
package teacher

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/g4mless/mykelas-web/core"
	"github.com/g4mless/mykelas-web/core/klasapi"
)

// Store keeps the teacher profile in durable storage. The profile is trusted as is: it may
// outlive the session it was created with.
type Store struct {
	storage core.Storage
	logger  core.Logger

	mu      sync.RWMutex
	teacher *klasapi.Teacher
}

func NewStore(storage core.Storage, logger core.Logger) *Store {
	return &Store{storage: storage, logger: logger}
}

// Init reads the persisted profile. A record that cannot be decoded is dropped.
func (s *Store) Init(ctx context.Context) error {
	raw, err := s.storage.Get(ctx, core.KeyTeacher)
	if errors.Is(err, core.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "reading teacher profile")
	}

	var t klasapi.Teacher
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		s.logger.Warn("dropping unreadable teacher profile", errors.Wrap(err, "decoding teacher profile"))
		return s.SetTeacher(ctx, nil)
	}

	s.mu.Lock()
	s.teacher = &t
	s.mu.Unlock()
	return nil
}

// Teacher returns a copy of the profile, or nil.
func (s *Store) Teacher() *klasapi.Teacher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.teacher == nil {
		return nil
	}
	cp := *s.teacher
	return &cp
}

// SetTeacher persists t; nil removes the persisted record.
func (s *Store) SetTeacher(ctx context.Context, t *klasapi.Teacher) error {
	if t == nil {
		if err := s.storage.Delete(ctx, core.KeyTeacher); err != nil && !errors.Is(err, core.ErrKeyNotFound) {
			return errors.Wrap(err, "removing teacher profile")
		}
		s.mu.Lock()
		s.teacher = nil
		s.mu.Unlock()
		return nil
	}

	data, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "encoding teacher profile")
	}
	if err := s.storage.Set(ctx, core.KeyTeacher, string(data)); err != nil {
		return errors.Wrap(err, "saving teacher profile")
	}
	cp := *t
	s.mu.Lock()
	s.teacher = &cp
	s.mu.Unlock()
	return nil
}
