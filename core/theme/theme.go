// Package theme persists the colour theme preference.
package theme

import (
	"context"
	"strings"
	"sync"

	"github.com/muesli/termenv"
	"github.com/pkg/errors"

	"github.com/g4mless/mykelas-web/core"
)

type Theme string

const (
	Light  Theme = "light"
	Dark   Theme = "dark"
	System Theme = "system"
)

// Parse accepts light, dark or system in any case.
func Parse(s string) (Theme, bool) {
	switch t := Theme(strings.ToLower(strings.TrimSpace(s))); t {
	case Light, Dark, System:
		return t, true
	}
	return "", false
}

// Store holds the preference. System is resolved against the terminal background.
type Store struct {
	storage core.Storage
	isDark  func() bool

	mu         sync.RWMutex
	preference Theme
}

type Option func(*Store)

// WithDarkDetector replaces terminal background detection.
func WithDarkDetector(fn func() bool) Option {
	return func(s *Store) { s.isDark = fn }
}

func NewStore(storage core.Storage, opts ...Option) *Store {
	s := &Store{storage: storage, isDark: termenv.HasDarkBackground, preference: System}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init reads the stored preference; anything unrecognised means System.
func (s *Store) Init(ctx context.Context) error {
	raw, err := s.storage.Get(ctx, core.KeyTheme)
	if err != nil && !errors.Is(err, core.ErrKeyNotFound) {
		return errors.Wrap(err, "reading theme")
	}
	t, ok := Parse(raw)
	if !ok {
		t = System
	}
	s.mu.Lock()
	s.preference = t
	s.mu.Unlock()
	return nil
}

func (s *Store) Preference() Theme {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preference
}

// Resolved returns Light or Dark.
func (s *Store) Resolved() Theme {
	if p := s.Preference(); p != System {
		return p
	}
	if s.isDark() {
		return Dark
	}
	return Light
}

func (s *Store) Set(ctx context.Context, t Theme) error {
	if _, ok := Parse(string(t)); !ok {
		return core.NewValidationError(errors.New("invalid theme"), core.FieldError{Field: "theme", Error: "theme must be light, dark or system"})
	}
	if err := s.storage.Set(ctx, core.KeyTheme, string(t)); err != nil {
		return errors.Wrap(err, "saving theme")
	}
	s.mu.Lock()
	s.preference = t
	s.mu.Unlock()
	return nil
}

// Toggle switches to the opposite of the resolved theme and returns it.
func (s *Store) Toggle(ctx context.Context) (Theme, error) {
	next := Dark
	if s.Resolved() == Dark {
		next = Light
	}
	return next, s.Set(ctx, next)
}
