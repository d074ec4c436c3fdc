package session

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/g4mless/mykelas-web/core"
)

// State of a Store.
type State int

const (
	// Unknown is the initial state: the provider has not been consulted yet.
	Unknown State = iota
	Authenticated
	Anonymous
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Snapshot is a copy of the store's state at one point in time. Seq grows with every
// change, so a listener can tell a late delivery of an older snapshot from a newer one.
type Snapshot struct {
	State   State
	Session *Session
	Seq     uint64
}

// UserID returns the session's user id, or "" without a session.
func (s Snapshot) UserID() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.User.ID
}

// AccessToken returns the session's bearer token, or "" without a session.
func (s Snapshot) AccessToken() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.AccessToken
}

// Listener receives every state change of a Store.
type Listener func(Snapshot)

// Store owns the current session. It leaves Unknown only through Init; afterwards every
// provider notification replaces the session unconditionally.
type Store struct {
	provider Provider
	storage  core.Storage
	logger   core.Logger

	mu        sync.Mutex
	state     State
	session   *Session
	seq       uint64
	buffered  bool // a notification arrived while Unknown
	pending   *Session
	listeners map[int]Listener
	nextID    int

	unsubscribe func()
}

// NewStore subscribes to the provider right away so no notification is lost before Init.
func NewStore(provider Provider, storage core.Storage, logger core.Logger) *Store {
	s := &Store{
		provider:  provider,
		storage:   storage,
		logger:    logger,
		listeners: make(map[int]Listener),
	}
	s.unsubscribe = provider.Subscribe(s.onProviderEvent)
	return s
}

// Init queries the provider once for an existing session. A notification received while
// the query was outstanding is newer than the query's answer and wins over it.
func (s *Store) Init(ctx context.Context) error {
	sess, err := s.provider.GetSession(ctx)
	if err != nil {
		s.logger.Warn("restoring session", errors.Wrap(err, "restoring session"))
		sess = nil
	}

	s.mu.Lock()
	if s.state != Unknown {
		s.mu.Unlock()
		return nil
	}
	if s.buffered {
		sess = s.pending
		s.buffered, s.pending = false, nil
	}
	snap := s.setLocked(sess)
	listeners := s.listenersLocked()
	s.mu.Unlock()

	notify(listeners, snap)
	return nil
}

// Close stops listening to the provider.
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *Store) onProviderEvent(event Event, sess *Session) {
	s.logger.Debug("session changed", map[string]interface{}{"event": string(event)})

	s.mu.Lock()
	if s.state == Unknown {
		s.buffered, s.pending = true, copySession(sess)
		s.mu.Unlock()
		return
	}
	snap := s.setLocked(sess)
	listeners := s.listenersLocked()
	s.mu.Unlock()

	notify(listeners, snap)
}

func (s *Store) setLocked(sess *Session) Snapshot {
	s.session = copySession(sess)
	if s.session != nil {
		s.state = Authenticated
	} else {
		s.state = Anonymous
	}
	s.seq++
	return Snapshot{State: s.state, Session: copySession(s.session), Seq: s.seq}
}

func (s *Store) listenersLocked() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func notify(listeners []Listener, snap Snapshot) {
	for _, l := range listeners {
		l(snap)
	}
}

// Subscribe registers l for every state change after this call. Listeners run outside the
// store's lock, on the goroutine that caused the change, so changes made on different
// goroutines may arrive out of order; compare Seq to drop older ones.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Current returns a snapshot of the store.
func (s *Store) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state, Session: copySession(s.session), Seq: s.seq}
}

// OTPEmail returns the address the last code was sent to, or "".
func (s *Store) OTPEmail(ctx context.Context) (string, error) {
	email, err := s.storage.Get(ctx, core.KeyOTPEmail)
	if errors.Is(err, core.ErrKeyNotFound) {
		return "", nil
	}
	return email, err
}

// SetOTPEmail persists the pending OTP address; an empty email removes it.
func (s *Store) SetOTPEmail(ctx context.Context, email string) error {
	if email == "" {
		if err := s.storage.Delete(ctx, core.KeyOTPEmail); err != nil && !errors.Is(err, core.ErrKeyNotFound) {
			return errors.Wrap(err, "clearing otp email")
		}
		return nil
	}
	return errors.Wrap(s.storage.Set(ctx, core.KeyOTPEmail, email), "saving otp email")
}

// SendOTP asks the provider to email a one-time code. The address is remembered only when
// the provider accepted it. Provider errors are returned as is.
func (s *Store) SendOTP(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := core.ValidateVar("email", email, "required,email"); err != nil {
		return err
	}
	if err := s.provider.SendOTP(ctx, email); err != nil {
		return err
	}
	return s.SetOTPEmail(ctx, email)
}

// VerifyOTP checks code against email (the pending OTP address when email is empty). The
// session itself arrives through the provider's notification. On failure the pending
// address is kept.
func (s *Store) VerifyOTP(ctx context.Context, email, code string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		var err error
		if email, err = s.OTPEmail(ctx); err != nil {
			return err
		}
	}
	if err := core.ValidateVar("email", email, "required,email"); err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	if err := core.ValidateVar("token", code, "otp"); err != nil {
		return err
	}

	if err := s.provider.VerifyOTP(ctx, email, code); err != nil {
		return err
	}
	return s.SetOTPEmail(ctx, "")
}

// SignOut signs out with the provider and forgets the pending OTP address, even when the
// provider call failed.
func (s *Store) SignOut(ctx context.Context) error {
	err := s.provider.SignOut(ctx)
	if cErr := s.SetOTPEmail(ctx, ""); cErr != nil && err == nil {
		err = cErr
	}
	return err
}

// AdoptSession hands an externally issued token pair (teacher login) to the provider.
func (s *Store) AdoptSession(ctx context.Context, accessToken, refreshToken string) error {
	if accessToken == "" || refreshToken == "" {
		return core.NewValidationError(errors.New("invalid session"), core.FieldError{Field: "access_token", Error: "a token pair is required"})
	}
	return s.provider.SetSession(ctx, accessToken, refreshToken)
}

func copySession(sess *Session) *Session {
	if sess == nil {
		return nil
	}
	cp := *sess
	return &cp
}
