package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/g4mless/mykelas-web/core/session"
)

// ErrInvalidOTP is returned by FakeProvider.VerifyOTP for a wrong code.
var ErrInvalidOTP = errors.New("Token has expired or is invalid")

// FakeProvider is an in-memory session.Provider. Notifications are delivered synchronously.
type FakeProvider struct {
	// Code is the one-time code every SendOTP "emails". Defaults to 123456.
	Code string
	// SendErr, when set, fails SendOTP.
	SendErr error
	// GetSessionHook, when set, runs at the start of GetSession.
	GetSessionHook func()

	mu      sync.Mutex
	current *session.Session
	sent    []string
	tokens  map[string]session.User // access token -> user, for SetSession
	subs    map[int]func(session.Event, *session.Session)
	nextSub int
}

var _ session.Provider = (*FakeProvider)(nil)

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		Code:   "123456",
		tokens: make(map[string]session.User),
		subs:   make(map[int]func(session.Event, *session.Session)),
	}
}

// NewSession builds a one hour session for userID.
func NewSession(userID, email, token string) *session.Session {
	return &session.Session{
		AccessToken:  token,
		RefreshToken: "refresh-" + token,
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         session.User{ID: userID, Email: email},
	}
}

// Restore makes sess the session returned by GetSession without notifying anyone.
func (p *FakeProvider) Restore(sess *session.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = sess
}

// RegisterToken makes SetSession adopt token as usr. Unregistered tokens are adopted as
// user "user:<token>".
func (p *FakeProvider) RegisterToken(token string, usr session.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[token] = usr
}

// Emit replaces the current session and notifies every subscriber.
func (p *FakeProvider) Emit(event session.Event, sess *session.Session) {
	p.mu.Lock()
	p.current = sess
	subs := make([]func(session.Event, *session.Session), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(event, sess)
	}
}

// Sent lists the addresses SendOTP accepted.
func (p *FakeProvider) Sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

func (p *FakeProvider) GetSession(context.Context) (*session.Session, error) {
	if p.GetSessionHook != nil {
		p.GetSessionHook()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

func (p *FakeProvider) SendOTP(_ context.Context, email string) error {
	if p.SendErr != nil {
		return p.SendErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, email)
	return nil
}

// VerifyOTP signs in "user:<email>" with token "token:<email>" when code matches.
func (p *FakeProvider) VerifyOTP(_ context.Context, email, code string) error {
	if code != p.Code {
		return ErrInvalidOTP
	}
	p.Emit(session.EventSignedIn, NewSession("user:"+email, email, "token:"+email))
	return nil
}

func (p *FakeProvider) SetSession(_ context.Context, access, refresh string) error {
	if access == "" {
		return errors.New("invalid JWT")
	}
	p.mu.Lock()
	usr, ok := p.tokens[access]
	p.mu.Unlock()
	if !ok {
		usr = session.User{ID: "user:" + access}
	}
	sess := NewSession(usr.ID, usr.Email, access)
	sess.RefreshToken = refresh
	p.Emit(session.EventSignedIn, sess)
	return nil
}

func (p *FakeProvider) SignOut(context.Context) error {
	p.Emit(session.EventSignedOut, nil)
	return nil
}

func (p *FakeProvider) Subscribe(fn func(session.Event, *session.Session)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
func (NopLogger) Fatal(string, ...interface{}) {}
