// Package session holds the current authentication session and mirrors the identity
// provider's notifications to subscribers.
package session

import (
	"context"
	"time"
)

// Event names a provider-pushed session change.
type Event string

const (
	EventInitialSession Event = "INITIAL_SESSION"
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

type (
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}

	Session struct {
		AccessToken  string    `json:"access_token"`
		RefreshToken string    `json:"refresh_token"`
		ExpiresAt    time.Time `json:"expires_at"`
		User         User      `json:"user"`
	}
)

// Expired reports whether the access token has expired at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Provider is the hosted identity provider. Session changes caused by any of its methods
// (or by background refresh) are announced through Subscribe, never returned directly.
type Provider interface {
	// GetSession returns the persisted session, or nil when there is none.
	GetSession(ctx context.Context) (*Session, error)
	SendOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) error
	// SetSession adopts an access/refresh pair obtained outside the provider.
	SetSession(ctx context.Context, accessToken, refreshToken string) error
	SignOut(ctx context.Context) error
	// Subscribe registers fn for session changes; the returned func unregisters it.
	Subscribe(fn func(Event, *Session)) (unsubscribe func())
}
