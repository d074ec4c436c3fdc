package gotrue

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/g4mless/mykelas-web/core"
	"github.com/g4mless/mykelas-web/core/session"
)

type claims struct {
	Email string `json:"email"`
	jwt.StandardClaims
}

// parseClaims reads the access token's claims without verifying its signature. The subject
// must be a uuid.
func parseClaims(accessToken string) (*claims, error) {
	var cl claims
	if _, _, err := new(jwt.Parser).ParseUnverified(accessToken, &cl); err != nil {
		return nil, errors.Wrap(err, "parsing access token")
	}
	if _, err := uuid.Parse(cl.Subject); err != nil {
		return nil, errors.Wrap(err, "access token subject")
	}
	return &cl, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

func (r tokenResponse) session(now time.Time) (*session.Session, error) {
	if r.AccessToken == "" {
		return nil, errors.New("auth server returned no access token")
	}
	sess := &session.Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		User:         session.User{ID: r.User.ID, Email: r.User.Email},
	}
	switch {
	case r.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(r.ExpiresAt, 0)
	case r.ExpiresIn > 0:
		sess.ExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}

	// fill whatever the response left out from the token itself
	if sess.User.ID == "" || sess.ExpiresAt.IsZero() {
		cl, err := parseClaims(r.AccessToken)
		if err != nil {
			return nil, err
		}
		if sess.User.ID == "" {
			sess.User = session.User{ID: cl.Subject, Email: cl.Email}
		}
		if sess.ExpiresAt.IsZero() {
			sess.ExpiresAt = time.Unix(cl.ExpiresAt, 0)
		}
	}
	return sess, nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*session.Session, error) {
	if refreshToken == "" {
		return nil, &Error{StatusCode: http.StatusBadRequest, Message: "missing refresh token"}
	}
	var resp tokenResponse
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", body, &resp); err != nil {
		return nil, err
	}
	return resp.session(c.now())
}

func (c *Client) restore(ctx context.Context) (*session.Session, error) {
	raw, err := c.storage.Get(ctx, core.KeySession)
	if errors.Is(err, core.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading session")
	}
	var sess session.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil || sess.AccessToken == "" {
		c.logger.Warn("dropping unreadable session", map[string]interface{}{"key": core.KeySession})
		return nil, c.forget(ctx)
	}
	return &sess, nil
}

func (c *Client) persist(ctx context.Context, sess *session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "encoding session")
	}
	return errors.Wrap(c.storage.Set(ctx, core.KeySession, string(data)), "saving session")
}

func (c *Client) forget(ctx context.Context) error {
	if err := c.storage.Delete(ctx, core.KeySession); err != nil && !errors.Is(err, core.ErrKeyNotFound) {
		return errors.Wrap(err, "removing session")
	}
	return nil
}
