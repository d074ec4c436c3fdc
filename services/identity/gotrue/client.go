// Package gotrue is a session.Provider backed by a hosted GoTrue (Supabase Auth) server.
//
// The session is persisted in core.Storage under core.KeySession, restored on the first
// GetSession and, when auto refresh is on, refreshed in the background shortly before the
// access token expires.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/g4mless/mykelas-web/core"
	"github.com/g4mless/mykelas-web/core/session"
)

const (
	defaultRefreshMargin = 60 * time.Second
	retryDelay           = 10 * time.Second
	idleWait             = time.Hour
)

// Error is a non-2xx answer of the auth server.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string { return e.Message }

type Client struct {
	baseURL     string
	anonKey     string
	httpClient  *http.Client
	storage     core.Storage
	logger      core.Logger
	autoRefresh bool
	margin      time.Duration
	now         func() time.Time

	mu      sync.Mutex
	current *session.Session
	loaded  bool
	subs    map[int]func(session.Event, *session.Session)
	nextSub int
	stop    chan struct{}
	kick    chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

var _ session.Provider = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(conf core.IdentityConfig, storage core.Storage, logger core.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(conf.URL, "/") + "/auth/v1",
		anonKey:     conf.AnonKey,
		httpClient:  http.DefaultClient,
		storage:     storage,
		logger:      logger,
		autoRefresh: conf.AutoRefresh,
		margin:      conf.RefreshMargin,
		now:         time.Now,
		subs:        make(map[int]func(session.Event, *session.Session)),
	}
	if c.margin <= 0 {
		c.margin = defaultRefreshMargin
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetSession restores the persisted session on first use. An expired session is refreshed;
// one that cannot be refreshed is dropped.
func (c *Client) GetSession(ctx context.Context) (*session.Session, error) {
	c.mu.Lock()
	if c.loaded {
		cur := copySession(c.current)
		c.mu.Unlock()
		return cur, nil
	}
	c.mu.Unlock()

	sess, err := c.restore(ctx)
	if err != nil {
		return nil, err
	}
	if sess != nil && c.now().Add(c.margin).After(sess.ExpiresAt) {
		refreshed, err := c.refresh(ctx, sess.RefreshToken)
		if err != nil {
			c.logger.Warn("dropping persisted session", errors.Wrap(err, "refreshing persisted session"))
			if err := c.forget(ctx); err != nil {
				return nil, err
			}
			sess = nil
		} else {
			if err := c.persist(ctx, refreshed); err != nil {
				return nil, err
			}
			sess = refreshed
		}
	}

	c.mu.Lock()
	c.current, c.loaded = sess, true
	c.mu.Unlock()
	c.startRefresher()
	return copySession(sess), nil
}

// SendOTP emails a one-time code, creating the user when needed.
func (c *Client) SendOTP(ctx context.Context, email string) error {
	body := map[string]interface{}{"email": email, "create_user": true}
	return c.do(ctx, http.MethodPost, "/otp", "", body, nil)
}

// VerifyOTP exchanges an emailed code for a session and announces SIGNED_IN.
func (c *Client) VerifyOTP(ctx context.Context, email, code string) error {
	var resp tokenResponse
	body := map[string]string{"type": "email", "email": email, "token": code}
	if err := c.do(ctx, http.MethodPost, "/verify", "", body, &resp); err != nil {
		return err
	}
	sess, err := resp.session(c.now())
	if err != nil {
		return err
	}
	return c.apply(ctx, session.EventSignedIn, sess)
}

// SetSession adopts a token pair issued elsewhere. The user comes from the access token's
// claims; the signature is the server's business.
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) error {
	cl, err := parseClaims(accessToken)
	if err != nil {
		return err
	}
	sess := &session.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Unix(cl.ExpiresAt, 0),
		User:         session.User{ID: cl.Subject, Email: cl.Email},
	}
	if cl.ExpiresAt == 0 {
		sess.ExpiresAt = c.now().Add(time.Hour)
	}
	return c.apply(ctx, session.EventSignedIn, sess)
}

// SignOut revokes the session server side when possible and always forgets it locally.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	cur := copySession(c.current)
	c.mu.Unlock()

	var err error
	if cur != nil {
		err = c.do(ctx, http.MethodPost, "/logout?scope=global", cur.AccessToken, nil, nil)
		var authErr *Error
		if errors.As(err, &authErr) && (authErr.StatusCode == http.StatusUnauthorized || authErr.StatusCode == http.StatusNotFound) {
			err = nil // already gone
		}
	}
	if fErr := c.apply(ctx, session.EventSignedOut, nil); fErr != nil && err == nil {
		err = fErr
	}
	return err
}

func (c *Client) Subscribe(fn func(session.Event, *session.Session)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Close stops the background refresher.
func (c *Client) Close() {
	c.mu.Lock()
	stop := c.stop
	c.stop, c.closed = nil, true
	c.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	c.wg.Wait()
}

// apply makes sess current, persists it and tells subscribers.
func (c *Client) apply(ctx context.Context, event session.Event, sess *session.Session) error {
	var err error
	if sess == nil {
		err = c.forget(ctx)
	} else {
		err = c.persist(ctx, sess)
	}

	c.mu.Lock()
	c.current, c.loaded = copySession(sess), true
	subs := make([]func(session.Event, *session.Session), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	kick := c.kick
	c.mu.Unlock()

	if kick != nil {
		select {
		case kick <- struct{}{}:
		default:
		}
	}
	for _, fn := range subs {
		fn(event, copySession(sess))
	}
	c.startRefresher()
	return err
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding auth request")
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return errors.Wrap(err, "building auth request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)
	if token == "" {
		token = c.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "auth %s", path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "reading auth %s", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(data, out), "decoding auth %s", path)
}

func decodeError(resp *http.Response, data []byte) error {
	e := &Error{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var payload struct {
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
		Error            string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil {
		for _, m := range []string{payload.Msg, payload.Message, payload.ErrorDescription, payload.Error} {
			if m != "" {
				e.Message = m
				break
			}
		}
	}
	return e
}

func copySession(sess *session.Session) *session.Session {
	if sess == nil {
		return nil
	}
	cp := *sess
	return &cp
}
