package gotrue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g4mless/mykelas-web/core"
	"github.com/g4mless/mykelas-web/core/session"
	"github.com/g4mless/mykelas-web/storage/inmem"
	"github.com/g4mless/mykelas-web/tests"
)

const (
	anonKey = "anon-key"
	userID  = "3f6c9a0e-8b1d-4f57-9c2e-0a1b2c3d4e5f"
	email   = "siswa@sekolah.sch.id"
	code    = "482913"
)

func signToken(t *testing.T, sub, mail string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: mail,
		StandardClaims: jwt.StandardClaims{
			Subject:   sub,
			ExpiresAt: exp.Unix(),
			Audience:  "authenticated",
		},
	})
	s, err := tok.SignedString([]byte("super-secret-jwt-token"))
	require.NoError(t, err)
	return s
}

// fakeAuth is a minimal GoTrue server.
type fakeAuth struct {
	t   *testing.T
	srv *httptest.Server

	mu        sync.Mutex
	ttl       time.Duration // of tokens issued by verify; refreshed ones last an hour
	issued    int
	refreshes int
	logouts   int
	otpSent   []string
	apiKeys   []string
	revoked   map[string]bool // refresh tokens
	onRefresh func()          // runs before a refresh is answered
}

func newFakeAuth(t *testing.T) *fakeAuth {
	f := &fakeAuth{t: t, ttl: time.Hour, revoked: make(map[string]bool)}

	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			f.mu.Lock()
			f.apiKeys = append(f.apiKeys, c.Request().Header.Get("apikey"))
			f.mu.Unlock()
			return next(c)
		}
	})
	e.POST("/auth/v1/otp", func(c echo.Context) error {
		var body struct {
			Email      string `json:"email"`
			CreateUser bool   `json:"create_user"`
		}
		if err := c.Bind(&body); err != nil {
			return err
		}
		f.mu.Lock()
		f.otpSent = append(f.otpSent, body.Email)
		f.mu.Unlock()
		return c.JSON(http.StatusOK, map[string]interface{}{})
	})
	e.POST("/auth/v1/verify", func(c echo.Context) error {
		var body struct {
			Type  string `json:"type"`
			Email string `json:"email"`
			Token string `json:"token"`
		}
		if err := c.Bind(&body); err != nil {
			return err
		}
		if body.Type != "email" || body.Token != code {
			return c.JSON(http.StatusForbidden, map[string]interface{}{
				"code": 403, "error_code": "otp_expired", "msg": "Token has expired or is invalid",
			})
		}
		f.mu.Lock()
		ttl := f.ttl
		f.mu.Unlock()
		return c.JSON(http.StatusOK, f.issue(ttl))
	})
	e.POST("/auth/v1/token", func(c echo.Context) error {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := c.Bind(&body); err != nil {
			return err
		}
		f.mu.Lock()
		hook := f.onRefresh
		f.mu.Unlock()
		if hook != nil {
			hook()
		}

		f.mu.Lock()
		revoked := f.revoked[body.RefreshToken]
		f.refreshes++
		f.mu.Unlock()
		if c.QueryParam("grant_type") != "refresh_token" || revoked {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "invalid_grant", "error_description": "Invalid Refresh Token: Refresh Token Not Found",
			})
		}
		return c.JSON(http.StatusOK, f.issue(time.Hour))
	})
	e.POST("/auth/v1/logout", func(c echo.Context) error {
		f.mu.Lock()
		f.logouts++
		f.mu.Unlock()
		return c.NoContent(http.StatusNoContent)
	})

	f.srv = httptest.NewServer(e)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAuth) issue(ttl time.Duration) map[string]interface{} {
	f.mu.Lock()
	f.issued++
	n := f.issued
	f.mu.Unlock()

	exp := time.Now().Add(ttl)
	return map[string]interface{}{
		"access_token":  signToken(f.t, userID, email, exp),
		"token_type":    "bearer",
		"expires_in":    int(ttl.Seconds()),
		"expires_at":    exp.Unix(),
		"refresh_token": "refresh-" + string(rune('a'+n)),
		"user":          map[string]string{"id": userID, "email": email},
	}
}

type recorder struct {
	mu     sync.Mutex
	events []session.Event
	ch     chan session.Event
}

func newRecorder(c *Client) *recorder {
	r := &recorder{ch: make(chan session.Event, 16)}
	c.Subscribe(func(e session.Event, _ *session.Session) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
		select {
		case r.ch <- e:
		default:
		}
	})
	return r
}

func (r *recorder) all() []session.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Event(nil), r.events...)
}

func (f *fakeAuth) counts() (otp []string, refreshes, logouts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.otpSent...), f.refreshes, f.logouts
}

func newClient(t *testing.T, f *fakeAuth, storage core.Storage, autoRefresh bool) *Client {
	c := New(core.IdentityConfig{URL: f.srv.URL + "/", AnonKey: anonKey, AutoRefresh: autoRefresh}, storage, testutil.NopLogger{})
	t.Cleanup(c.Close)
	return c
}

func TestClient_OTPFlow(t *testing.T) {
	ctx := context.Background()
	f := newFakeAuth(t)
	storage := inmem.NewStore()
	c := newClient(t, f, storage, false)
	rec := newRecorder(c)

	sess, err := c.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)

	require.NoError(t, c.SendOTP(ctx, email))
	sent, _, _ := f.counts()
	assert.Equal(t, []string{email}, sent)

	err = c.VerifyOTP(ctx, email, "000000")
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusForbidden, authErr.StatusCode)
	assert.Equal(t, "Token has expired or is invalid", authErr.Message)
	assert.Empty(t, rec.all())

	require.NoError(t, c.VerifyOTP(ctx, email, code))
	assert.Equal(t, []session.Event{session.EventSignedIn}, rec.all())

	sess, err = c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, userID, sess.User.ID)
	assert.Equal(t, email, sess.User.Email)
	assert.False(t, sess.Expired(time.Now()))

	raw, err := storage.Get(ctx, core.KeySession)
	require.NoError(t, err)
	var persisted session.Session
	require.NoError(t, json.Unmarshal([]byte(raw), &persisted))
	assert.Equal(t, sess.AccessToken, persisted.AccessToken)

	f.mu.Lock()
	keys := append([]string(nil), f.apiKeys...)
	f.mu.Unlock()
	assert.NotEmpty(t, keys)
	for _, key := range keys {
		assert.Equal(t, anonKey, key)
	}

	t.Run("sign out", func(t *testing.T) {
		require.NoError(t, c.SignOut(ctx))
		_, _, logouts := f.counts()
		assert.Equal(t, 1, logouts)
		assert.Equal(t, session.EventSignedOut, rec.all()[len(rec.all())-1])

		_, err := storage.Get(ctx, core.KeySession)
		assert.ErrorIs(t, err, core.ErrKeyNotFound)
		sess, err := c.GetSession(ctx)
		require.NoError(t, err)
		assert.Nil(t, sess)
	})
}

func TestClient_Restore(t *testing.T) {
	ctx := context.Background()
	f := newFakeAuth(t)
	storage := inmem.NewStore()

	first := newClient(t, f, storage, false)
	require.NoError(t, first.VerifyOTP(ctx, email, code))
	want, err := first.GetSession(ctx)
	require.NoError(t, err)

	t.Run("valid session is restored as is", func(t *testing.T) {
		c := newClient(t, f, storage, false)
		got, err := c.GetSession(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want.AccessToken, got.AccessToken)
		_, refreshes, _ := f.counts()
		assert.Equal(t, 0, refreshes)
	})

	t.Run("expired session is refreshed", func(t *testing.T) {
		c := newClient(t, f, storage, false)
		c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		got, err := c.GetSession(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.NotEqual(t, want.RefreshToken, got.RefreshToken)
		_, refreshes, _ := f.counts()
		assert.Equal(t, 1, refreshes)

		raw, err := storage.Get(ctx, core.KeySession)
		require.NoError(t, err)
		assert.Contains(t, raw, got.RefreshToken)
	})

	t.Run("unrefreshable session is dropped", func(t *testing.T) {
		raw, err := storage.Get(ctx, core.KeySession)
		require.NoError(t, err)
		var cur session.Session
		require.NoError(t, json.Unmarshal([]byte(raw), &cur))
		f.mu.Lock()
		f.revoked[cur.RefreshToken] = true
		f.mu.Unlock()

		c := newClient(t, f, storage, false)
		c.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
		got, err := c.GetSession(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
		_, err = storage.Get(ctx, core.KeySession)
		assert.ErrorIs(t, err, core.ErrKeyNotFound)
	})

	t.Run("garbage is dropped", func(t *testing.T) {
		require.NoError(t, storage.Set(ctx, core.KeySession, "{"))
		c := newClient(t, f, storage, false)
		got, err := c.GetSession(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestClient_SetSession(t *testing.T) {
	ctx := context.Background()
	f := newFakeAuth(t)
	c := newClient(t, f, inmem.NewStore(), false)
	rec := newRecorder(c)

	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	access := signToken(t, userID, "guru@sekolah.sch.id", exp)
	require.NoError(t, c.SetSession(ctx, access, "teacher-refresh"))
	assert.Equal(t, []session.Event{session.EventSignedIn}, rec.all())

	sess, err := c.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, userID, sess.User.ID)
	assert.Equal(t, "guru@sekolah.sch.id", sess.User.Email)
	assert.True(t, exp.Equal(sess.ExpiresAt))
	assert.Equal(t, "teacher-refresh", sess.RefreshToken)

	tests := []struct {
		name  string
		token string
	}{
		{"not a jwt", "opaque-token"},
		{"subject is not a uuid", signToken(t, "12345", "", exp)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, c.SetSession(ctx, tt.token, "r"))
		})
	}
}

func TestClient_AutoRefresh(t *testing.T) {
	ctx := context.Background()
	f := newFakeAuth(t)
	f.ttl = 30 * time.Second // inside the default 60s margin

	c := newClient(t, f, inmem.NewStore(), true)
	rec := newRecorder(c)
	require.NoError(t, c.VerifyOTP(ctx, email, code))
	assert.Equal(t, session.EventSignedIn, <-rec.ch)

	select {
	case ev := <-rec.ch:
		assert.Equal(t, session.EventTokenRefreshed, ev)
	case <-time.After(5 * time.Second):
		t.Fatal("session was not refreshed")
	}

	sess, err := c.GetSession(ctx)
	require.NoError(t, err)
	assert.True(t, sess.ExpiresAt.After(time.Now().Add(30*time.Minute)))
}

func TestClient_RefreshSuperseded(t *testing.T) {
	ctx := context.Background()
	f := newFakeAuth(t)
	storage := inmem.NewStore()
	c := newClient(t, f, storage, false)
	rec := newRecorder(c)

	require.NoError(t, c.VerifyOTP(ctx, email, code))
	old, err := c.GetSession(ctx)
	require.NoError(t, err)
	f.mu.Lock()
	f.revoked[old.RefreshToken] = true
	f.mu.Unlock()

	var once sync.Once
	entered, release := make(chan struct{}), make(chan struct{})
	f.mu.Lock()
	f.onRefresh = func() {
		once.Do(func() { close(entered) })
		<-release
	}
	f.mu.Unlock()

	done := make(chan bool)
	go func() { done <- c.refreshNow(make(chan struct{})) }()
	<-entered

	// a teacher signs in while the old session's refresh is in flight
	access := signToken(t, userID, "guru@sekolah.sch.id", time.Now().Add(30*time.Minute))
	require.NoError(t, c.SetSession(ctx, access, "teacher-refresh"))

	close(release)
	assert.True(t, <-done)

	sess, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess, "the rejected refresh signed out the newer session")
	assert.Equal(t, "teacher-refresh", sess.RefreshToken)
	assert.NotContains(t, rec.all(), session.EventSignedOut)

	raw, err := storage.Get(ctx, core.KeySession)
	require.NoError(t, err)
	assert.Contains(t, raw, "teacher-refresh")
}
