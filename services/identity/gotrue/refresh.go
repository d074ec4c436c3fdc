package gotrue

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/g4mless/mykelas-web/core/session"
)

// startRefresher launches the background refresh loop once, when auto refresh is on.
func (c *Client) startRefresher() {
	if !c.autoRefresh {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil || c.closed {
		return
	}
	c.stop = make(chan struct{})
	c.kick = make(chan struct{}, 1)
	c.wg.Add(1)
	go c.refreshLoop(c.stop, c.kick)
}

func (c *Client) refreshLoop(stop, kick <-chan struct{}) {
	defer c.wg.Done()

	var failed bool
	for {
		wait := c.nextRefreshIn()
		if failed && wait < retryDelay {
			wait = retryDelay
		}
		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-kick:
			timer.Stop()
			failed = false
			continue
		case <-timer.C:
		}

		failed = !c.refreshNow(stop)
	}
}

// nextRefreshIn is the time left until the current token enters the refresh margin.
func (c *Client) nextRefreshIn() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return idleWait
	}
	wait := c.current.ExpiresAt.Add(-c.margin).Sub(c.now())
	if wait < 0 {
		return 0
	}
	return wait
}

// refreshNow refreshes the current session. A refresh token the server rejects ends the
// session; other failures are retried later. It reports success.
func (c *Client) refreshNow(stop <-chan struct{}) bool {
	c.mu.Lock()
	cur := copySession(c.current)
	c.mu.Unlock()
	if cur == nil {
		return true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	sess, err := c.refresh(ctx, cur.RefreshToken)
	if err != nil {
		var authErr *Error
		if errors.As(err, &authErr) && (authErr.StatusCode == http.StatusBadRequest || authErr.StatusCode == http.StatusUnauthorized) {
			if c.superseded(cur) {
				return true
			}
			c.logger.Error("session refresh rejected", errors.Wrap(err, "refreshing session"), cur.User)
			if err := c.apply(ctx, session.EventSignedOut, nil); err != nil {
				c.logger.Error("clearing session", err)
			}
			return true
		}
		c.logger.Error("refreshing session", errors.Wrap(err, "refreshing session"), cur.User)
		return false
	}

	if c.superseded(cur) {
		return true
	}
	if err := c.apply(ctx, session.EventTokenRefreshed, sess); err != nil {
		c.logger.Error("saving refreshed session", err, sess.User)
	}
	return true
}

// superseded reports whether the session changed since cur was taken, so the outcome of
// refreshing cur no longer applies.
func (c *Client) superseded(cur *session.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == nil || c.current.RefreshToken != cur.RefreshToken
}
