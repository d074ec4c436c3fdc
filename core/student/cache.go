// Package student caches the signed-in student's profile, today's attendance and avatar,
// and keeps them consistent with the current session.
package student

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/g4mless/mykelas-web/core"
	"github.com/g4mless/mykelas-web/core/klasapi"
	"github.com/g4mless/mykelas-web/core/media"
	"github.com/g4mless/mykelas-web/core/session"
)

// API is the part of the Klas API the cache calls.
type API interface {
	FetchStudents(ctx context.Context, token string) ([]klasapi.Student, error)
	LinkStudent(ctx context.Context, token, name string) (*klasapi.MessageResponse, error)
	SubmitAttendance(ctx context.Context, token string, status klasapi.AttendanceStatus, attachmentPath string) (*klasapi.AttendanceResponse, error)
	GetAttachmentUploadURL(ctx context.Context, token, filename string) (*klasapi.UploadURL, error)
	UploadAttachmentFile(ctx context.Context, uploadURL, contentType string, content io.Reader) error
	FetchTodayStatus(ctx context.Context, token string) (*klasapi.TodayStatus, error)
	SubmitQRAttendance(ctx context.Context, token, qrToken string) (*klasapi.AttendanceResponse, error)
	FetchProfilePicture(ctx context.Context, token string) (*klasapi.ProfilePicture, error)
	UploadProfilePicture(ctx context.Context, token, filename string, content io.Reader) (*klasapi.ProfilePictureUpload, error)
}

// Sessions is the session source the cache follows.
type Sessions interface {
	Current() session.Snapshot
	Subscribe(session.Listener) (unsubscribe func())
}

// State is a snapshot of the cache. Each part has its own loading flag.
type State struct {
	Student *klasapi.Student
	Loading bool
	Err     string

	AvatarURL     string
	AvatarLoading bool
	AvatarErr     string

	Today        *klasapi.TodayStatus
	TodayLoading bool
	TodayErr     string

	Submitting bool
}

// Linked reports whether a student record belongs to the session user.
func (s State) Linked() bool { return s.Student != nil }

// Cache holds at most one student record: the one whose user id matches the session.
//
// Every load takes a generation number when it starts and its result is applied only if no
// later load has started since. A load for one user therefore never overwrites data of a
// user who signed in afterwards, even when its response arrives last.
type Cache struct {
	api      API
	sessions Sessions
	logger   core.Logger

	mu        sync.Mutex
	gen       uint64
	fetching  bool
	loadedFor string // user id the held data belongs to
	student   *klasapi.Student
	err       string

	avatarGen     uint64
	avatarURL     string
	avatarLoading bool
	avatarErr     string

	todayGen     uint64
	today        *klasapi.TodayStatus
	todayLoading bool
	todayErr     string

	submitting bool
	avatarSize int

	// last session seen by reconcile
	watchedUser  string
	watchedToken string
	watchedSeq   uint64
}

type Option func(*Cache)

// WithAvatarSize sets the edge length, in pixels, uploaded avatars are cropped to.
func WithAvatarSize(px int) Option {
	return func(c *Cache) { c.avatarSize = px }
}

func NewCache(api API, sessions Sessions, logger core.Logger, opts ...Option) *Cache {
	c := &Cache{api: api, sessions: sessions, logger: logger, avatarSize: media.DefaultAvatarSize}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Watch reloads the cache now and whenever the session's user or token changes. Reloads
// run on the goroutine that delivered the notification. Call the returned func to stop.
func (c *Cache) Watch(ctx context.Context) (stop func()) {
	unsubscribe := c.sessions.Subscribe(func(snap session.Snapshot) {
		c.reconcile(ctx, snap)
	})
	c.reconcile(ctx, c.sessions.Current())
	return unsubscribe
}

// isCurrentUser reports whether userID still owns the session. It must be called without c.mu held.
func (c *Cache) isCurrentUser(userID string) bool {
	return c.sessions.Current().UserID() == userID
}

// reconcile is idempotent: repeated snapshots of the same session do nothing, and a
// snapshot older than one already seen is ignored.
func (c *Cache) reconcile(ctx context.Context, snap session.Snapshot) {
	if snap.State == session.Unknown {
		return
	}
	c.mu.Lock()
	if snap.Seq < c.watchedSeq {
		c.mu.Unlock()
		return
	}
	changed := snap.UserID() != c.watchedUser || snap.AccessToken() != c.watchedToken
	c.watchedUser, c.watchedToken, c.watchedSeq = snap.UserID(), snap.AccessToken(), snap.Seq
	c.mu.Unlock()

	if changed {
		c.load(ctx, snap)
	}
}

// State returns a snapshot of the cache for the current session. Data held for a
// different user than the current one is never returned.
func (c *Cache) State() State {
	userID := c.sessions.Current().UserID()

	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{
		Loading:       c.fetching || userID != c.loadedFor,
		Err:           c.err,
		AvatarLoading: c.avatarLoading,
		AvatarErr:     c.avatarErr,
		TodayLoading:  c.todayLoading,
		TodayErr:      c.todayErr,
		Submitting:    c.submitting,
	}
	if userID != c.loadedFor {
		return st
	}
	if c.student != nil {
		cp := *c.student
		st.Student = &cp
	}
	st.AvatarURL = c.avatarURL
	if c.today != nil {
		cp := *c.today
		st.Today = &cp
	}
	return st
}

// Load fetches the student list and keeps the entry linked to the session user. Without a
// session everything is cleared. Failures are recorded in State().Err, never returned.
func (c *Cache) Load(ctx context.Context) {
	c.load(ctx, c.sessions.Current())
}

func (c *Cache) load(ctx context.Context, snap session.Snapshot) {
	c.mu.Lock()
	c.gen++
	gen := c.gen

	if snap.Session == nil {
		c.student, c.err = nil, ""
		c.avatarURL, c.avatarErr = "", ""
		c.today, c.todayErr = nil, ""
		c.avatarGen++
		c.todayGen++
		c.avatarLoading, c.todayLoading = false, false
		c.loadedFor = ""
		c.fetching = false
		c.mu.Unlock()
		return
	}
	if c.loadedFor != snap.UserID() {
		// sub-state loads still in flight for the previous user are superseded too
		c.avatarGen++
		c.todayGen++
		c.avatarURL, c.avatarErr, c.avatarLoading = "", "", false
		c.today, c.todayErr, c.todayLoading = nil, "", false
	}
	c.fetching = true
	c.err = ""
	c.mu.Unlock()

	students, err := c.api.FetchStudents(ctx, snap.AccessToken())

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		c.logger.Debug("discarding superseded student load", map[string]interface{}{"user": snap.UserID()})
		return
	}
	c.fetching = false
	c.loadedFor = snap.UserID()

	if err != nil {
		c.logger.Warn("loading student", errors.Wrap(err, "loading student"), snap.Session.User)
		c.student, c.avatarURL = nil, ""
		c.err = err.Error()
		return
	}

	c.student, c.avatarURL = nil, ""
	for i := range students {
		if students[i].UserID.Valid && students[i].UserID.String == snap.UserID() {
			st := students[i]
			c.student = &st
			c.avatarURL = st.AvatarURL.String
			break
		}
	}
}

// LinkStudent associates the session user with the student named name and reloads.
func (c *Cache) LinkStudent(ctx context.Context, name string) (*klasapi.MessageResponse, error) {
	snap := c.sessions.Current()
	if snap.Session == nil {
		return nil, core.ErrNoSession
	}
	if err := core.ValidateVar("name", name, "notblank"); err != nil {
		return nil, err
	}

	resp, err := c.api.LinkStudent(ctx, snap.AccessToken(), core.CleanString(name))
	if err != nil {
		return nil, err
	}
	c.Load(ctx)
	return resp, nil
}
