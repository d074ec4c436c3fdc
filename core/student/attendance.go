package student

import (
	"bytes"
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/g4mless/mykelas-web/core"
	"github.com/g4mless/mykelas-web/core/klasapi"
	"github.com/g4mless/mykelas-web/core/media"
)

// SubmitAttendance records today's status, then reloads the profile and today's status
// before returning the server's confirmation.
func (c *Cache) SubmitAttendance(ctx context.Context, status klasapi.AttendanceStatus) (*klasapi.AttendanceResponse, error) {
	token, err := c.beginSubmit(status)
	if err != nil {
		return nil, err
	}
	defer c.endSubmit()
	return c.submit(ctx, token, status, "")
}

// SubmitWithAttachment uploads evidence for status and submits attendance referencing it.
// The steps run in order: upload URL, upload, submit. The first failure aborts the sequence;
// an object already uploaded is left in storage.
func (c *Cache) SubmitWithAttachment(ctx context.Context, status klasapi.AttendanceStatus, filename string, content io.Reader) (*klasapi.AttendanceResponse, error) {
	token, err := c.beginSubmit(status)
	if err != nil {
		return nil, err
	}
	defer c.endSubmit()

	file, err := media.ReadAttachment(filename, content)
	if err != nil {
		return nil, err
	}
	up, err := c.api.GetAttachmentUploadURL(ctx, token, file.Name)
	if err != nil {
		return nil, errors.Wrap(err, "requesting upload url")
	}
	if err := c.api.UploadAttachmentFile(ctx, up.UploadURL, file.ContentType, bytes.NewReader(file.Data)); err != nil {
		return nil, errors.Wrap(err, "uploading attachment")
	}
	return c.submit(ctx, token, status, up.Path)
}

// RedeemQR submits a scanned QR token as present attendance.
func (c *Cache) RedeemQR(ctx context.Context, qrToken string) (*klasapi.AttendanceResponse, error) {
	token, err := c.beginSubmit(klasapi.StatusHadir)
	if err != nil {
		return nil, err
	}
	defer c.endSubmit()

	if err := core.ValidateVar("token", qrToken, "notblank"); err != nil {
		return nil, err
	}
	resp, err := c.api.SubmitQRAttendance(ctx, token, core.CleanString(qrToken))
	if err != nil {
		return nil, err
	}
	c.Load(ctx)
	c.LoadToday(ctx)
	return resp, nil
}

func (c *Cache) beginSubmit(status klasapi.AttendanceStatus) (string, error) {
	snap := c.sessions.Current()
	if snap.Session == nil {
		return "", core.ErrNoSession
	}
	if err := core.ValidateVar("status", string(status), "attendance_status"); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.submitting = true
	c.mu.Unlock()
	return snap.AccessToken(), nil
}

func (c *Cache) endSubmit() {
	c.mu.Lock()
	c.submitting = false
	c.mu.Unlock()
}

func (c *Cache) submit(ctx context.Context, token string, status klasapi.AttendanceStatus, attachmentPath string) (*klasapi.AttendanceResponse, error) {
	resp, err := c.api.SubmitAttendance(ctx, token, status, attachmentPath)
	if err != nil {
		return nil, err
	}
	c.Load(ctx)
	c.LoadToday(ctx)
	return resp, nil
}

// LoadToday fetches whether and what was submitted today. Failures are recorded in
// State().TodayErr.
func (c *Cache) LoadToday(ctx context.Context) {
	snap := c.sessions.Current()

	c.mu.Lock()
	c.todayGen++
	gen := c.todayGen
	if snap.Session == nil {
		c.today, c.todayErr, c.todayLoading = nil, "", false
		c.mu.Unlock()
		return
	}
	c.todayLoading = true
	c.todayErr = ""
	c.mu.Unlock()

	today, err := c.api.FetchTodayStatus(ctx, snap.AccessToken())
	current := c.isCurrentUser(snap.UserID())

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.todayGen || !current {
		c.logger.Debug("discarding superseded today load", map[string]interface{}{"user": snap.UserID()})
		return
	}
	c.todayLoading = false
	if err != nil {
		c.logger.Warn("loading today's status", errors.Wrap(err, "loading today's status"), snap.Session.User)
		c.todayErr = err.Error()
		return
	}
	c.today = today
}
