package klasapi

import (
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

type submitAttendanceRequest struct {
	Status         AttendanceStatus `json:"status"`
	AttachmentPath string           `json:"attachment_path,omitempty"`
}

// SubmitAttendance records today's status for the caller. attachmentPath is the storage path
// returned by GetAttachmentUploadURL, or empty.
func (c *Client) SubmitAttendance(ctx context.Context, token string, status AttendanceStatus, attachmentPath string) (*AttendanceResponse, error) {
	var resp AttendanceResponse
	body := submitAttendanceRequest{Status: status, AttachmentPath: attachmentPath}
	if err := c.do(ctx, http.MethodPost, "/absen", token, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAttachmentUploadURL exchanges a filename for a one-time signed upload URL and the
// storage path the uploaded object will live at.
func (c *Client) GetAttachmentUploadURL(ctx context.Context, token, filename string) (*UploadURL, error) {
	var resp UploadURL
	body := struct {
		Filename string `json:"filename"`
	}{filename}
	if err := c.do(ctx, http.MethodPost, "/absen/attachment-upload-url", token, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadAttachmentFile PUTs the file straight to the signed storage URL. The request carries
// no bearer token; the URL itself is the credential.
func (c *Client) UploadAttachmentFile(ctx context.Context, uploadURL, contentType string, content io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, content)
	if err != nil {
		return errors.Wrap(err, "building upload request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "uploading attachment")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{StatusCode: resp.StatusCode, Message: "failed to upload attachment file"}
	}
	return nil
}

func (c *Client) FetchTodayStatus(ctx context.Context, token string) (*TodayStatus, error) {
	var resp TodayStatus
	if err := c.do(ctx, http.MethodGet, "/today-status", token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitQRAttendance redeems a scanned QR token as a present-attendance event.
func (c *Client) SubmitQRAttendance(ctx context.Context, token, qrToken string) (*AttendanceResponse, error) {
	var resp AttendanceResponse
	body := struct {
		Token string `json:"token"`
	}{qrToken}
	if err := c.do(ctx, http.MethodPost, "/absen/qr", token, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
