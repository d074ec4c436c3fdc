package klasapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// LoginTeacher exchanges a NUPTK for a session pair. It is the only unauthenticated call.
func (c *Client) LoginTeacher(ctx context.Context, nuptk string) (*TeacherLogin, error) {
	var resp TeacherLogin
	body := struct {
		NUPTK string `json:"nuptk"`
	}{nuptk}
	if err := c.do(ctx, http.MethodPost, "/auth/login/teacher", "", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) FetchTeacherClasses(ctx context.Context, token string) ([]ClassInfo, error) {
	var classes []ClassInfo
	if err := c.do(ctx, http.MethodGet, "/teacher/classes", token, nil, &classes); err != nil {
		return nil, err
	}
	return classes, nil
}

// FetchClassAttendance returns today's roster for the class. Students without a record
// (reported by the server as "ALPHA", "ALFA" or an empty status) have an empty Status.
func (c *Client) FetchClassAttendance(ctx context.Context, token, classID string) ([]RosterEntry, error) {
	var resp attendanceTodayResponse
	path := "/teacher/attendances/today?class_id=" + url.QueryEscape(classID)
	if err := c.do(ctx, http.MethodGet, path, token, nil, &resp); err != nil {
		return nil, err
	}

	roster := make([]RosterEntry, 0, len(resp.Students))
	for _, s := range resp.Students {
		entry := RosterEntry{
			StudentID:     s.Student.ID,
			StudentName:   s.Student.Name,
			AvatarURL:     s.Student.AvatarURL,
			AttachmentURL: s.AttachmentURL,
			CaptureTime:   s.Time,
		}
		switch status := strings.ToUpper(strings.TrimSpace(s.Status)); status {
		case "", "ALPHA", string(StatusAlfa):
		default:
			entry.Status = AttendanceStatus(status)
		}
		roster = append(roster, entry)
	}
	return roster, nil
}

func (c *Client) GenerateQRToken(ctx context.Context, token, classID string) (*QRToken, error) {
	var resp QRToken
	body := struct {
		ClassID string `json:"class_id"`
	}{classID}
	if err := c.do(ctx, http.MethodPost, "/teacher/qr/generate", token, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkAsAlfa records an unexcused absence for the given students. Duplicate ids are sent once.
func (c *Client) MarkAsAlfa(ctx context.Context, token string, req MarkAlfaRequest) (*MarkAlfaResult, error) {
	req.StudentIDs = dedupe(req.StudentIDs)

	var resp MarkAlfaResult
	if err := c.do(ctx, http.MethodPost, "/teacher/attendances/mark-alfa", token, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func dedupe(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
