package klasapi

import (
	"context"
	"io"
	"net/http"
)

// FetchStudents lists every student visible to the caller. Selecting the caller's own
// record is left to the caller.
func (c *Client) FetchStudents(ctx context.Context, token string) ([]Student, error) {
	var students []Student
	if err := c.do(ctx, http.MethodGet, "/students", token, nil, &students); err != nil {
		return nil, err
	}
	return students, nil
}

// LinkStudent associates the caller's account with the student record named name.
func (c *Client) LinkStudent(ctx context.Context, token, name string) (*MessageResponse, error) {
	var resp MessageResponse
	body := struct {
		Name string `json:"name"`
	}{name}
	if err := c.do(ctx, http.MethodPost, "/auth/link-student", token, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) FetchProfilePicture(ctx context.Context, token string) (*ProfilePicture, error) {
	var pic ProfilePicture
	if err := c.do(ctx, http.MethodGet, "/students/profile-picture", token, nil, &pic); err != nil {
		return nil, err
	}
	return &pic, nil
}

// UploadProfilePicture sends the image as the multipart field "avatar".
func (c *Client) UploadProfilePicture(ctx context.Context, token, filename string, content io.Reader) (*ProfilePictureUpload, error) {
	var resp ProfilePictureUpload
	body := &Multipart{Field: "avatar", Filename: filename, Content: content}
	if err := c.do(ctx, http.MethodPost, "/students/profile-picture", token, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
