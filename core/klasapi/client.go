// Package klasapi is a typed client for the Klas attendance REST API.
//
// Every call is a single attempt: no retries and no client-side timeout beyond
// the transport's own. Non-2xx responses become *Error values carrying the HTTP
// status; transport failures are returned wrapped and carry no status.
package klasapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// Error is a non-2xx response from the API.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

// IsStatus reports whether err is an API error with the given HTTP status.
func IsStatus(err error, code int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// IsAuthError reports whether err is a 401 or 403 API error.
func IsAuthError(err error) bool {
	return IsStatus(err, http.StatusUnauthorized) || IsStatus(err, http.StatusForbidden)
}

// Multipart is a request body sent as multipart/form-data. Its content type,
// boundary included, is set by the client rather than the caller.
type Multipart struct {
	Field    string
	Filename string
	Content  io.Reader
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends one request. An empty token sends no Authorization header. body may be nil,
// a *Multipart, or any JSON-serializable value; out may be nil to discard the response.
func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var (
		rdr         io.Reader
		contentType = "application/json"
	)
	switch b := body.(type) {
	case nil:
	case *Multipart:
		buf, ct, err := encodeMultipart(b)
		if err != nil {
			return err
		}
		rdr, contentType = buf, ct
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "reading %s %s", method, path)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(data, out), "decoding %s %s", method, path)
}

// responseError extracts the server's message from a JSON error body, falling back to the
// status line text.
func responseError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode, Message: statusText(resp)}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiErr
	}
	var payload struct {
		Message *string `json:"message"`
		Error   *string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return apiErr
	}
	switch {
	case payload.Message != nil && *payload.Message != "":
		apiErr.Message = *payload.Message
	case payload.Error != nil && *payload.Error != "":
		apiErr.Message = *payload.Error
	}
	return apiErr
}

// statusText returns the reason phrase of the status line ("Not Found" for "404 Not Found").
func statusText(resp *http.Response) string {
	if parts := strings.SplitN(resp.Status, " ", 2); len(parts) == 2 && parts[1] != "" {
		return parts[1]
	}
	return http.StatusText(resp.StatusCode)
}

func encodeMultipart(m *Multipart) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(m.Field, m.Filename)
	if err != nil {
		return nil, "", errors.Wrap(err, "creating multipart field")
	}
	if _, err := io.Copy(part, m.Content); err != nil {
		return nil, "", errors.Wrap(err, "writing multipart field")
	}
	if err := w.Close(); err != nil {
		return nil, "", errors.Wrap(err, "closing multipart body")
	}
	return &buf, w.FormDataContentType(), nil
}
