// Package media prepares files for upload: avatar cropping, content sniffing and object naming.
package media

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/g4mless/mykelas-web/core"
)

const (
	MaxAttachmentBytes = 5 << 20
	MaxAvatarBytes     = 5 << 20

	DefaultAvatarSize = 512
)

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.\-_]+`)

	attachmentTypes = []string{"image/jpeg", "image/png", "image/webp", "image/heic", "application/pdf"}
	avatarTypes     = []string{"image/jpeg", "image/png", "image/gif", "image/bmp", "image/tiff"}
)

// File is an upload read fully into memory.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// SanitizeFilename keeps letters, digits, dots, dashes and underscores of the base name.
func SanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	safe := strings.Trim(unsafeChars.ReplaceAllString(base, "_"), "._")
	if safe == "" {
		return "file"
	}
	return safe
}

// UniqueName prefixes the sanitized name with a random uuid so uploads never collide.
func UniqueName(name string) string {
	return uuid.New().String() + "-" + SanitizeFilename(name)
}

// ReadAttachment reads an attendance attachment (an image or a PDF, at most MaxAttachmentBytes)
// and sniffs its content type.
func ReadAttachment(name string, r io.Reader) (*File, error) {
	data, err := readLimited(r, MaxAttachmentBytes, "attachment")
	if err != nil {
		return nil, err
	}
	mt := mimetype.Detect(data)
	if !isOneOf(mt, attachmentTypes) {
		return nil, unsupported("attachment", mt)
	}
	return &File{Name: UniqueName(name), ContentType: mt.String(), Data: data}, nil
}

// PrepareAvatar centre-crops the image to a size x size square and re-encodes it as JPEG.
func PrepareAvatar(name string, r io.Reader, size int) (*File, error) {
	if size <= 0 {
		size = DefaultAvatarSize
	}
	data, err := readLimited(r, MaxAvatarBytes, "avatar")
	if err != nil {
		return nil, err
	}
	if mt := mimetype.Detect(data); !isOneOf(mt, avatarTypes) {
		return nil, unsupported("avatar", mt)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(err, "decoding avatar")
	}
	img = imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, errors.Wrap(err, "encoding avatar")
	}

	base := strings.TrimSuffix(SanitizeFilename(name), filepath.Ext(SanitizeFilename(name)))
	return &File{Name: base + ".jpg", ContentType: "image/jpeg", Data: buf.Bytes()}, nil
}

func readLimited(r io.Reader, limit int64, field string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", field)
	}
	if len(data) == 0 {
		return nil, core.NewValidationError(errors.New("invalid file"), core.FieldError{Field: field, Error: "the file is empty"})
	}
	if int64(len(data)) > limit {
		return nil, core.NewValidationError(
			errors.New("invalid file"),
			core.FieldError{Field: field, Error: fmt.Sprintf("the file must not exceed %d MB", limit>>20)},
		)
	}
	return data, nil
}

func isOneOf(mt *mimetype.MIME, types []string) bool {
	for _, t := range types {
		if mt.Is(t) {
			return true
		}
	}
	return false
}

func unsupported(field string, mt *mimetype.MIME) error {
	return core.NewValidationError(
		errors.New("invalid file"),
		core.FieldError{Field: field, Error: "unsupported file type " + mt.String()},
	)
}
