package core

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var (
	// ErrNoSession is returned by mutations attempted while no session is held.
	ErrNoSession = errors.New("missing access token")

	errInvalidInput = errors.New("invalid input")
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError is a client-side validation failure; it is raised before any request is sent.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	if len(err.Fields) == 1 {
		return err.Fields[0].Field + ": " + err.Fields[0].Error
	}
	return err.Err.Error()
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

// TranslateValidation turns validator.ValidationErrors into a *ValidationError carrying
// translated field messages. Any other error is returned unchanged.
func TranslateValidation(err error, msg string) error {
	vErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	flds := make([]FieldError, 0, len(vErrs))
	for _, vErr := range vErrs {
		flds = append(flds, FieldError{Field: vErr.Field(), Error: vErr.Translate(Translator)})
	}
	return NewValidationError(errors.New(msg), flds...)
}
