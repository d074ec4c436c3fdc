package core

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	Validate   *validator.Validate
	Translator ut.Translator

	// custom validation tags & texts
	notBlankTag  = "notblank"
	notBlankText = "this field cannot be blank"

	otpTag   = "otp"
	otpText  = "the code must be exactly 6 digits"
	otpRegex = regexp.MustCompile(`^[0-9]{6}$`)

	attendanceStatusTag  = "attendance_status"
	attendanceStatusText = "status must be one of HADIR, IZIN, SAKIT or ALFA"
	attendanceStatuses   = []string{"HADIR", "IZIN", "SAKIT", "ALFA"}

	nuptkTag   = "nuptk"
	nuptkText  = "NUPTK must contain 8 to 20 digits"
	nuptkRegex = regexp.MustCompile(`^[0-9]{8,20}$`)

	requiredTag     = "required"
	requiredWithTag = "required_with"
	requiredText    = "this field is required"
)

// Instantiate the validator for use.
func init() {
	Validate = validator.New()

	// Register the english error messages for validation errors.
	_en := en.New()
	uni := ut.New(_en, _en)
	Translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(Validate, Translator)

	// Use JSON tag names for errors instead of Go struct names.
	Validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// register custom validators
	_ = Validate.RegisterValidation(notBlankTag, notBlankValidation)
	RegisterCustomTranslation(notBlankTag, notBlankText)

	_ = Validate.RegisterValidation(otpTag, otpValidation)
	RegisterCustomTranslation(otpTag, otpText)

	_ = Validate.RegisterValidation(attendanceStatusTag, attendanceStatusValidation)
	RegisterCustomTranslation(attendanceStatusTag, attendanceStatusText)

	_ = Validate.RegisterValidation(nuptkTag, nuptkValidation)
	RegisterCustomTranslation(nuptkTag, nuptkText)

	RegisterCustomTranslation(requiredTag, requiredText, true)
	RegisterCustomTranslation(requiredWithTag, requiredText, true)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = Validate.RegisterTranslation(
		tag, Translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// ValidateVar validates a single value against tag and reports failures as a *ValidationError
// naming field.
func ValidateVar(field string, value interface{}, tag string) error {
	if err := Validate.Var(value, tag); err != nil {
		vErrs, ok := err.(validator.ValidationErrors)
		if !ok || len(vErrs) == 0 {
			return err
		}
		return NewValidationError(
			errInvalidInput,
			FieldError{Field: field, Error: vErrs[0].Translate(Translator)},
		)
	}
	return nil
}

// Custom Global Validators

// notBlankValidation rejects strings made only of whitespace.
func notBlankValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return false
}

func otpValidation(fl validator.FieldLevel) bool {
	return otpRegex.MatchString(fl.Field().String())
}

func attendanceStatusValidation(fl validator.FieldLevel) bool {
	status := fl.Field().String()
	for _, s := range attendanceStatuses {
		if status == s {
			return true
		}
	}
	return false
}

func nuptkValidation(fl validator.FieldLevel) bool {
	return nuptkRegex.MatchString(fl.Field().String())
}
