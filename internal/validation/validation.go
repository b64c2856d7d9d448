package validation

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"

	apperrors "whatslens/internal/errors"
)

const (
	maxSessionNameLength = 120
	minPhoneDigits       = 8
	maxPhoneDigits       = 15
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// instance returns the shared validator. Custom rules are registered once;
// the validator is safe for concurrent use.
func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		_ = validate.RegisterValidation("wa_phone", func(fl validator.FieldLevel) bool {
			return phoneDigitsOK(fl.Field().String())
		})
		_ = validate.RegisterValidation("session_name", func(fl validator.FieldLevel) bool {
			return sessionNameOK(fl.Field().String())
		})
	})
	return validate
}

// Struct validates a request payload against its struct tags. The first
// failing field is reported as a validation error so the HTTP layer maps it
// to a 400 without further inspection.
func Struct(v interface{}) error {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if ok := asValidationErrors(err, &fieldErrs); ok && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return apperrors.NewValidationError(fe.Field(), describe(fe))
	}
	return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid request payload")
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if ok {
		*target = ve
	}
	return ok
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "uuid4", "uuid":
		return "must be a valid UUID"
	case "e164", "wa_phone":
		return "must be a valid international phone number"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "session_name":
		return "must contain only letters, numbers, spaces, underscores, and dashes"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// ValidatePhoneNumber checks a WhatsApp phone identifier: an optional "+",
// then 8 to 15 digits. JID suffixes are tolerated so raw chat ids can be
// validated directly.
func ValidatePhoneNumber(phone string) error {
	if phone == "" {
		return apperrors.NewValidationError("phone", "phone number cannot be empty")
	}
	if !phoneDigitsOK(phone) {
		return apperrors.NewValidationError("phone",
			fmt.Sprintf("phone number must be %d-%d digits with an optional leading +", minPhoneDigits, maxPhoneDigits))
	}
	return nil
}

func phoneDigitsOK(phone string) bool {
	cleaned := strings.TrimPrefix(phone, "+")
	cleaned = strings.TrimSuffix(cleaned, "@c.us")
	cleaned = strings.TrimSuffix(cleaned, "@g.us")
	cleaned = strings.TrimSuffix(cleaned, "@s.whatsapp.net")

	if len(cleaned) < minPhoneDigits || len(cleaned) > maxPhoneDigits {
		return false
	}
	for _, char := range cleaned {
		if !unicode.IsDigit(char) {
			return false
		}
	}
	return true
}

// ValidateSessionName checks the user-supplied session label.
func ValidateSessionName(name string) error {
	if name == "" {
		return apperrors.NewValidationError("name", "session name cannot be empty")
	}
	if len(name) > maxSessionNameLength {
		return apperrors.NewValidationError("name",
			fmt.Sprintf("session name too long (max %d characters)", maxSessionNameLength))
	}
	if !sessionNameOK(name) {
		return apperrors.NewValidationError("name",
			"session name must contain only letters, numbers, spaces, underscores, and dashes")
	}
	return nil
}

func sessionNameOK(name string) bool {
	if name == "" || len(name) > maxSessionNameLength {
		return false
	}
	for _, char := range name {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) &&
			char != '_' && char != '-' && char != ' ' {
			return false
		}
	}
	return true
}

// ValidateUUID checks a path identifier before it reaches storage. The
// validator's uuid4 rule covers the canonical lowercase and uppercase forms.
func ValidateUUID(field, value string) error {
	if value == "" {
		return apperrors.NewValidationError(field, "identifier cannot be empty")
	}
	if err := instance().Var(value, "uuid4"); err != nil {
		return apperrors.NewValidationError(field, "must be a valid UUID")
	}
	return nil
}
