package serrors

import "fmt"

// Base is a coded error that can be surfaced to API clients and localized
// by the presentation layer via LocaleKey.
type Base struct {
	Code      string
	Message   string
	LocaleKey string
}

func (e *Base) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code, message, localeKey string) *Base {
	return &Base{Code: code, Message: message, LocaleKey: localeKey}
}

// FieldError carries the offending field alongside the coded base.
type FieldError struct {
	Base
	Field string
}

func NewFieldRequiredError(field, localeKey string) *FieldError {
	return &FieldError{
		Base: Base{
			Code:      "FIELD_REQUIRED",
			Message:   fmt.Sprintf("field %q is required", field),
			LocaleKey: localeKey,
		},
		Field: field,
	}
}

func NewInvalidFieldError(field, message, localeKey string) *FieldError {
	return &FieldError{
		Base: Base{
			Code:      "FIELD_INVALID",
			Message:   message,
			LocaleKey: localeKey,
		},
		Field: field,
	}
}
