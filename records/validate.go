package records

import (
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"unicode/utf8"
)

// ValidationError reports a field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err carries at least one ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// checks collects validation failures in field order.
type checks []error

func (c *checks) add(err error) {
	if err != nil {
		*c = append(*c, err)
	}
}

func (c checks) err() error {
	return errors.Join(c...)
}

func length(field, value string, min, max int) error {
	n := utf8.RuneCountInString(value)
	switch {
	case n < min && min == 1:
		return invalid(field, "is required")
	case n < min:
		return invalid(field, "must be at least %d characters", min)
	case max > 0 && n > max:
		return invalid(field, "must be at most %d characters", max)
	}
	return nil
}

func optionalLength(field string, value *string, max int) error {
	if value == nil {
		return nil
	}
	return length(field, *value, 0, max)
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid(field, "is required")
	}
	return nil
}

func oneOf[S ~string](field string, value S, allowed []S) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = string(a)
	}
	return invalid(field, "must be one of %s", strings.Join(names, ", "))
}

func email(field string, value *string) error {
	if value == nil || *value == "" {
		return nil
	}
	addr, err := mail.ParseAddress(*value)
	if err != nil || addr.Address != *value {
		return invalid(field, "must be a valid email address")
	}
	return nil
}
