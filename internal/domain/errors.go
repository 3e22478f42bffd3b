package domain

import (
	"errors"
	"sort"
	"strings"
)

// Error sentinels shared by the server and the client-side core
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrPermission   = errors.New("permission denied")
	ErrConflict     = errors.New("conflict")
	ErrTransport    = errors.New("transport failure")
	ErrUnauthorized = errors.New("unauthorized")
)

// Error codes carried in HTTP error bodies
const (
	CodeValidation   = "validation"
	CodeNotFound     = "not_found"
	CodePermission   = "permission"
	CodeConflict     = "conflict"
	CodeUnauthorized = "unauthorized"
	CodeTransport    = "transport"
	CodeInternal     = "internal"
)

// ValidationError captures field level validation issues
type ValidationError struct {
	FieldErrors map[string]string
}

// NewValidationError creates a validation error for a single field
func NewValidationError(field, message string) *ValidationError {
	v := &ValidationError{}
	v.Add(field, message)
	return v
}

func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return ErrValidation.Error()
	}

	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+v.FieldErrors[field])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) hold for *ValidationError
func (v *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Add records a field level validation error
func (v *ValidationError) Add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// HasErrors reports whether any field level issues were recorded
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// ErrorCode maps an error to its stable wire code
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrPermission):
		return CodePermission
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrTransport):
		return CodeTransport
	}
	return CodeInternal
}

// ErrorFromCode is the inverse of ErrorCode. Unknown codes map to nil.
func ErrorFromCode(code string) error {
	switch code {
	case CodeValidation:
		return ErrValidation
	case CodeNotFound:
		return ErrNotFound
	case CodePermission:
		return ErrPermission
	case CodeConflict:
		return ErrConflict
	case CodeUnauthorized:
		return ErrUnauthorized
	case CodeTransport:
		return ErrTransport
	}
	return nil
}

// Retryable reports whether the user may retry the failed operation.
// Only transport failures qualify.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport)
}
