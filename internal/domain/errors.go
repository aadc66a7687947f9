package domain

import "errors"

// Error kinds shared by every layer. Callers wrap them with context using
// fmt.Errorf("%w: ...") and the HTTP layer maps them to status codes.
var (
	ErrValidation         = errors.New("validation error")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("already exists")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrTimeout            = errors.New("timed out")
)
