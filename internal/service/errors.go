package service

import "errors"

// Error kinds surfaced to callers. Operations wrap these with context; use errors.Is to test.
var (
	ErrValidation     = errors.New("validation error")
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrInvalidState   = errors.New("invalid state")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrUnauthorized   = errors.New("unauthorized")
)
