// Package apperr defines sentinel errors shared across the application.
package apperr

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrAlreadyExists      = errors.New("already exists")
	ErrPermalinkExhausted = errors.New("permalink suffix space exhausted")
	ErrStoreUnavailable   = errors.New("store unavailable")
)
