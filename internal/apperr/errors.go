// Package apperr holds sentinel errors shared across layers. Wrap them with
// fmt.Errorf("...: %w", ...) and test with errors.Is.
package apperr

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalid           = errors.New("invalid")
	ErrMalformedDocument = errors.New("malformed document")
	ErrRemoteUnavailable = errors.New("remote unavailable")
	ErrConflict          = errors.New("conflict")
)
