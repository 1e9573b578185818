package service

import "errors"

// Sentinel errors for the catalog operations. Handlers map these to status
// codes; anything not matching one of them is an internal failure that gets
// logged and reported as a generic 500.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
)
