package service

import "errors"

// Error taxonomy shared by every service. Handlers map these onto HTTP
// statuses; crypto verification failures deliberately collapse into the
// authentication/forbidden buckets so callers learn nothing about which
// stage failed.
var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrForbidden              = errors.New("forbidden")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrValidation             = errors.New("validation error")
	ErrRateLimited            = errors.New("rate limited")
	ErrInternal               = errors.New("internal error")
)
