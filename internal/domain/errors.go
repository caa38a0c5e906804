package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")

	ErrInvalidTrace   = errors.New("invalid trace")
	ErrTracingActive  = errors.New("tracing is active")
	ErrSaving         = errors.New("trace save in progress")
	ErrGuestNotStable = errors.New("guest trace did not stabilize")
)
