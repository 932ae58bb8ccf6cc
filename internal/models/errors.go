package models

import "errors"

// Error classes shared by the stores, the dispatcher and the transport.
// Callers wrap them with fmt.Errorf("...: %w", Err...) and classify with errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrStorage      = errors.New("storage error")
	ErrTransport    = errors.New("transport error")
	ErrRateLimited  = errors.New("rate limited")
)
