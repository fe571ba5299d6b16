package relay

import "errors"

// Typed failures surfaced to callers. Handlers and the hub map these to
// wire-level status codes / error payloads; everything else coming out
// of the relay is wrapped in ErrUpstream.
var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidID     = errors.New("invalid id format")
	ErrEmptyMessage  = errors.New("empty message")
	ErrNotRegistered = errors.New("not registered")
	ErrNotFound      = errors.New("not found")
	ErrUpstream      = errors.New("upstream unavailable")
)
