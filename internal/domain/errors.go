package domain

import "errors"

var (
	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionTerminal indicates an operation against a completed,
	// cancelled or expired session.
	ErrSessionTerminal = errors.New("session is terminal")
	// ErrInvalidTransition indicates an illegal status change between
	// non-terminal states.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrMalformedContext indicates a caller context entry missing
	// required keys.
	ErrMalformedContext = errors.New("malformed context")
	// ErrSessionIncomplete indicates finalization of a session that still
	// has outstanding required fields.
	ErrSessionIncomplete = errors.New("session incomplete")
)
