// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/linqmd/voice-onboarding/internal/domain"
)

// Repository defines the durable session store contract: get/put by id plus
// the guarded transitions the engine relies on. Per-session mutual exclusion
// is handled above this layer; the guarded updates here only protect the
// terminal-exactly-once invariant against racing writers.
type Repository interface {
	// GetSession retrieves a session by id. Returns (nil, nil) if unknown.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// SaveSession creates or replaces a session record. Saving over a row
	// that is already terminal fails with domain.ErrSessionTerminal; the
	// stored record is left untouched.
	SaveSession(ctx context.Context, session *domain.Session) error

	// OpenSessionForSubject returns the subject's non-terminal session, if
	// any. At most one exists at a time.
	OpenSessionForSubject(ctx context.Context, subjectID string) (*domain.Session, error)

	// MarkTerminal transitions a session to a terminal status only if it is
	// not already terminal. Returns true when the transition happened.
	MarkTerminal(ctx context.Context, sessionID string, status domain.SessionStatus) (bool, error)

	// ExpireIdleSessions marks every non-terminal session idle past the
	// timeout as expired. Returns the number of sessions transitioned.
	ExpireIdleSessions(ctx context.Context, timeout time.Duration) (int64, error)

	// GetSubject retrieves a subject by id. Returns (nil, nil) if unknown.
	GetSubject(ctx context.Context, subjectID string) (*domain.Subject, error)

	// UpsertSubject creates or updates a subject record.
	UpsertSubject(ctx context.Context, subject *domain.Subject) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
