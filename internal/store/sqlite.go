package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/linqmd/voice-onboarding/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS subjects (
		subject_id TEXT PRIMARY KEY,
		phone TEXT,
		phone_verified INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		status TEXT NOT NULL,
		language TEXT NOT NULL,
		turn_count INTEGER NOT NULL DEFAULT 0,
		transcript_json TEXT NOT NULL,
		fields_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_subject_open
		ON sessions(subject_id) WHERE status IN ('active','collecting','confirming');
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, subject_id, status, language, turn_count,
		       transcript_json, fields_json, created_at, updated_at
		FROM sessions WHERE session_id = ?`

	return s.scanSession(s.db.QueryRowContext(ctx, query, sessionID))
}

// OpenSessionForSubject returns the subject's non-terminal session, if any.
func (s *SQLiteStore) OpenSessionForSubject(ctx context.Context, subjectID string) (*domain.Session, error) {
	query := `
		SELECT session_id, subject_id, status, language, turn_count,
		       transcript_json, fields_json, created_at, updated_at
		FROM sessions
		WHERE subject_id = ? AND status IN ('active','collecting','confirming')
		ORDER BY created_at DESC LIMIT 1`

	return s.scanSession(s.db.QueryRowContext(ctx, query, subjectID))
}

func (s *SQLiteStore) scanSession(row *sql.Row) (*domain.Session, error) {
	var (
		session              domain.Session
		transcript, fields   string
		createdAt, updatedAt int64
	)

	err := row.Scan(
		&session.ID, &session.SubjectID, &session.Status, &session.Language,
		&session.TurnCount, &transcript, &fields, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if err := json.Unmarshal([]byte(transcript), &session.Transcript); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	if err := json.Unmarshal([]byte(fields), &session.Fields); err != nil {
		return nil, fmt.Errorf("decode field status: %w", err)
	}
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)

	return &session, nil
}

// SaveSession creates or replaces a session record. The upsert is guarded:
// an existing row that is already terminal is never overwritten, and the
// attempt surfaces ErrSessionTerminal. A cancellation that lands between a
// caller's read and its save therefore sticks.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *domain.Session) error {
	transcript, err := json.Marshal(session.Transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	fields, err := json.Marshal(session.Fields)
	if err != nil {
		return fmt.Errorf("encode field status: %w", err)
	}

	query := `
	INSERT INTO sessions (session_id, subject_id, status, language, turn_count,
	                      transcript_json, fields_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		status = excluded.status,
		turn_count = excluded.turn_count,
		transcript_json = excluded.transcript_json,
		fields_json = excluded.fields_json,
		updated_at = excluded.updated_at
	WHERE sessions.status IN ('active','collecting','confirming')`

	res, err := s.db.ExecContext(ctx, query,
		session.ID, session.SubjectID, session.Status, session.Language,
		session.TurnCount, string(transcript), string(fields),
		session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if n == 0 {
		return domain.ErrSessionTerminal
	}
	return nil
}

// MarkTerminal transitions a session to a terminal status only if it is not
// already terminal. The WHERE guard keeps terminal-exactly-once true even
// when a cancellation races an in-flight chat turn.
func (s *SQLiteStore) MarkTerminal(ctx context.Context, sessionID string, status domain.SessionStatus) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("mark terminal: %q is not a terminal status", status)
	}

	query := `
	UPDATE sessions SET status = ?, updated_at = ?
	WHERE session_id = ? AND status IN ('active','collecting','confirming')`

	res, err := s.db.ExecContext(ctx, query, status, time.Now().Unix(), sessionID)
	if err != nil {
		return false, fmt.Errorf("mark session terminal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark session terminal: %w", err)
	}
	return n > 0, nil
}

// ExpireIdleSessions marks non-terminal sessions idle past the timeout as
// expired.
func (s *SQLiteStore) ExpireIdleSessions(ctx context.Context, timeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-timeout).Unix()

	query := `
	UPDATE sessions SET status = ?, updated_at = updated_at
	WHERE status IN ('active','collecting','confirming') AND updated_at < ?`

	res, err := s.db.ExecContext(ctx, query, domain.StatusExpired, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire idle sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire idle sessions: %w", err)
	}
	return n, nil
}

// GetSubject retrieves a subject by id.
func (s *SQLiteStore) GetSubject(ctx context.Context, subjectID string) (*domain.Subject, error) {
	query := `
		SELECT subject_id, phone, phone_verified, created_at, updated_at
		FROM subjects WHERE subject_id = ?`

	row := s.db.QueryRowContext(ctx, query, subjectID)

	var (
		subject              domain.Subject
		phone                sql.NullString
		verified             int
		createdAt, updatedAt int64
	)

	err := row.Scan(&subject.ID, &phone, &verified, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan subject row: %w", err)
	}

	subject.Phone = phone.String
	subject.PhoneVerified = verified != 0
	subject.CreatedAt = time.Unix(createdAt, 0)
	subject.UpdatedAt = time.Unix(updatedAt, 0)

	return &subject, nil
}

// UpsertSubject creates or updates a subject record.
func (s *SQLiteStore) UpsertSubject(ctx context.Context, subject *domain.Subject) error {
	query := `
	INSERT INTO subjects (subject_id, phone, phone_verified, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(subject_id) DO UPDATE SET
		phone = excluded.phone,
		phone_verified = excluded.phone_verified,
		updated_at = excluded.updated_at`

	var phone interface{}
	if subject.Phone != "" {
		phone = subject.Phone
	}
	verified := 0
	if subject.PhoneVerified {
		verified = 1
	}

	_, err := s.db.ExecContext(ctx, query,
		subject.ID, phone, verified,
		subject.CreatedAt.Unix(), subject.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert subject: %w", err)
	}
	return nil
}
