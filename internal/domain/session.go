// Package domain contains core domain types for the voice onboarding engine.
package domain

import (
	"fmt"
	"time"
)

// SessionStatus is the lifecycle state of an onboarding session.
type SessionStatus string

const (
	// StatusActive means the session was created and the opening prompt sent,
	// but no user turn has arrived yet.
	StatusActive SessionStatus = "active"
	// StatusCollecting means the session is actively collecting fields.
	StatusCollecting SessionStatus = "collecting"
	// StatusConfirming means all required fields are collected and the
	// session is awaiting the subject's confirmation of the recap.
	StatusConfirming SessionStatus = "confirming"
	// StatusCompleted means the subject confirmed the recap. Terminal.
	StatusCompleted SessionStatus = "completed"
	// StatusCancelled means the session was explicitly cancelled. Terminal.
	StatusCancelled SessionStatus = "cancelled"
	// StatusExpired means the session idled past its timeout. Terminal.
	StatusExpired SessionStatus = "expired"
)

// Terminal reports whether the status is final. Terminal sessions are
// immutable: no further turns or transitions are accepted.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether moving from one status to another is legal.
// All transition legality lives here; callers never check states piecemeal.
func CanTransition(from, to SessionStatus) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StatusCancelled, StatusExpired:
		return true
	case StatusCollecting:
		return from == StatusActive || from == StatusCollecting || from == StatusConfirming
	case StatusConfirming:
		// A session whose entire required set was prefilled goes straight
		// from active to the recap.
		return from == StatusActive || from == StatusCollecting || from == StatusConfirming
	case StatusCompleted:
		return from == StatusConfirming
	}
	return false
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// ConversationMessage is one turn in the transcript. Immutable once appended;
// transcript order is the canonical causal order of the conversation.
type ConversationMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one onboarding conversation instance.
type Session struct {
	ID         string                `json:"session_id"`
	SubjectID  string                `json:"subject_id"`
	Status     SessionStatus         `json:"status"`
	Language   string                `json:"language"`
	TurnCount  int                   `json:"turn_count"`
	Transcript []ConversationMessage `json:"transcript"`
	// Fields holds one FieldStatus per catalogue field for this run, in
	// catalogue order.
	Fields    []*FieldStatus `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Transition moves the session to a new status, enforcing legality. A
// terminal session yields ErrSessionTerminal; an illegal move between live
// states yields ErrInvalidTransition.
func (s *Session) Transition(to SessionStatus) error {
	if s.Status == to {
		return nil
	}
	if !CanTransition(s.Status, to) {
		if s.Status.Terminal() {
			return ErrSessionTerminal
		}
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	return nil
}

// Append adds a message to the transcript and bumps the turn count.
func (s *Session) Append(role Role, content string, at time.Time) {
	s.Transcript = append(s.Transcript, ConversationMessage{
		Role:      role,
		Content:   content,
		Timestamp: at,
	})
	s.TurnCount++
}

// Field returns the status record for a field name, or nil.
func (s *Session) Field(name string) *FieldStatus {
	for _, f := range s.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Outstanding returns the fields that still block completion, in catalogue
// order: required fields not collected yet, plus any field collected below
// the confidence threshold and awaiting confirmation.
func (s *Session) Outstanding() []*FieldStatus {
	var out []*FieldStatus
	for _, f := range s.Fields {
		if (f.Required && !f.Collected) || f.NeedsConfirmation {
			out = append(out, f)
		}
	}
	return out
}

// NextField returns the first outstanding field, or nil.
func (s *Session) NextField() *FieldStatus {
	if out := s.Outstanding(); len(out) > 0 {
		return out[0]
	}
	return nil
}

// IsComplete reports whether every required field is collected and no field
// is flagged for confirmation.
func (s *Session) IsComplete() bool {
	return len(s.Outstanding()) == 0
}

// CollectedCount returns how many fields are collected.
func (s *Session) CollectedCount() int {
	n := 0
	for _, f := range s.Fields {
		if f.Collected {
			n++
		}
	}
	return n
}

// CurrentData returns the collected values keyed by field name.
func (s *Session) CurrentData() map[string]any {
	data := make(map[string]any)
	for _, f := range s.Fields {
		if f.Collected {
			data[f.Name] = f.Value
		}
	}
	return data
}

// ExpiresAt returns the instant the session expires given an inactivity
// timeout. Expiry is measured from the last activity, not creation.
func (s *Session) ExpiresAt(timeout time.Duration) time.Time {
	return s.UpdatedAt.Add(timeout)
}

// IdleExpired reports whether the session has idled past the timeout.
func (s *Session) IdleExpired(now time.Time, timeout time.Duration) bool {
	return !s.Status.Terminal() && now.After(s.ExpiresAt(timeout))
}

// Touch records activity on the session.
func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now
}
