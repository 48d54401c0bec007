package domain

import (
	"time"
)

// Subject is the professional being onboarded. Identity resolution happens
// upstream; by the time a Subject exists here its phone, if set, has been
// verified by the identity layer.
type Subject struct {
	ID            string    `json:"subject_id"`
	Phone         string    `json:"phone,omitempty"`
	PhoneVerified bool      `json:"phone_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// VerifiedValues returns the on-file attribute values that are trusted as a
// source of truth, keyed by canonical field name. Only these may pre-mark a
// field as collected.
func (s *Subject) VerifiedValues() map[string]any {
	values := make(map[string]any)
	if s.Phone != "" && s.PhoneVerified {
		values["phone"] = s.Phone
		values["phone_number"] = s.Phone
	}
	return values
}
