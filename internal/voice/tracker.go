// Package voice implements the voice onboarding session engine: context
// prefill, per-turn extraction, field status tracking, the session state
// machine and the final confirmation flow.
package voice

import (
	"github.com/linqmd/voice-onboarding/internal/domain"
)

// Tracker owns field status mutations. Every value written into a session's
// field map flows through Apply or Clear so the merge rules hold everywhere.
type Tracker struct {
	// threshold is the confidence below which an accepted value is flagged
	// for confirmation before the session may leave collecting.
	threshold float64
}

// NewTracker creates a tracker with the given confidence threshold.
func NewTracker(threshold float64) *Tracker {
	return &Tracker{threshold: threshold}
}

// Apply merges a new extraction into a field's status. The update wins when
// the field is not yet collected, or when the new confidence is at least the
// stored one; ties favor the newest conversational evidence. Returns true
// when the update was accepted.
func (t *Tracker) Apply(fs *domain.FieldStatus, value any, confidence float64) bool {
	if fs == nil || value == nil {
		return false
	}
	if fs.Collected && confidence < fs.Confidence {
		return false
	}

	fs.Value = value
	fs.Collected = true
	fs.Confidence = clamp(confidence)
	fs.NeedsConfirmation = fs.Confidence < t.threshold
	return true
}

// Seed marks a field collected from a verified on-file source. Seeded fields
// carry confidence 1.0 and never need confirmation.
func (t *Tracker) Seed(fs *domain.FieldStatus, value any) {
	fs.Value = value
	fs.Collected = true
	fs.Confidence = 1.0
	fs.NeedsConfirmation = false
}

// Confirm resolves a pending confirmation, promoting the value to full
// confidence.
func (t *Tracker) Confirm(fs *domain.FieldStatus) {
	if !fs.Collected {
		return
	}
	fs.Confidence = 1.0
	fs.NeedsConfirmation = false
}

// Clear resets a field after the subject contradicts its value, re-opening
// it for collection.
func (t *Tracker) Clear(fs *domain.FieldStatus) {
	fs.Value = nil
	fs.Collected = false
	fs.Confidence = 0.0
	fs.NeedsConfirmation = false
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
