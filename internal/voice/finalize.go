package voice

import (
	"context"
	"fmt"
	"strings"

	"github.com/linqmd/voice-onboarding/internal/domain"
)

// honorifics recognized at the front of a spoken full name.
var honorifics = map[string]string{
	"dr":        "Dr.",
	"dr.":       "Dr.",
	"doctor":    "Dr.",
	"prof":      "Prof.",
	"prof.":     "Prof.",
	"professor": "Prof.",
	"mr":        "Mr.",
	"mr.":       "Mr.",
	"mrs":       "Mrs.",
	"mrs.":      "Mrs.",
	"ms":        "Ms.",
	"ms.":       "Ms.",
}

// FinalizeOutput is the profile handover payload built from a completed
// session.
type FinalizeOutput struct {
	SessionID string         `json:"session_id"`
	SubjectID string         `json:"subject_id"`
	Success   bool           `json:"success"`
	Profile   map[string]any `json:"profile_data"`
	// Confidence carries the per-field scores at completion time so the
	// receiving system can audit what was machine-extracted.
	Confidence map[string]float64 `json:"confidence_scores"`
}

// Finalize closes out a completed session and transforms the collected
// fields into the profile shape downstream registration expects. Sessions
// still collecting or awaiting confirmation are rejected.
func (s *Service) Finalize(ctx context.Context, sessionID string) (*FinalizeOutput, error) {
	release := s.locks.Acquire(sessionID)
	defer release()

	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	if session.Status == domain.StatusCancelled || session.Status == domain.StatusExpired {
		return nil, domain.ErrSessionTerminal
	}
	if session.IdleExpired(s.now(), s.timeout) {
		if _, err := s.repo.MarkTerminal(ctx, sessionID, domain.StatusExpired); err != nil {
			return nil, fmt.Errorf("expire session: %w", err)
		}
		return nil, domain.ErrSessionTerminal
	}
	if !session.IsComplete() {
		return nil, domain.ErrSessionIncomplete
	}

	if session.Status != domain.StatusCompleted {
		if err := session.Transition(domain.StatusCompleted); err != nil {
			return nil, err
		}
		session.Touch(s.now())
		if err := s.repo.SaveSession(ctx, session); err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}
		s.publish(session)
	}

	out := &FinalizeOutput{
		SessionID:  session.ID,
		SubjectID:  session.SubjectID,
		Success:    true,
		Profile:    buildProfile(session),
		Confidence: make(map[string]float64),
	}
	for _, f := range session.Fields {
		if f.Collected {
			out.Confidence[f.Name] = f.Confidence
		}
	}

	s.logger.Info("session finalized", "session_id", session.ID,
		"subject_id", session.SubjectID, "fields", len(out.Confidence))

	return out, nil
}

// buildProfile maps collected fields onto the registration profile. The
// full name splits into title, first and last name; everything else passes
// through under its field name.
func buildProfile(session *domain.Session) map[string]any {
	profile := make(map[string]any)
	for _, f := range session.Fields {
		if !f.Collected {
			continue
		}
		if f.Name == "full_name" {
			title, first, last := splitFullName(fmt.Sprint(f.Value))
			if title != "" {
				profile["title"] = title
			}
			profile["first_name"] = first
			profile["last_name"] = last
			continue
		}
		profile[f.Name] = f.Value
	}
	return profile
}

// splitFullName separates an optional honorific, a first name, and the
// remainder as the last name. A single bare name becomes the first name
// with an empty last name.
func splitFullName(name string) (title, first, last string) {
	parts := strings.Fields(strings.TrimSpace(name))
	if len(parts) == 0 {
		return "", "", ""
	}
	if t, ok := honorifics[strings.ToLower(parts[0])]; ok {
		title = t
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return title, "", ""
	}
	first = parts[0]
	if len(parts) > 1 {
		last = strings.Join(parts[1:], " ")
	}
	return title, first, last
}
