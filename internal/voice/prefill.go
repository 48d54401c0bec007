package voice

import (
	"github.com/linqmd/voice-onboarding/internal/catalogue"
	"github.com/linqmd/voice-onboarding/internal/domain"
)

// Prefill computes the initial field status map for a session from the
// active catalogue and the subject's verified on-file attributes.
//
// Only verified values pre-mark a field as collected (confidence 1.0). A
// value the caller merely claims in context stays uncollected; it is passed
// to extraction as a hint and must be confirmed through conversation.
func Prefill(cat *catalogue.Catalogue, subject *domain.Subject, tracker *Tracker) []*domain.FieldStatus {
	var verified map[string]any
	if subject != nil {
		verified = subject.VerifiedValues()
	}

	var fields []*domain.FieldStatus
	for _, f := range cat.Fields() {
		fs := &domain.FieldStatus{
			Name:        f.Name,
			DisplayName: f.DisplayName,
			Required:    f.Required,
			Confidence:  0.0,
		}
		if value, ok := verified[f.Name]; ok {
			if normalized := f.Normalize(value); normalized != nil && f.Valid(normalized) {
				tracker.Seed(fs, normalized)
			}
		}
		fields = append(fields, fs)
	}
	return fields
}

// Hints returns the unverified caller-context values usable as extraction
// hints, restricted to fields the session has not collected yet.
func Hints(session *domain.Session, cctx *domain.Context) map[string]any {
	if cctx == nil || len(cctx.Values) == 0 {
		return nil
	}
	hints := make(map[string]any)
	for key, value := range cctx.Values {
		if fs := session.Field(key); fs != nil && !fs.Collected {
			hints[key] = value
		}
	}
	return hints
}
