package voice

import (
	"testing"

	"github.com/linqmd/voice-onboarding/internal/catalogue"
	"github.com/linqmd/voice-onboarding/internal/domain"
)

func TestPrefillSeedsVerifiedPhoneOnly(t *testing.T) {
	t.Parallel()

	subject := &domain.Subject{
		ID:            "sub-1",
		Phone:         "+919876543210",
		PhoneVerified: true,
	}

	fields := Prefill(catalogue.Default(), subject, NewTracker(0.75))

	var phone, email *domain.FieldStatus
	for _, f := range fields {
		switch f.Name {
		case "phone":
			phone = f
		case "email":
			email = f
		}
	}

	if phone == nil || !phone.Collected || phone.Confidence != 1.0 {
		t.Fatalf("verified phone should be pre-collected at full confidence: %+v", phone)
	}
	if email == nil || email.Collected {
		t.Fatalf("email has no verified source and must start uncollected: %+v", email)
	}
}

func TestPrefillIgnoresUnverifiedSubject(t *testing.T) {
	t.Parallel()

	subject := &domain.Subject{ID: "sub-2", Phone: "+919876543210"}
	fields := Prefill(catalogue.Default(), subject, NewTracker(0.75))

	for _, f := range fields {
		if f.Collected {
			t.Fatalf("field %s collected without a verified source", f.Name)
		}
		if f.Confidence != 0.0 {
			t.Fatalf("uncollected field %s has confidence %v", f.Name, f.Confidence)
		}
	}
}

func TestPrefillNilSubject(t *testing.T) {
	t.Parallel()

	fields := Prefill(catalogue.Default(), nil, NewTracker(0.75))
	if len(fields) != catalogue.Default().Len() {
		t.Fatalf("expected a status per catalogue field, got %d", len(fields))
	}
	for _, f := range fields {
		if f.Collected {
			t.Fatalf("field %s collected with no subject", f.Name)
		}
	}
}

func TestHintsExcludeCollectedFields(t *testing.T) {
	t.Parallel()

	session := &domain.Session{
		Fields: []*domain.FieldStatus{
			{Name: "phone", Collected: true, Value: "+919876543210", Confidence: 1.0},
			{Name: "email"},
			{Name: "full_name"},
		},
	}
	cctx := &domain.Context{Values: map[string]any{
		"phone":   "+911112223334",
		"email":   "dr@clinic.example",
		"unknown": "x",
	}}

	hints := Hints(session, cctx)
	if _, ok := hints["phone"]; ok {
		t.Fatal("collected field must not appear in hints")
	}
	if hints["email"] != "dr@clinic.example" {
		t.Fatalf("expected email hint, got %v", hints)
	}
	if _, ok := hints["unknown"]; ok {
		t.Fatal("values for unknown fields must be dropped")
	}

	if got := Hints(session, nil); got != nil {
		t.Fatalf("nil context should produce no hints, got %v", got)
	}
}
