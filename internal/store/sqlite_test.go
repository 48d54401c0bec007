package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/linqmd/voice-onboarding/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testSession(id, subjectID string, status domain.SessionStatus) *domain.Session {
	now := time.Now().Truncate(time.Second)
	return &domain.Session{
		ID:        id,
		SubjectID: subjectID,
		Status:    status,
		Language:  "en",
		TurnCount: 1,
		Transcript: []domain.ConversationMessage{
			{Role: domain.RoleAssistant, Content: "Hello!", Timestamp: now},
		},
		Fields: []*domain.FieldStatus{
			{Name: "full_name", DisplayName: "Full Name", Required: true},
			{Name: "phone", DisplayName: "Phone Number", Required: true,
				Value: "+919876543210", Collected: true, Confidence: 1.0},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	want := testSession("voice_1", "sub-1", domain.StatusActive)
	if err := repo.SaveSession(ctx, want); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := repo.GetSession(ctx, "voice_1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil {
		t.Fatal("session not found after save")
	}
	if got.Status != domain.StatusActive || got.SubjectID != "sub-1" || got.TurnCount != 1 {
		t.Fatalf("unexpected session: %+v", got)
	}
	if len(got.Transcript) != 1 || got.Transcript[0].Content != "Hello!" {
		t.Fatalf("transcript not preserved: %+v", got.Transcript)
	}
	phone := got.Fields[1]
	if !phone.Collected || phone.Confidence != 1.0 || phone.Value != "+919876543210" {
		t.Fatalf("field status not preserved: %+v", phone)
	}

	// Upsert replaces the mutable columns.
	want.Status = domain.StatusCollecting
	want.TurnCount = 3
	if err := repo.SaveSession(ctx, want); err != nil {
		t.Fatalf("SaveSession upsert failed: %v", err)
	}
	got, _ = repo.GetSession(ctx, "voice_1")
	if got.Status != domain.StatusCollecting || got.TurnCount != 3 {
		t.Fatalf("upsert did not apply: %+v", got)
	}
}

func TestGetSessionUnknown(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)

	got, err := repo.GetSession(context.Background(), "voice_missing")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown session, got %+v", got)
	}
}

func TestOpenSessionForSubject(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.SaveSession(ctx, testSession("voice_old", "sub-1", domain.StatusCancelled)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := repo.OpenSessionForSubject(ctx, "sub-1")
	if err != nil {
		t.Fatalf("OpenSessionForSubject failed: %v", err)
	}
	if got != nil {
		t.Fatalf("terminal session reported as open: %+v", got)
	}

	if err := repo.SaveSession(ctx, testSession("voice_open", "sub-1", domain.StatusCollecting)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	got, err = repo.OpenSessionForSubject(ctx, "sub-1")
	if err != nil {
		t.Fatalf("OpenSessionForSubject failed: %v", err)
	}
	if got == nil || got.ID != "voice_open" {
		t.Fatalf("expected the open session, got %+v", got)
	}
}

func TestMarkTerminalGuard(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.SaveSession(ctx, testSession("voice_1", "sub-1", domain.StatusCollecting)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	changed, err := repo.MarkTerminal(ctx, "voice_1", domain.StatusCancelled)
	if err != nil {
		t.Fatalf("MarkTerminal failed: %v", err)
	}
	if !changed {
		t.Fatal("expected the first mark to apply")
	}

	// Already terminal: the guard must reject a second transition.
	changed, err = repo.MarkTerminal(ctx, "voice_1", domain.StatusExpired)
	if err != nil {
		t.Fatalf("MarkTerminal failed: %v", err)
	}
	if changed {
		t.Fatal("terminal session must not transition again")
	}
	got, _ := repo.GetSession(ctx, "voice_1")
	if got.Status != domain.StatusCancelled {
		t.Fatalf("terminal status overwritten: %s", got.Status)
	}

	// Non-terminal target status is a programming error.
	if _, err := repo.MarkTerminal(ctx, "voice_1", domain.StatusCollecting); err == nil {
		t.Fatal("expected error for non-terminal target status")
	}
}

func TestSaveSessionGuardedAgainstTerminalOverwrite(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.SaveSession(ctx, testSession("voice_1", "sub-1", domain.StatusCollecting)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if _, err := repo.MarkTerminal(ctx, "voice_1", domain.StatusCancelled); err != nil {
		t.Fatalf("MarkTerminal failed: %v", err)
	}

	// A writer holding a pre-cancellation snapshot must not win the race.
	stale := testSession("voice_1", "sub-1", domain.StatusCollecting)
	stale.TurnCount = 5
	if err := repo.SaveSession(ctx, stale); !errors.Is(err, domain.ErrSessionTerminal) {
		t.Fatalf("expected ErrSessionTerminal, got %v", err)
	}

	got, err := repo.GetSession(ctx, "voice_1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != domain.StatusCancelled || got.TurnCount != 1 {
		t.Fatalf("terminal row overwritten: status=%s turns=%d", got.Status, got.TurnCount)
	}

	// Updates between live states pass the guard.
	if err := repo.SaveSession(ctx, testSession("voice_2", "sub-2", domain.StatusActive)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	next := testSession("voice_2", "sub-2", domain.StatusConfirming)
	if err := repo.SaveSession(ctx, next); err != nil {
		t.Fatalf("save over a live row failed: %v", err)
	}
}

func TestExpireIdleSessions(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	stale := testSession("voice_stale", "sub-1", domain.StatusCollecting)
	stale.UpdatedAt = time.Now().Add(-time.Hour)
	fresh := testSession("voice_fresh", "sub-2", domain.StatusCollecting)
	done := testSession("voice_done", "sub-3", domain.StatusCompleted)
	done.UpdatedAt = time.Now().Add(-time.Hour)

	for _, s := range []*domain.Session{stale, fresh, done} {
		if err := repo.SaveSession(ctx, s); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}

	n, err := repo.ExpireIdleSessions(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("ExpireIdleSessions failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 session expired, got %d", n)
	}

	got, _ := repo.GetSession(ctx, "voice_stale")
	if got.Status != domain.StatusExpired {
		t.Fatalf("stale session not expired: %s", got.Status)
	}
	got, _ = repo.GetSession(ctx, "voice_fresh")
	if got.Status != domain.StatusCollecting {
		t.Fatalf("fresh session touched: %s", got.Status)
	}
	got, _ = repo.GetSession(ctx, "voice_done")
	if got.Status != domain.StatusCompleted {
		t.Fatalf("terminal session touched: %s", got.Status)
	}
}

func TestSubjectRoundTrip(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetSubject(ctx, "sub-missing")
	if err != nil {
		t.Fatalf("GetSubject failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown subject, got %+v", got)
	}

	now := time.Now().Truncate(time.Second)
	subject := &domain.Subject{ID: "sub-1", CreatedAt: now, UpdatedAt: now}
	if err := repo.UpsertSubject(ctx, subject); err != nil {
		t.Fatalf("UpsertSubject failed: %v", err)
	}

	got, err = repo.GetSubject(ctx, "sub-1")
	if err != nil {
		t.Fatalf("GetSubject failed: %v", err)
	}
	if got == nil || got.Phone != "" || got.PhoneVerified {
		t.Fatalf("unexpected subject: %+v", got)
	}

	subject.Phone = "+919876543210"
	subject.PhoneVerified = true
	if err := repo.UpsertSubject(ctx, subject); err != nil {
		t.Fatalf("UpsertSubject update failed: %v", err)
	}
	got, _ = repo.GetSubject(ctx, "sub-1")
	if got.Phone != "+919876543210" || !got.PhoneVerified {
		t.Fatalf("verified phone not persisted: %+v", got)
	}
}
