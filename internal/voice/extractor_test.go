package voice

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/linqmd/voice-onboarding/internal/ai"
	"github.com/linqmd/voice-onboarding/internal/catalogue"
	"github.com/linqmd/voice-onboarding/internal/domain"
)

func noSleep(e *Extractor) {
	e.sleep = func(context.Context, time.Duration) error { return nil }
}

func collectingSession() *domain.Session {
	return &domain.Session{
		ID:       "voice_test",
		Status:   domain.StatusCollecting,
		Language: "en",
		Fields: []*domain.FieldStatus{
			{Name: "full_name", DisplayName: "Full Name", Required: true},
			{Name: "email", DisplayName: "Email Address", Required: true},
		},
	}
}

func TestExtractParsesModelOutput(t *testing.T) {
	t.Parallel()

	gen := ai.GeneratorFunc(func(context.Context, string) (string, error) {
		return `{"extracted_fields": {"full_name": "Dr. Neeraj Kumar"},
			"confidence": {"full_name": 0.95},
			"response_text": "Thanks! What email should we use?"}`, nil
	})
	e := NewExtractor(gen, time.Millisecond, nil)
	noSleep(e)

	result, err := e.Extract(context.Background(), collectingSession(), catalogue.Default(), nil, "My name is Dr. Neeraj Kumar")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if result.Extracted["full_name"] != "Dr. Neeraj Kumar" {
		t.Fatalf("unexpected extraction: %v", result.Extracted)
	}
	if result.ConfidenceFor("full_name", false) != 0.95 {
		t.Fatalf("unexpected confidence: %v", result.Confidence)
	}
	if result.Reply == "" {
		t.Fatal("reply missing")
	}
}

func TestExtractStripsMarkdownFences(t *testing.T) {
	t.Parallel()

	gen := ai.GeneratorFunc(func(context.Context, string) (string, error) {
		return "```json\n{\"extracted_fields\": {}, \"response_text\": \"Could you repeat that?\"}\n```", nil
	})
	e := NewExtractor(gen, time.Millisecond, nil)
	noSleep(e)

	result, err := e.Extract(context.Background(), collectingSession(), catalogue.Default(), nil, "mumble")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if result.Reply != "Could you repeat that?" {
		t.Fatalf("unexpected reply: %q", result.Reply)
	}
}

func TestExtractRetriesOnceThenSucceeds(t *testing.T) {
	t.Parallel()

	calls := 0
	gen := ai.GeneratorFunc(func(context.Context, string) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("upstream timeout")
		}
		return `{"extracted_fields": {}, "response_text": "ok"}`, nil
	})
	e := NewExtractor(gen, time.Millisecond, nil)
	noSleep(e)

	if _, err := e.Extract(context.Background(), collectingSession(), catalogue.Default(), nil, "hi"); err != nil {
		t.Fatalf("expected retry to recover: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls)
	}
}

func TestExtractFailsAfterRetry(t *testing.T) {
	t.Parallel()

	calls := 0
	gen := ai.GeneratorFunc(func(context.Context, string) (string, error) {
		calls++
		return "", errors.New("upstream down")
	})
	e := NewExtractor(gen, time.Millisecond, nil)
	noSleep(e)

	_, err := e.Extract(context.Background(), collectingSession(), catalogue.Default(), nil, "hi")
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls)
	}
}

func TestExtractRejectsOutputWithoutReply(t *testing.T) {
	t.Parallel()

	gen := ai.GeneratorFunc(func(context.Context, string) (string, error) {
		return `{"extracted_fields": {"email": "a@b.com"}}`, nil
	})
	e := NewExtractor(gen, time.Millisecond, nil)
	noSleep(e)

	if _, err := e.Extract(context.Background(), collectingSession(), catalogue.Default(), nil, "a@b.com"); !errors.Is(err, ErrExtraction) {
		t.Fatalf("output without response_text must fail: %v", err)
	}
}

func TestInterpretConfirmationOutcome(t *testing.T) {
	t.Parallel()

	gen := ai.GeneratorFunc(func(context.Context, string) (string, error) {
		return `{"confirmed": false, "disputed_field": "email",
			"corrections": {"email": "new@clinic.example"},
			"response_text": "Let me fix that."}`, nil
	})
	e := NewExtractor(gen, time.Millisecond, nil)
	noSleep(e)

	result, err := e.Interpret(context.Background(), collectingSession(), catalogue.Default(), "no, the email is wrong")
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	if result.Confirmed {
		t.Fatal("dispute parsed as confirmation")
	}
	if result.DisputedField != "email" || result.Corrections["email"] != "new@clinic.example" {
		t.Fatalf("unexpected dispute payload: %+v", result)
	}
}

func TestConfidenceForDefaults(t *testing.T) {
	t.Parallel()

	r := &ExtractionResult{}
	if got := r.ConfidenceFor("full_name", false); got != defaultExtractConfidence {
		t.Fatalf("extraction default: got %v", got)
	}
	if got := r.ConfidenceFor("full_name", true); got != defaultCorrectConfidence {
		t.Fatalf("correction default: got %v", got)
	}
}

func TestPromptExcludesCollectedFromOutstanding(t *testing.T) {
	t.Parallel()

	session := collectingSession()
	session.Fields[0].Collected = true
	session.Fields[0].Value = "Dr. Neeraj Kumar"
	session.Fields[0].Confidence = 0.9

	prompt := buildExtractionPrompt(session, catalogue.Default(), nil, "hello")
	if !strings.Contains(prompt, "Already collected (do not ask again)") {
		t.Fatalf("prompt missing collected section:\n%s", prompt)
	}
	if strings.Contains(prompt, "- full_name (text)") {
		t.Fatal("collected field listed as still to collect")
	}
}
