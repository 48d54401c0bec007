package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/linqmd/voice-onboarding/internal/ai"
	"github.com/linqmd/voice-onboarding/internal/catalogue"
	"github.com/linqmd/voice-onboarding/internal/domain"
)

// ErrExtraction marks an unrecoverable extraction attempt. The state machine
// never surfaces it to the subject; it re-asks the current field instead.
var ErrExtraction = errors.New("extraction failed")

const (
	// transcriptWindow bounds how many trailing turns are replayed to the
	// model for context.
	transcriptWindow = 12

	defaultExtractConfidence = 0.8
	defaultCorrectConfidence = 0.9
)

// ExtractionResult is the parsed structured output of one model call.
type ExtractionResult struct {
	// Extracted holds newly mentioned field values.
	Extracted map[string]any `json:"extracted_fields"`
	// Corrections holds values the subject restated to fix an earlier answer.
	Corrections map[string]any `json:"corrections"`
	// Confidence scores per field name, in [0,1].
	Confidence map[string]float64 `json:"confidence"`
	// Reply is the assistant's conversational response.
	Reply string `json:"response_text"`

	// Confirmation-turn outcome.
	Confirmed     bool   `json:"confirmed"`
	DisputedField string `json:"disputed_field"`
}

// Extractor orchestrates one conversational turn against the generation
// capability: prompt assembly, a single retry with backoff, and structured
// output parsing.
type Extractor struct {
	gen        ai.Generator
	retryDelay time.Duration
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewExtractor creates an extractor over a generation capability.
func NewExtractor(gen ai.Generator, retryDelay time.Duration, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}
	return &Extractor{
		gen:        gen,
		retryDelay: retryDelay,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Extract interprets the latest user turn against the outstanding field set.
// One failed attempt is retried after a backoff; a second failure returns
// ErrExtraction and the caller falls back to re-asking.
func (e *Extractor) Extract(
	ctx context.Context,
	session *domain.Session,
	cat *catalogue.Catalogue,
	hints map[string]any,
	userTurn string,
) (*ExtractionResult, error) {
	prompt := buildExtractionPrompt(session, cat, hints, userTurn)
	return e.call(ctx, session.ID, prompt)
}

// Interpret parses a confirmation-stage turn: an affirmative, or a dispute
// naming the field that is wrong.
func (e *Extractor) Interpret(
	ctx context.Context,
	session *domain.Session,
	cat *catalogue.Catalogue,
	userTurn string,
) (*ExtractionResult, error) {
	prompt := buildConfirmationPrompt(session, cat, userTurn)
	return e.call(ctx, session.ID, prompt)
}

func (e *Extractor) call(ctx context.Context, sessionID, prompt string) (*ExtractionResult, error) {
	result, err := e.once(ctx, prompt)
	if err == nil {
		return result, nil
	}

	e.logger.Warn("extraction attempt failed, retrying",
		"session_id", sessionID, "delay", e.retryDelay, "error", err)

	if sleepErr := e.sleep(ctx, e.retryDelay); sleepErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, sleepErr)
	}

	result, err = e.once(ctx, prompt)
	if err != nil {
		e.logger.Error("extraction failed after retry", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return result, nil
}

func (e *Extractor) once(ctx context.Context, prompt string) (*ExtractionResult, error) {
	raw, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseResult(raw)
}

// parseResult decodes the model's JSON, tolerating markdown code fences.
func parseResult(raw string) (*ExtractionResult, error) {
	cleaned := stripFences(raw)

	var result ExtractionResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, fmt.Errorf("parse model output: %w", err)
	}
	if result.Reply == "" {
		return nil, errors.New("model output missing response_text")
	}
	return &result, nil
}

// stripFences removes a wrapping markdown code block, which the model emits
// despite being asked for bare JSON.
func stripFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = cleaned[len("```json"):]
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = cleaned[len("```"):]
	}
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	return strings.TrimSpace(cleaned)
}

// ConfidenceFor returns the reported confidence for a field, defaulting per
// update kind when the model omitted a score.
func (r *ExtractionResult) ConfidenceFor(field string, correction bool) float64 {
	if c, ok := r.Confidence[field]; ok {
		return c
	}
	if correction {
		return defaultCorrectConfidence
	}
	return defaultExtractConfidence
}

func buildExtractionPrompt(
	session *domain.Session,
	cat *catalogue.Catalogue,
	hints map[string]any,
	userTurn string,
) string {
	var b strings.Builder

	b.WriteString("You are a friendly onboarding assistant collecting a professional's profile ")
	b.WriteString("over a voice conversation. Interpret the user's latest message, extract any ")
	b.WriteString("field values it contains, and reply conversationally in language ")
	b.WriteString(fmt.Sprintf("%q.\n\n", session.Language))

	b.WriteString("Fields still to collect, in order:\n")
	for _, fs := range session.Outstanding() {
		f, _ := cat.Lookup(fs.Name)
		fmt.Fprintf(&b, "- %s (%s): %s\n", fs.Name, f.Type, f.Question)
	}

	if data := session.CurrentData(); len(data) > 0 {
		b.WriteString("\nAlready collected (do not ask again):\n")
		for _, fs := range session.Fields {
			if fs.Collected {
				fmt.Fprintf(&b, "- %s: %v\n", fs.Name, fs.Value)
			}
		}
	}

	if len(hints) > 0 {
		b.WriteString("\nUnverified values claimed by the caller; confirm them, never assume them:\n")
		for key, value := range hints {
			fmt.Fprintf(&b, "- %s: %v\n", key, value)
		}
	}

	writeTranscript(&b, session)

	fmt.Fprintf(&b, "\nUser said: %q\n\n", userTurn)
	b.WriteString("Respond with only a JSON object:\n")
	b.WriteString(`{"extracted_fields": {"field_name": value}, "corrections": {"field_name": value}, ` +
		`"confidence": {"field_name": 0.0-1.0}, "response_text": "your reply, ending with the ` +
		`question for the next missing field"}`)
	b.WriteString("\nUse corrections only when the user changes a previously collected value. ")
	b.WriteString("Never re-ask for fields already collected.")

	return b.String()
}

func buildConfirmationPrompt(session *domain.Session, cat *catalogue.Catalogue, userTurn string) string {
	var b strings.Builder

	b.WriteString("You are a friendly onboarding assistant. All profile fields are collected and ")
	b.WriteString("the user was just read a recap for final confirmation. Decide whether the ")
	b.WriteString(fmt.Sprintf("latest message confirms the recap. Reply in language %q.\n\n", session.Language))

	b.WriteString("Collected values:\n")
	for _, fs := range session.Fields {
		if fs.Collected {
			fmt.Fprintf(&b, "- %s (%s): %v\n", fs.Name, fs.DisplayName, fs.Value)
		}
	}

	writeTranscript(&b, session)

	fmt.Fprintf(&b, "\nUser said: %q\n\n", userTurn)
	b.WriteString("Respond with only a JSON object:\n")
	b.WriteString(`{"confirmed": true|false, "disputed_field": "field_name or empty", ` +
		`"corrections": {"field_name": value}, "confidence": {"field_name": 0.0-1.0}, ` +
		`"response_text": "your reply"}`)
	b.WriteString("\nIf the user disputes a value, name it in disputed_field; include the ")
	b.WriteString("replacement in corrections only when they stated one.")

	return b.String()
}

func writeTranscript(b *strings.Builder, session *domain.Session) {
	transcript := session.Transcript
	if len(transcript) > transcriptWindow {
		transcript = transcript[len(transcript)-transcriptWindow:]
	}
	if len(transcript) == 0 {
		return
	}
	b.WriteString("\nConversation so far:\n")
	for _, msg := range transcript {
		fmt.Fprintf(b, "%s: %s\n", msg.Role, msg.Content)
	}
}
