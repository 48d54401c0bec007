package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/linqmd/voice-onboarding/internal/catalogue"
	"github.com/linqmd/voice-onboarding/internal/domain"
	"github.com/linqmd/voice-onboarding/internal/store"
)

const greeting = "Hello! I'm here to help you complete your registration. " +
	"Just answer in your own words and I'll take care of the form. "

// EventPublisher receives a session snapshot after every state change.
// Implementations must not block.
type EventPublisher interface {
	Publish(session *domain.Session)
}

// Service is the session state machine. It owns the session record and all
// lifecycle transitions, and orchestrates prefill, extraction and field
// tracking for each conversational turn.
//
// All operations on one session serialize through the lock registry; the
// only exception is Cancel, which uses a guarded store update so it never
// waits behind an in-flight model call.
type Service struct {
	repo      store.Repository
	extractor *Extractor
	tracker   *Tracker
	base      *catalogue.Catalogue
	locks     *lockRegistry
	timeout   time.Duration
	turnLog   TurnLogger
	events    EventPublisher
	now       func() time.Time
	logger    *slog.Logger
}

// NewService creates the session engine.
func NewService(
	repo store.Repository,
	extractor *Extractor,
	tracker *Tracker,
	base *catalogue.Catalogue,
	sessionTimeout time.Duration,
	turnLog TurnLogger,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if turnLog == nil {
		turnLog = noopTurnLogger{}
	}
	return &Service{
		repo:      repo,
		extractor: extractor,
		tracker:   tracker,
		base:      base,
		locks:     newLockRegistry(),
		timeout:   sessionTimeout,
		turnLog:   turnLog,
		now:       time.Now,
		logger:    logger,
	}
}

// SetEventPublisher wires the optional live event stream.
func (s *Service) SetEventPublisher(events EventPublisher) {
	s.events = events
}

// StartInput starts a new onboarding session for a subject.
type StartInput struct {
	SubjectID string
	Language  string
	Context   *domain.Context
}

// StartOutput carries the created session and its opening prompt.
type StartOutput struct {
	Session     *domain.Session
	FirstPrompt string
}

// Start creates a session. A subject has at most one open session: an
// existing open session is cancelled before the new one is created.
func (s *Service) Start(ctx context.Context, in StartInput) (*StartOutput, error) {
	if err := in.Context.Validate(); err != nil {
		return nil, err
	}

	cat, err := catalogue.Resolve(s.base, in.Context)
	if err != nil {
		return nil, err
	}

	language := in.Language
	if language == "" {
		language = "en"
	}

	log := s.logger.With("subject_id", in.SubjectID)

	if prior, err := s.repo.OpenSessionForSubject(ctx, in.SubjectID); err != nil {
		return nil, fmt.Errorf("find open session: %w", err)
	} else if prior != nil {
		if _, err := s.repo.MarkTerminal(ctx, prior.ID, domain.StatusCancelled); err != nil {
			return nil, fmt.Errorf("supersede session %s: %w", prior.ID, err)
		}
		log.Info("superseded open session", "prior_session_id", prior.ID)
	}

	subject, err := s.repo.GetSubject(ctx, in.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("load subject: %w", err)
	}

	now := s.now()
	session := &domain.Session{
		ID:        "voice_" + uuid.NewString(),
		SubjectID: in.SubjectID,
		Status:    domain.StatusActive,
		Language:  language,
		Fields:    Prefill(cat, subject, s.tracker),
		CreatedAt: now,
		UpdatedAt: now,
	}

	prompt := greeting
	if next := session.NextField(); next != nil {
		field, _ := cat.Lookup(next.Name)
		prompt += field.Question
	} else {
		// Everything required was on file already; go straight to recap.
		prompt = RecapMessage(session)
		if err := session.Transition(domain.StatusConfirming); err != nil {
			return nil, err
		}
	}

	session.Append(domain.RoleAssistant, prompt, now)

	if err := s.repo.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	log.Info("session started",
		"session_id", session.ID,
		"language", language,
		"fields_total", len(session.Fields),
		"prefilled", session.CollectedCount())

	s.logTurn(session, domain.RoleAssistant, prompt)
	s.publish(session)

	return &StartOutput{Session: session, FirstPrompt: prompt}, nil
}

// ChatInput is one user turn against an open session.
type ChatInput struct {
	SessionID  string
	Transcript string
	Context    *domain.Context
}

// ChatOutput carries the assistant's reply and the updated session.
type ChatOutput struct {
	Session *domain.Session
	Reply   string
}

// Chat processes one conversational turn: append the user's message, run
// extraction against the outstanding field set, merge the results, and
// decide the next prompt or lifecycle transition.
func (s *Service) Chat(ctx context.Context, in ChatInput) (*ChatOutput, error) {
	if err := in.Context.Validate(); err != nil {
		return nil, err
	}
	cat, err := catalogue.Resolve(s.base, in.Context)
	if err != nil {
		return nil, err
	}

	release := s.locks.Acquire(in.SessionID)
	defer release()

	session, err := s.loadOpen(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if session.Status == domain.StatusActive {
		if err := session.Transition(domain.StatusCollecting); err != nil {
			return nil, err
		}
	}
	session.Append(domain.RoleUser, in.Transcript, now)
	s.logTurn(session, domain.RoleUser, in.Transcript)

	var reply string
	if session.Status == domain.StatusConfirming {
		reply, err = s.confirmTurn(ctx, session, cat, in.Transcript)
	} else {
		reply, err = s.collectTurn(ctx, session, cat, Hints(session, in.Context), in.Transcript)
	}
	if err != nil {
		return nil, err
	}

	session.Append(domain.RoleAssistant, reply, s.now())
	session.Touch(s.now())

	// A cancellation may have landed while a model call was in flight. The
	// store's guarded upsert refuses to overwrite a terminal row, so the
	// turn's result is discarded instead of resurrecting the session.
	if err := s.repo.SaveSession(ctx, session); err != nil {
		if errors.Is(err, domain.ErrSessionTerminal) {
			return nil, domain.ErrSessionTerminal
		}
		return nil, fmt.Errorf("save session: %w", err)
	}

	s.logger.Info("turn processed",
		"session_id", session.ID,
		"status", session.Status,
		"collected", session.CollectedCount(),
		"fields_total", len(session.Fields))

	s.logTurn(session, domain.RoleAssistant, reply)
	s.publish(session)

	return &ChatOutput{Session: session, Reply: reply}, nil
}

// collectTurn runs extraction and merges updates while the session is
// gathering fields.
func (s *Service) collectTurn(
	ctx context.Context,
	session *domain.Session,
	cat *catalogue.Catalogue,
	hints map[string]any,
	transcript string,
) (string, error) {
	result, err := s.extractor.Extract(ctx, session, cat, hints, transcript)
	if err != nil {
		// A stalled turn is recoverable; re-ask the current field instead of
		// failing the session.
		return s.fallbackReply(session, cat), nil
	}

	s.applyResult(session, cat, result)

	if session.IsComplete() {
		if err := session.Transition(domain.StatusConfirming); err != nil {
			return "", err
		}
		return RecapMessage(session), nil
	}

	if result.Reply != "" {
		return result.Reply, nil
	}
	return s.fallbackReply(session, cat), nil
}

// confirmTurn interprets the subject's response to the recap.
func (s *Service) confirmTurn(
	ctx context.Context,
	session *domain.Session,
	cat *catalogue.Catalogue,
	transcript string,
) (string, error) {
	result, err := s.extractor.Interpret(ctx, session, cat, transcript)
	if err != nil {
		return RecapMessage(session), nil
	}

	if result.Confirmed {
		for _, fs := range session.Fields {
			s.tracker.Confirm(fs)
		}
		if err := session.Transition(domain.StatusCompleted); err != nil {
			return "", err
		}
		return CompletionMessage(), nil
	}

	if result.DisputedField != "" {
		fs := session.Field(result.DisputedField)
		if fs == nil {
			return RecapMessage(session), nil
		}
		s.tracker.Clear(fs)

		// The dispute may carry the replacement value in the same breath.
		if value, ok := result.Corrections[result.DisputedField]; ok {
			s.applyOne(session, cat, result.DisputedField, value,
				result.ConfidenceFor(result.DisputedField, true))
		}

		if session.IsComplete() {
			return RecapMessage(session), nil
		}
		if err := session.Transition(domain.StatusCollecting); err != nil {
			return "", err
		}
		if result.Reply != "" {
			return result.Reply, nil
		}
		field, _ := cat.Lookup(fs.Name)
		return ReopenMessage(fs.DisplayName, field.Question), nil
	}

	// Neither a confirmation nor a dispute; repeat the recap.
	if result.Reply != "" {
		return result.Reply, nil
	}
	return RecapMessage(session), nil
}

// applyResult merges a full extraction result through the tracker.
func (s *Service) applyResult(session *domain.Session, cat *catalogue.Catalogue, result *ExtractionResult) {
	for name, value := range result.Extracted {
		s.applyOne(session, cat, name, value, result.ConfidenceFor(name, false))
	}
	for name, value := range result.Corrections {
		fs := session.Field(name)
		if fs == nil {
			continue
		}
		// A correction supersedes the stored value regardless of its
		// confidence: the subject explicitly contradicted the old answer.
		s.tracker.Clear(fs)
		if value != nil {
			s.applyOne(session, cat, name, value, result.ConfidenceFor(name, true))
		}
	}
}

func (s *Service) applyOne(session *domain.Session, cat *catalogue.Catalogue, name string, value any, confidence float64) {
	fs := session.Field(name)
	if fs == nil {
		return
	}
	field, ok := cat.Lookup(name)
	if !ok {
		return
	}
	normalized := field.Normalize(value)
	if normalized == nil || !field.Valid(normalized) {
		s.logger.Debug("rejected extracted value",
			"session_id", session.ID, "field", name)
		return
	}
	s.tracker.Apply(fs, normalized, confidence)
}

func (s *Service) fallbackReply(session *domain.Session, cat *catalogue.Catalogue) string {
	next := session.NextField()
	if next == nil {
		return RecapMessage(session)
	}
	field, _ := cat.Lookup(next.Name)
	question := field.Question
	if question == "" {
		question = fmt.Sprintf("Could you tell me your %s?", next.DisplayName)
	}
	return "Sorry, I didn't quite catch that. " + question
}

// Get returns a session, lazily expiring it when idle past the timeout.
// Unlike Chat, reading an expired session is not an error: the caller sees
// the terminal record.
func (s *Service) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	release := s.locks.Acquire(sessionID)
	defer release()

	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}

	if session.IdleExpired(s.now(), s.timeout) {
		if _, err := s.repo.MarkTerminal(ctx, sessionID, domain.StatusExpired); err != nil {
			return nil, fmt.Errorf("expire session: %w", err)
		}
		session.Status = domain.StatusExpired
		s.logger.Info("session expired on access", "session_id", sessionID)
	}

	return session, nil
}

// Cancel marks a session cancelled. It deliberately skips the session lock:
// the guarded store update cannot conflict with an in-flight turn, whose
// result is discarded once the session is terminal.
func (s *Service) Cancel(ctx context.Context, sessionID string) error {
	changed, err := s.repo.MarkTerminal(ctx, sessionID, domain.StatusCancelled)
	if err != nil {
		return fmt.Errorf("cancel session: %w", err)
	}
	if changed {
		s.logger.Info("session cancelled", "session_id", sessionID)
		return nil
	}

	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return domain.ErrSessionNotFound
	}
	return domain.ErrSessionTerminal
}

// ExpiresAfter exposes the configured inactivity timeout.
func (s *Service) ExpiresAfter() time.Duration {
	return s.timeout
}

// loadOpen fetches a session and enforces the non-terminal, non-expired
// preconditions shared by turn-processing operations.
func (s *Service) loadOpen(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	if session.Status.Terminal() {
		return nil, domain.ErrSessionTerminal
	}
	if session.IdleExpired(s.now(), s.timeout) {
		if _, err := s.repo.MarkTerminal(ctx, sessionID, domain.StatusExpired); err != nil {
			return nil, fmt.Errorf("expire session: %w", err)
		}
		s.logger.Info("session expired on access", "session_id", sessionID)
		return nil, domain.ErrSessionTerminal
	}
	return session, nil
}

func (s *Service) logTurn(session *domain.Session, role domain.Role, content string) {
	s.turnLog.Log(TurnEvent{
		SessionID: session.ID,
		SubjectID: session.SubjectID,
		Role:      string(role),
		Content:   content,
		Status:    string(session.Status),
	})
}

func (s *Service) publish(session *domain.Session) {
	if s.events != nil {
		s.events.Publish(session)
	}
}
