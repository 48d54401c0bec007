// Package identity resolves the onboarding subject for each request.
//
// In production the service sits behind an authenticating gateway that has
// already completed phone OTP verification; the gateway forwards the
// subject ID and the verified phone number in trusted headers. In
// development, where no gateway exists, an anonymous per-device cookie
// stands in for the subject ID.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/linqmd/voice-onboarding/internal/domain"
	"github.com/linqmd/voice-onboarding/internal/store"
)

const (
	SubjectHeaderName       = "X-Subject-ID"
	VerifiedPhoneHeaderName = "X-Verified-Phone"
	AnonCookieName          = "vob_anon_id"
	anonCookieMaxAge        = 30 * 24 * time.Hour
)

type contextKey int

const (
	subjectIDKey contextKey = iota
	verifiedPhoneKey
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	subjectIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// SubjectIDFromContext extracts the subject ID from the request context.
func SubjectIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(subjectIDKey).(string); ok {
		return v
	}
	return ""
}

// VerifiedPhoneFromContext extracts the gateway-verified phone number, or
// empty when the subject has no verified phone.
func VerifiedPhoneFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(verifiedPhoneKey).(string); ok {
		return v
	}
	return ""
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func isValidSubjectID(id string) bool {
	return subjectIDPattern.MatchString(id)
}

// sanitizePhone keeps digits and a leading plus. The gateway already
// verified the number; this only guards header shape.
func sanitizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(strings.TrimPrefix(s, "+")) < 10 {
		return ""
	}
	return s
}

// ensureSubject creates the subject record on first sight and records the
// verified phone when the gateway supplies one.
func ensureSubject(ctx context.Context, repo store.Repository, subjectID, verifiedPhone string) error {
	subject, err := repo.GetSubject(ctx, subjectID)
	if err != nil {
		return err
	}

	now := time.Now()
	if subject == nil {
		subject = &domain.Subject{
			ID:        subjectID,
			CreatedAt: now,
		}
	} else if verifiedPhone == "" || (subject.PhoneVerified && subject.Phone == verifiedPhone) {
		return nil
	}

	if verifiedPhone != "" {
		subject.Phone = verifiedPhone
		subject.PhoneVerified = true
	}
	subject.UpdatedAt = now
	return repo.UpsertSubject(ctx, subject)
}

func anonSubjectID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, nil
}

// Middleware resolves the subject from the gateway headers and injects it
// into the request context. Requests with no resolvable subject are
// rejected before reaching any handler.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subjectID := strings.TrimSpace(r.Header.Get(SubjectHeaderName))
			switch {
			case subjectID != "" && isValidSubjectID(subjectID):
				// trusted gateway header
			case isDev:
				id, err := anonSubjectID(w, r, isDev)
				if err != nil {
					http.Error(w, `{"error":"failed to establish identity"}`, http.StatusInternalServerError)
					return
				}
				subjectID = id
			default:
				http.Error(w, `{"error":"missing subject identity"}`, http.StatusUnauthorized)
				return
			}

			verifiedPhone := sanitizePhone(r.Header.Get(VerifiedPhoneHeaderName))

			if err := ensureSubject(r.Context(), repo, subjectID, verifiedPhone); err != nil {
				http.Error(w, `{"error":"failed to initialize subject"}`, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), subjectIDKey, subjectID)
			if verifiedPhone != "" {
				ctx = context.WithValue(ctx, verifiedPhoneKey, verifiedPhone)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
