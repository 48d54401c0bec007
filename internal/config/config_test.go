package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.SessionTimeout != 30*time.Minute {
		t.Errorf("expected 30m session timeout, got %v", cfg.SessionTimeout)
	}
	if cfg.ConfidenceThreshold != 0.75 {
		t.Errorf("expected 0.75 threshold, got %v", cfg.ConfidenceThreshold)
	}
	if cfg.Gemini.MaxRetries != 3 {
		t.Errorf("expected 3 retries, got %d", cfg.Gemini.MaxRetries)
	}
	if !cfg.TurnLog.Enabled || cfg.TurnLog.QueueSize != 1000 {
		t.Errorf("unexpected turn log defaults: %+v", cfg.TurnLog)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9191")
	t.Setenv("SESSION_TIMEOUT", "10m")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.9")
	t.Setenv("RATE_LIMIT_REQUESTS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "9191" {
		t.Errorf("port override not applied: %q", cfg.Port)
	}
	if cfg.SessionTimeout != 10*time.Minute {
		t.Errorf("timeout override not applied: %v", cfg.SessionTimeout)
	}
	if cfg.ConfidenceThreshold != 0.9 {
		t.Errorf("threshold override not applied: %v", cfg.ConfidenceThreshold)
	}
	if cfg.RateLimit.RequestsPerWindow != 5 {
		t.Errorf("rate limit override not applied: %d", cfg.RateLimit.RequestsPerWindow)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := &Config{
		Port:                "8080",
		DBPath:              "./data/test.db",
		SessionTimeout:      30 * time.Minute,
		ConfidenceThreshold: 0.75,
	}
	valid.Gemini.MaxRetries = 3
	valid.TurnLog.QueueSize = 100
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := *valid
	bad.ConfidenceThreshold = 1.5
	if err := bad.Validate(); err == nil {
		t.Fatal("out-of-range threshold accepted")
	}

	bad = *valid
	bad.SessionTimeout = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("zero session timeout accepted")
	}
}

func TestIsDevelopment(t *testing.T) {
	t.Parallel()

	cases := []struct {
		url  string
		want bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:3000", true},
		{"https://app.example.com", false},
	}
	for _, tc := range cases {
		c := &Config{FrontendURL: tc.url}
		if got := c.IsDevelopment(); got != tc.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}
