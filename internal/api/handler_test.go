package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestRateLimiter(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Minute)

	if !rl.Allow("sub-1") || !rl.Allow("sub-1") {
		t.Fatal("requests within the limit should be allowed")
	}
	if rl.Allow("sub-1") {
		t.Fatal("request over the limit should be rejected")
	}

	// Another subject has an independent budget.
	if !rl.Allow("sub-2") {
		t.Fatal("limits must be per subject")
	}
}
