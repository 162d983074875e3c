package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestRateLimitByIP_EnforcesLimit verifies the per-IP request budget
func TestRateLimitByIP_EnforcesLimit(t *testing.T) {
	config := RateLimitConfig{RequestLimit: 3, Window: 1 * time.Minute}
	handler := RateLimitByIP(config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/sessions", nil)
		req.RemoteAddr = "203.0.113.10:4567"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)

		if recorder.Code != http.StatusOK {
			t.Errorf("request %d failed with status %d, expected 200", i+1, recorder.Code)
		}
	}

	req := httptest.NewRequest("POST", "/sessions", nil)
	req.RemoteAddr = "203.0.113.10:4567"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after limit, got %d", recorder.Code)
	}
	if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}
	if body := recorder.Body.String(); body != `{"error":"Rate limit exceeded"}` {
		t.Errorf("unexpected response body: %s", body)
	}
}

// TestRateLimitByIP_IsolatesClientBuckets verifies separate budgets per IP
func TestRateLimitByIP_IsolatesClientBuckets(t *testing.T) {
	config := RateLimitConfig{RequestLimit: 2, Window: 1 * time.Minute}
	handler := RateLimitByIP(config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// First client exhausts its budget
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/sessions", nil)
		req.RemoteAddr = "203.0.113.20:4567"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		if recorder.Code != http.StatusOK {
			t.Errorf("first client request %d failed", i+1)
		}
	}

	// Second client still has its own budget
	req := httptest.NewRequest("POST", "/sessions", nil)
	req.RemoteAddr = "203.0.113.21:4567"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Errorf("second client should have independent budget, got status %d", recorder.Code)
	}
}
