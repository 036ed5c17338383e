package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

type countingLimiter struct {
	calls map[string]int
	err   error
}

func (c *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	c.calls[key]++
	return c.calls[key] <= limit, nil
}

func TestRateLimitOnlyCountsWrites(t *testing.T) {
	lim := &countingLimiter{calls: map[string]int{}}
	h := RateLimit(lim, 2, time.Minute)(okHandler)

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pools", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %d limited", i)
		}
	}

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/pools/x/bets", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
	if lim.calls["api:10.0.0.1"] != 3 {
		t.Fatalf("limiter keys: %v", lim.calls)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	h := RateLimit(&countingLimiter{err: errors.New("redis down")}, 1, time.Minute)(okHandler)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestAuthSkip(t *testing.T) {
	h := Auth("k", func(r *http.Request) bool { return r.URL.Path == "/open" })(okHandler)

	tests := []struct {
		path   string
		header string
		value  string
		want   int
	}{
		{"/open", "", "", http.StatusOK},
		{"/closed", "", "", http.StatusUnauthorized},
		{"/closed", "Authorization", "Bearer k", http.StatusOK},
		{"/closed", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"/closed", "X-API-Key", "k", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if tt.header != "" {
			req.Header.Set(tt.header, tt.value)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s %s=%q: got %d, want %d", tt.path, tt.header, tt.value, rec.Code, tt.want)
		}
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/api/pools", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unexpected CORS header for foreign origin")
	}
}
