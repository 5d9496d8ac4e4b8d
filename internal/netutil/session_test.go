package netutil

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type sessionHarness struct {
	session *Session
	sleeps  []time.Duration
	notices []string
}

func newHarness(t *testing.T, mutate func(*SessionConfig)) *sessionHarness {
	t.Helper()
	h := &sessionHarness{}
	cfg := SessionConfig{
		UserAgent:  "driftwatch-test",
		CookiePath: filepath.Join(t.TempDir(), "cookies.json"),
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return ctx.Err()
		},
		Notify: func(msg string) { h.notices = append(h.notices, msg) },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.session = NewSession(cfg)
	return h
}

func TestRequest_RetriesServerErrorsUntilSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	h := newHarness(t, nil)
	resp, err := h.session.Request(context.Background(), http.MethodGet, srv.URL, RequestOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := string(resp.Body); got != "ok" {
		t.Errorf("body: got %q, want %q", got, "ok")
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("attempts: got %d, want 3", got)
	}
	if len(h.sleeps) != 2 {
		t.Errorf("sleeps: got %d, want 2", len(h.sleeps))
	}
	for i, msg := range h.notices {
		if !strings.Contains(msg, "down") {
			t.Errorf("notice %d: got %q, want site-down message", i, msg)
		}
	}
	if len(h.notices) != 2 {
		t.Errorf("notices: got %d, want 2", len(h.notices))
	}
}

func TestRequest_ClientErrorsAreNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	h := newHarness(t, nil)
	resp, err := h.session.Request(context.Background(), http.MethodGet, srv.URL, RequestOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", resp.StatusCode)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("attempts: got %d, want 1", got)
	}
}

func TestRequest_InvalidateAfterShortCircuits(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	h := newHarness(t, nil)
	_, err := h.session.Request(context.Background(), http.MethodGet, srv.URL, RequestOptions{
		InvalidateAfter: time.Now().Add(-time.Second),
	})
	if !errors.Is(err, ErrRequestInvalid) {
		t.Fatalf("got %v, want ErrRequestInvalid", err)
	}
	if got := hits.Load(); got != 0 {
		t.Errorf("attempts: got %d, want 0", got)
	}
}

func TestRequest_CancelledContextStopsBeforeAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := newHarness(t, nil)
	_, err := h.session.Request(ctx, http.MethodGet, srv.URL, RequestOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestRequest_ConnectionErrorsNotifyFromSecondAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	attempts := 0
	h := &sessionHarness{}
	cfg := SessionConfig{
		CookiePath: filepath.Join(t.TempDir(), "cookies.json"),
		Sleep: func(ctx context.Context, d time.Duration) error {
			attempts++
			if attempts >= 2 {
				return context.Canceled
			}
			return nil
		},
		Notify: func(msg string) { h.notices = append(h.notices, msg) },
	}
	h.session = NewSession(cfg)

	_, err := h.session.Request(context.Background(), http.MethodGet, url, RequestOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	// First failed attempt retries silently; the second one tells the user.
	if len(h.notices) != 1 {
		t.Fatalf("notices: got %d (%q), want 1", len(h.notices), h.notices)
	}
	if !strings.Contains(h.notices[0], "Connection problems") {
		t.Errorf("notice: got %q, want connection-problems message", h.notices[0])
	}
}

func TestRequest_TLSVerificationFailureIsImmediate(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	h := newHarness(t, nil)
	_, err := h.session.Request(context.Background(), http.MethodGet, srv.URL, RequestOptions{})
	var certErr *tls.CertificateVerificationError
	if !errors.As(err, &certErr) {
		t.Fatalf("got %v, want certificate verification error", err)
	}
	if len(h.sleeps) != 0 {
		t.Errorf("sleeps: got %d, want 0", len(h.sleeps))
	}
}

func TestRequest_SetsUserAgentHeadersAndBody(t *testing.T) {
	var gotUA, gotCT, gotCustom, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotCT = r.Header.Get("Content-Type")
		gotCustom = r.Header.Get("Client-Id")
		b := make([]byte, r.ContentLength)
		r.Body.Read(b)
		gotBody = string(b)
	}))
	defer srv.Close()

	h := newHarness(t, nil)
	_, err := h.session.Request(context.Background(), http.MethodPost, srv.URL, RequestOptions{
		Headers:     http.Header{"Client-Id": []string{"abc123"}},
		Body:        []byte(`{"op":1}`),
		ContentType: "application/json",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUA != "driftwatch-test" {
		t.Errorf("user agent: got %q", gotUA)
	}
	if gotCT != "application/json" {
		t.Errorf("content type: got %q", gotCT)
	}
	if gotCustom != "abc123" {
		t.Errorf("client id: got %q", gotCustom)
	}
	if gotBody != `{"op":1}` {
		t.Errorf("body: got %q", gotBody)
	}
}

func TestQualityClamp(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{-3, 1},
		{0, 1},
		{1, 1},
		{4, 4},
		{6, 6},
		{9, 6},
	}
	for _, tt := range tests {
		if got := clampQuality(tt.in); got != tt.want {
			t.Errorf("clampQuality(%d): got %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSessionTimeoutsScaleWithQuality(t *testing.T) {
	h := newHarness(t, func(cfg *SessionConfig) {
		cfg.Quality = func() int { return 3 }
	})
	if got, want := h.session.TotalTimeout(), 30*time.Second; got != want {
		t.Errorf("total timeout: got %v, want %v", got, want)
	}
}
