// Package netutil provides the persistent HTTP session all platform traffic
// goes through: quality-scaled timeouts, cookie persistence, proxy support
// and a retry loop with exponential backoff.
package netutil

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/driftwatch/driftwatch/internal/logx"
	"github.com/driftwatch/driftwatch/internal/retry"
)

// SessionConfig configures a Session. Zero-value fields get usable defaults.
type SessionConfig struct {
	UserAgent  string
	CookiePath string

	// Quality returns the user's connection quality setting, clamped to
	// [1, 6] at use. Connect timeout is 5·q seconds, total timeout 10·q.
	Quality func() int
	// ProxyURL returns the proxy to route requests through, or "".
	ProxyURL func() string
	// Notify surfaces retry waits to the user. Defaults to a warning log.
	Notify func(msg string)
	// Sleep waits between retries; injectable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Session is the single persistent HTTP session of the process. The
// underlying client is built lazily on first use so settings read at
// construction time still apply.
type Session struct {
	cfg SessionConfig

	mu     sync.Mutex
	client *http.Client
	jar    *Jar
	total  time.Duration
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.Quality == nil {
		cfg.Quality = func() int { return 1 }
	}
	if cfg.ProxyURL == nil {
		cfg.ProxyURL = func() string { return "" }
	}
	if cfg.Notify == nil {
		cfg.Notify = func(msg string) { logx.Warnf("http", "%s", msg) }
	}
	if cfg.Sleep == nil {
		cfg.Sleep = retry.Sleep
	}
	return &Session{cfg: cfg}
}

// RequestOptions carries per-request parameters. Body is a byte slice rather
// than a reader so retries can replay it.
type RequestOptions struct {
	Headers         http.Header
	Body            []byte
	ContentType     string
	InvalidateAfter time.Time
}

// Response is a fully-read HTTP response. Reading the body eagerly keeps
// connection errors inside the retry loop instead of surfacing at first use.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Request performs an HTTP request, retrying transport errors and 5xx
// statuses with exponential backoff capped at 3 minutes. TLS certificate
// failures surface immediately. When opts.InvalidateAfter is set and the
// next attempt could not complete before it, ErrRequestInvalid is returned.
func (s *Session) Request(ctx context.Context, method, rawURL string, opts RequestOptions) (*Response, error) {
	client, _, total := s.ensure()

	base, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range opts.Headers {
		base.Header[k] = vs
	}
	if opts.ContentType != "" {
		base.Header.Set("Content-Type", opts.ContentType)
	}
	if base.Header.Get("User-Agent") == "" && s.cfg.UserAgent != "" {
		base.Header.Set("User-Agent", s.cfg.UserAgent)
	}

	logx.Debugf("http", "request: %s %s", method, rawURL)
	bo := retry.NewBackoff(retry.BackoffConfig{Max: 3 * time.Minute})
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !opts.InvalidateAfter.IsZero() && !time.Now().Add(total).Before(opts.InvalidateAfter) {
			return nil, ErrRequestInvalid
		}

		resp, err := s.attempt(ctx, client, base, opts.Body)
		var delay time.Duration
		switch {
		case err == nil && resp.StatusCode < 500:
			logx.Debugf("http", "response: %d for %s %s", resp.StatusCode, method, rawURL)
			return resp, nil
		case err == nil:
			delay = bo.Next()
			s.cfg.Notify(fmt.Sprintf("Twitch is down, retrying in %d seconds...", wholeSeconds(delay)))
		default:
			var certErr *tls.CertificateVerificationError
			if errors.As(err, &certErr) {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			delay = bo.Next()
			logx.Debugf("http", "request failed: %v", err)
			if bo.Steps() > 1 {
				s.cfg.Notify(fmt.Sprintf("Connection problems, retrying in %d seconds...", wholeSeconds(delay)))
			}
		}
		if err := s.cfg.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (s *Session) attempt(ctx context.Context, client *http.Client, base *http.Request, body []byte) (*Response, error) {
	req := base.Clone(ctx)
	if len(body) > 0 {
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Jar exposes the session's cookie jar, building the session if needed.
func (s *Session) Jar() *Jar {
	_, jar, _ := s.ensure()
	return jar
}

// TotalTimeout reports the session's total per-attempt timeout.
func (s *Session) TotalTimeout() time.Duration {
	_, _, total := s.ensure()
	return total
}

// ResetCookies drops every cookie and deletes the cookie file.
func (s *Session) ResetCookies() error {
	_, jar, _ := s.ensure()
	jar.Clear()
	if err := os.Remove(s.cfg.CookiePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// SaveCookies persists the jar to the configured cookie file. No-op while
// the session hasn't been used yet.
func (s *Session) SaveCookies() error {
	s.mu.Lock()
	jar := s.jar
	s.mu.Unlock()
	if jar == nil {
		return nil
	}
	return jar.Save(s.cfg.CookiePath)
}

// Close saves the cookie jar. Call during shutdown.
func (s *Session) Close() error {
	return s.SaveCookies()
}

func (s *Session) ensure() (*http.Client, *Jar, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, s.jar, s.total
	}

	q := clampQuality(s.cfg.Quality())
	connect := time.Duration(5*q) * time.Second
	s.total = time.Duration(10*q) * time.Second
	s.jar = loadJar(s.cfg.CookiePath)

	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: connect}).DialContext,
		TLSHandshakeTimeout: connect,
		MaxIdleConns:        50,
		ForceAttemptHTTP2:   true,
	}
	if p := s.cfg.ProxyURL(); p != "" {
		if u, err := url.Parse(p); err == nil && u.Scheme != "" {
			transport.Proxy = http.ProxyURL(u)
		} else {
			logx.Warnf("http", "ignoring unparseable proxy url %q", p)
		}
	}

	s.client = &http.Client{
		Transport: transport,
		Jar:       s.jar,
		Timeout:   s.total,
	}
	return s.client, s.jar, s.total
}

func clampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 6 {
		return 6
	}
	return q
}

func wholeSeconds(d time.Duration) int {
	return int(d.Round(time.Second) / time.Second)
}
