package netutil

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/net/publicsuffix"

	"github.com/driftwatch/driftwatch/internal/logx"
)

// Jar is a cookie jar with disk persistence. The standard jar cannot
// enumerate its contents, so Jar keeps its own record of every cookie it has
// seen alongside the real jar that handles matching.
type Jar struct {
	mu      sync.Mutex
	inner   http.CookieJar
	entries map[string]*http.Cookie // canonical domain + "\x00" + name
	lastSum uint64
	hasSum  bool
}

type storedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

func newJar() *Jar {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		// Only possible with invalid options.
		panic(err)
	}
	return &Jar{inner: inner, entries: make(map[string]*http.Cookie)}
}

// loadJar restores a jar from path. A missing or unreadable file yields an
// empty jar; cookies are a cache, not state worth failing over.
func loadJar(path string) *Jar {
	j := newJar()
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logx.Warnf("http", "discarding cookie file %s: %v", path, err)
		}
		return j
	}
	var stored []storedCookie
	if err := json.Unmarshal(data, &stored); err != nil {
		logx.Warnf("http", "discarding cookie file %s: %v", path, err)
		return j
	}
	now := time.Now()
	for _, sc := range stored {
		if sc.Value == "" || (!sc.Expires.IsZero() && sc.Expires.Before(now)) {
			continue
		}
		c := &http.Cookie{
			Name:     sc.Name,
			Value:    sc.Value,
			Domain:   sc.Domain,
			Path:     sc.Path,
			Expires:  sc.Expires,
			Secure:   sc.Secure,
			HttpOnly: sc.HTTPOnly,
		}
		if c.Path == "" {
			c.Path = "/"
		}
		j.SetCookies(&url.URL{Scheme: "https", Host: sc.Domain}, []*http.Cookie{c})
	}
	return j
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)

	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	for _, c := range cookies {
		domain := canonicalDomain(c.Domain, u)
		key := domain + "\x00" + c.Name
		if c.Value == "" || c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(now)) {
			delete(j.entries, key)
			continue
		}
		cc := *c
		cc.Domain = domain
		if cc.MaxAge > 0 {
			cc.Expires = now.Add(time.Duration(cc.MaxAge) * time.Second)
			cc.MaxAge = 0
		}
		j.entries[key] = &cc
	}
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

// Value returns the named cookie's value as it would be sent to
// https://host/, or "" when absent.
func (j *Jar) Value(host, name string) string {
	for _, c := range j.inner.Cookies(&url.URL{Scheme: "https", Host: host}) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// SetValue stores a domain cookie for host.
func (j *Jar) SetValue(host, name, value string) {
	j.SetCookies(&url.URL{Scheme: "https", Host: host}, []*http.Cookie{{
		Name:   name,
		Value:  value,
		Domain: host,
		Path:   "/",
	}})
}

// ClearHost removes all cookies that would be sent to host, including ones
// scoped to a parent domain.
func (j *Jar) ClearHost(host string) {
	host = strings.ToLower(host)

	j.mu.Lock()
	var expire []*http.Cookie
	for key, c := range j.entries {
		if !domainMatches(host, c.Domain) {
			continue
		}
		delete(j.entries, key)
		expire = append(expire, &http.Cookie{
			Name:   c.Name,
			Domain: c.Domain,
			Path:   c.Path,
			MaxAge: -1,
		})
	}
	j.mu.Unlock()

	if len(expire) > 0 {
		j.inner.SetCookies(&url.URL{Scheme: "https", Host: host}, expire)
	}
}

// Clear drops every cookie.
func (j *Jar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	fresh, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		panic(err)
	}
	j.inner = fresh
	j.entries = make(map[string]*http.Cookie)
}

// Save persists the jar to path, pruning empty and expired entries first.
// The write is skipped when nothing changed since the last Save.
func (j *Jar) Save(path string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	out := make([]storedCookie, 0, len(j.entries))
	for key, c := range j.entries {
		if c.Value == "" || (!c.Expires.IsZero() && c.Expires.Before(now)) {
			delete(j.entries, key)
			continue
		}
		out = append(out, storedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Domain != out[b].Domain {
			return out[a].Domain < out[b].Domain
		}
		return out[a].Name < out[b].Name
	})

	b, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return err
	}
	sum := xxh3.Hash(b)
	if j.hasSum && sum == j.lastSum {
		return nil
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return err
	}
	j.lastSum = sum
	j.hasSum = true
	return nil
}

func canonicalDomain(domain string, u *url.URL) string {
	d := strings.TrimPrefix(strings.ToLower(domain), ".")
	if d == "" {
		d = strings.ToLower(u.Hostname())
	}
	return d
}

// domainMatches reports whether a cookie scoped to domain is relevant to
// host: equal, host under the cookie domain, or the cookie domain under host.
func domainMatches(host, domain string) bool {
	return host == domain ||
		strings.HasSuffix(host, "."+domain) ||
		strings.HasSuffix(domain, "."+host)
}
