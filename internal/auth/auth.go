// Package auth implements the login state machine: session identity, device
// id acquisition, the OAuth device-code flow and token validation against
// the platform's introspection endpoint. The resulting State satisfies both
// the GraphQL client's Authorizer and the pubsub pool's TokenSource.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/driftwatch/driftwatch/internal/clientinfo"
	"github.com/driftwatch/driftwatch/internal/logx"
	"github.com/driftwatch/driftwatch/internal/netutil"
	"github.com/driftwatch/driftwatch/internal/retry"
	"github.com/driftwatch/driftwatch/internal/syncutil"
	"github.com/driftwatch/driftwatch/internal/twitch"
)

// Endpoint is the production OAuth service.
const Endpoint = "https://id.twitch.tv"

// Config wires a State to its client identity and HTTP session.
type Config struct {
	Client  clientinfo.Client
	Session *netutil.Session

	// URL overrides the OAuth service base; tests point it at a fake.
	URL string
	// Prompt presents the device-flow activation page and user code.
	// Defaults to a log line.
	Prompt func(verificationURI, userCode string)
	// Sleep waits between token polls; injectable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// State carries everything the platform uses to recognize a logged-in
// viewer: a per-process session id, the browser-equivalent device id, the
// OAuth access token and the validated user id. Validate populates the
// missing pieces, is serialized by a mutex and is cheap once complete, so
// callers may run it before every request.
type State struct {
	cfg Config

	mu        sync.Mutex
	sessionID string
	deviceID  string
	token     *oauth2.Token
	userID    int64

	loggedIn *syncutil.Gate
}

func New(cfg Config) *State {
	if cfg.URL == "" {
		cfg.URL = Endpoint
	}
	if cfg.Prompt == nil {
		cfg.Prompt = func(verificationURI, userCode string) {
			log.Printf("[auth] visit %s and enter code: %s", verificationURI, userCode)
		}
	}
	if cfg.Sleep == nil {
		cfg.Sleep = retry.Sleep
	}
	return &State{cfg: cfg, loggedIn: syncutil.NewGate()}
}

// deviceGrant is the device endpoint's response.
type deviceGrant struct {
	DeviceCode      string `json:"device_code"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
}

// tokenGrant is the token endpoint's response.
type tokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// validateData is the introspection endpoint's response.
type validateData struct {
	ClientID string    `json:"client_id"`
	Login    string    `json:"login"`
	UserID   twitch.ID `json:"user_id"`
}

// Validate ensures a fully populated, verified login. Steps already
// completed are skipped, so the first call does the work and later calls
// return immediately.
//
// The flow: ensure a session id; visit the client URL once to receive the
// unique_id cookie that becomes the device id; adopt the auth-token cookie
// or run the OAuth device-code flow; verify the token against the
// introspection endpoint, clearing the client host's cookies on a 401 and
// the whole jar (plus the cookie file) when the token belongs to a
// different client id; finally record the user id and persist the jar.
func (s *State) Validate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessionID == "" {
		s.sessionID = hexNonce(16)
	}
	jar := s.cfg.Session.Jar()
	host := s.clientHost()

	if s.deviceID == "" {
		// Visiting the site makes the server set the unique_id cookie.
		_, err := s.cfg.Session.Request(ctx, http.MethodGet, s.cfg.Client.URL, netutil.RequestOptions{
			Headers: s.headersLocked(false),
		})
		if err != nil {
			return err
		}
		s.deviceID = jar.Value(host, "unique_id")
		if s.deviceID == "" {
			return fmt.Errorf("auth: no unique_id cookie after visiting %s", s.cfg.Client.URL)
		}
		logx.Debugf("auth", "device id: %s", s.deviceID)
	}

	if s.token == nil || s.userID == 0 {
		logx.Infof("auth", "checking login")
		var verified *validateData
	mismatch:
		for outer := 0; outer < 2; outer++ {
			var resp *validateData
			for inner := 0; inner < 2; inner++ {
				if cookieToken := jar.Value(host, "auth-token"); cookieToken == "" {
					granted, err := s.oauthLogin(ctx)
					if err != nil {
						return err
					}
					s.token = granted
					jar.SetValue(host, "auth-token", granted.AccessToken)
				} else if s.token == nil {
					logx.Infof("auth", "restoring session from cookie")
					s.token = &oauth2.Token{AccessToken: cookieToken, TokenType: "bearer"}
				}

				r, err := s.cfg.Session.Request(ctx, http.MethodGet, s.cfg.URL+"/oauth2/validate", netutil.RequestOptions{
					Headers: http.Header{"Authorization": {"OAuth " + s.token.AccessToken}},
				})
				if err != nil {
					return err
				}
				if r.StatusCode == http.StatusUnauthorized {
					// The token we hold is no longer valid. Drop it along
					// with the host's cookies and authenticate from scratch.
					logx.Infof("auth", "restored session is invalid")
					s.token = nil
					jar.ClearHost(host)
					continue
				}
				if r.StatusCode == http.StatusOK {
					var vd validateData
					if err := r.JSON(&vd); err != nil {
						return err
					}
					resp = &vd
					break
				}
				return fmt.Errorf("auth: unexpected validation status %s", r.Status)
			}
			if resp == nil {
				return fmt.Errorf("%w (token invalid twice)", ErrLoginFailed)
			}
			if resp.ClientID == s.cfg.Client.ID {
				verified = resp
				break mismatch
			}
			// The stored token was issued to a different client identity.
			// Only a full reset gets rid of every cookie tied to it.
			logx.Infof("auth", "cookie client id mismatch")
			s.token = nil
			if err := s.cfg.Session.ResetCookies(); err != nil {
				return err
			}
		}
		if verified == nil {
			return fmt.Errorf("%w (client id mismatch persisted)", ErrLoginFailed)
		}
		s.userID = verified.UserID.Int64()
		jar.SetValue(host, "persistent", strconv.FormatInt(s.userID, 10))
		logx.Infof("auth", "login successful, user id: %d", s.userID)
		if err := s.cfg.Session.SaveCookies(); err != nil {
			logx.Warnf("auth", "saving cookies: %v", err)
		}
	}

	s.loggedIn.Open()
	return nil
}

// oauthLogin runs the OAuth device-code flow: request a device code, show
// the activation URL and user code, then poll the token endpoint every
// interval until the user finishes. An expired device code restarts the
// flow with a fresh one.
func (s *State) oauthLogin(ctx context.Context) (*oauth2.Token, error) {
	headers := s.headersLocked(false)
	headers.Set("Accept", "application/json")
	headers.Set("Origin", s.cfg.Client.URL)
	headers.Set("Referer", s.cfg.Client.URL)

	deviceForm := url.Values{
		"client_id": {s.cfg.Client.ID},
		"scopes":    {""},
	}
	tokenForm := url.Values{
		"client_id":  {s.cfg.Client.ID},
		"grant_type": {"urn:ietf:params:oauth:grant-type:device_code"},
	}

	for {
		now := time.Now()
		resp, err := s.cfg.Session.Request(ctx, http.MethodPost, s.cfg.URL+"/oauth2/device", netutil.RequestOptions{
			Headers:     headers,
			Body:        []byte(deviceForm.Encode()),
			ContentType: "application/x-www-form-urlencoded",
		})
		if err != nil {
			return nil, err
		}
		var grant deviceGrant
		if err := resp.JSON(&grant); err != nil {
			return nil, err
		}
		expiresAt := now.Add(time.Duration(grant.ExpiresIn) * time.Second)
		interval := time.Duration(grant.Interval) * time.Second
		if interval <= 0 {
			interval = 5 * time.Second
		}

		s.cfg.Prompt(grant.VerificationURI, grant.UserCode)
		tokenForm.Set("device_code", grant.DeviceCode)

		for {
			// Sleep first; the user won't have entered the code yet.
			if err := s.cfg.Sleep(ctx, interval); err != nil {
				return nil, err
			}
			resp, err := s.cfg.Session.Request(ctx, http.MethodPost, s.cfg.URL+"/oauth2/token", netutil.RequestOptions{
				Headers:         headers,
				Body:            []byte(tokenForm.Encode()),
				ContentType:     "application/x-www-form-urlencoded",
				InvalidateAfter: expiresAt,
			})
			if errors.Is(err, netutil.ErrRequestInvalid) {
				// The device code expired before the user entered it.
				logx.Infof("auth", "device code expired, requesting a new one")
				break
			}
			if err != nil {
				return nil, err
			}
			if resp.StatusCode != http.StatusOK {
				// 400 means the user hasn't entered the code yet.
				continue
			}
			var tok tokenGrant
			if err := resp.JSON(&tok); err != nil {
				return nil, err
			}
			logx.Infof("auth", "access token granted")
			return &oauth2.Token{
				AccessToken:  tok.AccessToken,
				RefreshToken: tok.RefreshToken,
				TokenType:    tok.TokenType,
			}, nil
		}
	}
}

// Headers builds the request header set the platform expects from this
// client. The gql variant adds the origin and the authorization token.
func (s *State) Headers(gql bool) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headersLocked(gql)
}

func (s *State) headersLocked(gql bool) http.Header {
	h := http.Header{}
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "en-US")
	h.Set("Pragma", "no-cache")
	h.Set("Cache-Control", "no-cache")
	h.Set("Client-Id", s.cfg.Client.ID)
	if s.sessionID != "" {
		h.Set("Client-Session-Id", s.sessionID)
	}
	if s.deviceID != "" {
		h.Set("X-Device-Id", s.deviceID)
	}
	if gql {
		h.Set("Origin", s.cfg.Client.URL)
		h.Set("Referer", s.cfg.Client.URL)
		if s.token != nil {
			h.Set("Authorization", "OAuth "+s.token.AccessToken)
		}
	}
	return h
}

// AccessToken returns the current OAuth token, or "" before login.
func (s *State) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return ""
	}
	return s.token.AccessToken
}

// UserID returns the validated user id, or 0 before login.
func (s *State) UserID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// AwaitLogin blocks until a Validate call has completed successfully.
func (s *State) AwaitLogin(ctx context.Context) error {
	return s.loggedIn.Wait(ctx)
}

// LoggedIn reports whether a validated login exists, without blocking.
func (s *State) LoggedIn() bool {
	return s.loggedIn.IsOpen()
}

func (s *State) clientHost() string {
	u, err := url.Parse(s.cfg.Client.URL)
	if err != nil {
		return s.cfg.Client.URL
	}
	return u.Hostname()
}

const hexChars = "0123456789abcdef"

// hexNonce returns n random lowercase hex characters, the session id format.
func hexNonce(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = hexChars[rand.Intn(len(hexChars))]
	}
	return string(b)
}
