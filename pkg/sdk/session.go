package sdk

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// SessionKind distinguishes the two ways a session authenticates its requests.
type SessionKind int

const (
	// SessionCookie sessions come from the GPGAuth handshake and send the
	// session cookie plus the CSRF token.
	SessionCookie SessionKind = iota + 1
	// SessionToken sessions come from the JWT login and send a bearer token.
	SessionToken
)

func (k SessionKind) String() string {
	switch k {
	case SessionCookie:
		return "cookie"
	case SessionToken:
		return "token"
	default:
		return "unknown"
	}
}

// csrfFetcher retrieves the CSRF token for a session. It is called at most once
// successfully per session.
type csrfFetcher func(ctx context.Context, s *Session) (string, error)

// Session is an authenticated operator session. It is passed explicitly to every
// call that needs authentication; credentials change only on login, refresh and
// logout.
type Session struct {
	kind   SessionKind
	userID string

	mu        sync.RWMutex
	sessionID string
	token     *oauth2.Token
	csrf      string

	csrfMu    sync.Mutex
	fetchCSRF csrfFetcher
}

func newCookieSession(sessionID string, fetch csrfFetcher) *Session {
	return &Session{
		kind:      SessionCookie,
		sessionID: sessionID,
		fetchCSRF: fetch,
	}
}

func newTokenSession(userID string, token *oauth2.Token, fetch csrfFetcher) *Session {
	return &Session{
		kind:      SessionToken,
		userID:    userID,
		token:     token,
		fetchCSRF: fetch,
	}
}

// Kind reports how the session authenticates.
func (s *Session) Kind() SessionKind {
	return s.kind
}

// UserID returns the user identifier a token session was opened for.
func (s *Session) UserID() string {
	return s.userID
}

// SessionID returns the cookie session identifier, empty for token sessions or
// after logout.
func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Token returns a copy of the token credentials, nil for cookie sessions or after
// logout.
func (s *Session) Token() *oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return nil
	}
	tok := *s.token
	return &tok
}

// Active reports whether the session still holds credentials.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID != "" || (s.token != nil && s.token.AccessToken != "")
}

// CachedCSRFToken returns the CSRF token if it has already been fetched.
func (s *Session) CachedCSRFToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.csrf
}

// CSRFToken returns the session's CSRF token, fetching it on first use. Once
// fetched it is never rotated for the lifetime of the session.
func (s *Session) CSRFToken(ctx context.Context) (string, error) {
	if tok := s.CachedCSRFToken(); tok != "" {
		return tok, nil
	}

	s.csrfMu.Lock()
	defer s.csrfMu.Unlock()

	if tok := s.CachedCSRFToken(); tok != "" {
		return tok, nil
	}
	if s.fetchCSRF == nil {
		return "", fmt.Errorf("%w: session has no csrf source", ErrProtocol)
	}

	tok, err := s.fetchCSRF(ctx, s)
	if err != nil {
		return "", err
	}
	if tok == "" {
		return "", fmt.Errorf("%w: empty csrf token", ErrProtocol)
	}

	s.mu.Lock()
	s.csrf = tok
	s.mu.Unlock()
	return tok, nil
}

// Authorize adds the session's credentials to req. Cookie sessions fetch the CSRF
// token first if needed; token sessions send it only once it is known.
func (s *Session) Authorize(ctx context.Context, req *Request) error {
	if req.Header == nil {
		req.Header = http.Header{}
	}

	switch s.kind {
	case SessionCookie:
		csrf, err := s.CSRFToken(ctx)
		if err != nil {
			return err
		}
		s.authorizeCookie(req, csrf)
	case SessionToken:
		s.mu.RLock()
		tok := s.token
		csrf := s.csrf
		s.mu.RUnlock()
		if tok == nil || tok.AccessToken == "" {
			return fmt.Errorf("%w: session has been logged out", ErrAuthenticationRejected)
		}
		req.Header.Set("Authorization", tok.Type()+" "+tok.AccessToken)
		if csrf != "" {
			req.Header.Set("X-CSRF-Token", csrf)
		}
	default:
		return fmt.Errorf("%w: unknown session kind %d", ErrProtocol, s.kind)
	}
	return nil
}

// authorizeCookie sets the cookie header without triggering a CSRF fetch. It is
// also used by the CSRF fetch itself.
func (s *Session) authorizeCookie(req *Request, csrf string) {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	header := cookieHeader(
		[2]string{SessionCookieName, s.SessionID()},
		[2]string{CSRFCookieName, csrf},
	)
	req.Header.Set("Cookie", header)
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
}

// replaceTokens swaps both tokens in one step. Callers must have checked that
// both values are present.
func (s *Session) replaceTokens(access, refresh string, expiry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		Expiry:       expiry,
	}
}

// clearCredentials drops every credential the session holds.
func (s *Session) clearCredentials() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = ""
	s.token = nil
	s.csrf = ""
}
