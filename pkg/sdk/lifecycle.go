package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/oauth2"
)

const (
	jwtRefreshPath = "/auth/jwt/refresh.json"
	jwtLogoutPath  = "/auth/jwt/logout.json"
	logoutPath     = "/auth/logout.json"
	csrfTokenPath  = "/users/csrf-token.json"
)

// SessionManager refreshes and terminates sessions. It is the only component,
// besides the authenticators, that changes a session's credentials.
type SessionManager struct {
	client    HTTPClient
	validator *schemaValidator
	logger    *pterm.Logger
	now       func() time.Time
}

// NewSessionManager creates a manager sending requests through client.
func NewSessionManager(client HTTPClient, optFns ...Option) (*SessionManager, error) {
	opts := newOptions(optFns)
	validator, err := newSchemaValidator(4)
	if err != nil {
		return nil, err
	}
	return &SessionManager{
		client:    client,
		validator: validator,
		logger:    opts.Logger,
		now:       time.Now,
	}, nil
}

// Resume opens a token session from tokens issued by an earlier login. The
// expiry is taken from the access token's claims when they can be read.
func (m *SessionManager) Resume(userID, accessToken, refreshToken string) (*Session, error) {
	if accessToken == "" || refreshToken == "" {
		return nil, ErrMissingTokens
	}

	var expiry time.Time
	if claims, err := ParseAccessTokenClaims(accessToken); err == nil {
		expiry = claims.Expiry()
	} else {
		m.logger.Debug("Access token claims unreadable, expiry unknown", m.logger.Args("user_id", userID, "error", err))
	}

	m.logger.Info("Resumed token session", m.logger.Args("user_id", userID))
	return newTokenSession(userID, &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		Expiry:       expiry,
	}, tokenCSRFFetcher(m.client)), nil
}

// Refresh exchanges the refresh token for a new token pair. Both tokens are
// replaced together; on any failure the session keeps its current tokens.
func (m *SessionManager) Refresh(ctx context.Context, s *Session) error {
	if s.Kind() != SessionToken {
		return fmt.Errorf("%w: refresh needs a token session, got %s", ErrProtocol, s.Kind())
	}
	tok := s.Token()
	if tok == nil || tok.RefreshToken == "" {
		return fmt.Errorf("%w: session has been logged out", ErrAuthenticationRejected)
	}

	// Writes carry the CSRF token when the server hands one out; refresh still
	// proceeds without it.
	if _, err := s.CSRFToken(ctx); err != nil {
		m.logger.Warn("CSRF token unavailable for refresh", m.logger.Args("user_id", s.UserID(), "error", err))
	}

	req, err := newJSONRequest(http.MethodPost, jwtRefreshPath, map[string]string{
		"user_id":       s.UserID(),
		"refresh_token": tok.RefreshToken,
	})
	if err != nil {
		return err
	}
	if err := s.Authorize(ctx, req); err != nil {
		return err
	}

	resp, err := m.client.Do(ctx, req)
	if err != nil {
		m.logger.Error("Token refresh failed", m.logger.Args("user_id", s.UserID(), "error", err))
		return err
	}
	if resp.StatusCode != http.StatusOK {
		statusErr := statusError("refresh tokens", resp)
		m.logger.Error("Token refresh rejected", m.logger.Args("user_id", s.UserID(), "status", resp.StatusCode, "error", statusErr))
		return fmt.Errorf("%w: %s", ErrAuthenticationRejected, statusErr)
	}

	var raw json.RawMessage
	if err := decodeBody(resp, "refresh tokens", &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return ErrMissingTokens
	}
	if err := m.validator.validate(schemaTokenPair, raw); err != nil {
		return err
	}
	var pair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(raw, &pair); err != nil {
		return fmt.Errorf("%w: decode token pair: %w", ErrProtocol, err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		m.logger.Error("Token refresh response incomplete, keeping current tokens", m.logger.Args("user_id", s.UserID()))
		return ErrMissingTokens
	}

	var expiry time.Time
	if claims, err := ParseAccessTokenClaims(pair.AccessToken); err == nil {
		expiry = claims.Expiry()
	}
	s.replaceTokens(pair.AccessToken, pair.RefreshToken, expiry)
	m.logger.Info("Tokens refreshed", m.logger.Args("user_id", s.UserID()))
	return nil
}

// EnsureFresh refreshes a token session whose access token expires within skew.
// Cookie sessions and tokens with an unknown expiry are left alone.
func (m *SessionManager) EnsureFresh(ctx context.Context, s *Session, skew time.Duration) error {
	if s.Kind() != SessionToken {
		return nil
	}
	tok := s.Token()
	if tok == nil || tok.Expiry.IsZero() {
		return nil
	}
	if tok.Expiry.Sub(m.now()) > skew {
		return nil
	}
	return m.Refresh(ctx, s)
}

// Logout ends the session on the server. Credentials are cleared only once the
// server confirms with HTTP 200; otherwise they are kept so the call can be retried.
func (m *SessionManager) Logout(ctx context.Context, s *Session) error {
	var req *Request
	switch s.Kind() {
	case SessionToken:
		req = &Request{Method: http.MethodPost, Path: jwtLogoutPath}
	default:
		req = &Request{Method: http.MethodGet, Path: logoutPath}
	}
	if err := s.Authorize(ctx, req); err != nil {
		return fmt.Errorf("%w: %w", ErrLogoutFailed, err)
	}

	resp, err := m.client.Do(ctx, req)
	if err != nil {
		m.logger.Error("Logout failed", m.logger.Args("kind", s.Kind(), "error", err))
		return fmt.Errorf("%w: %w", ErrLogoutFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		statusErr := statusError("logout", resp)
		m.logger.Error("Logout rejected, session kept", m.logger.Args("kind", s.Kind(), "status", resp.StatusCode))
		return fmt.Errorf("%w: %s", ErrLogoutFailed, statusErr)
	}

	s.clearCredentials()
	m.logger.Info("Logged out", m.logger.Args("kind", s.Kind()))
	return nil
}

// FetchCSRF returns the session's CSRF token, fetching it on first use.
func (m *SessionManager) FetchCSRF(ctx context.Context, s *Session) (string, error) {
	return s.CSRFToken(ctx)
}

// tokenCSRFFetcher reads the CSRF token of a token session from its dedicated
// endpoint.
func tokenCSRFFetcher(client HTTPClient) csrfFetcher {
	return func(ctx context.Context, s *Session) (string, error) {
		req := &Request{
			Method: http.MethodGet,
			Path:   csrfTokenPath,
			Header: http.Header{"Content-Type": []string{"application/json"}},
		}
		if err := s.Authorize(ctx, req); err != nil {
			return "", err
		}
		resp, err := client.Do(ctx, req)
		if err != nil {
			return "", err
		}
		if !resp.OK() {
			return "", statusError("fetch csrf token", resp)
		}
		var token string
		if err := decodeBody(resp, "fetch csrf token", &token); err != nil {
			return "", err
		}
		return token, nil
	}
}
