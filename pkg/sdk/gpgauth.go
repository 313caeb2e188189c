package sdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
)

const (
	loginPath = "/auth/login.json"

	headerVerifyResponse = "X-GPGAuth-Verify-Response"
	headerUserAuthToken  = "X-GPGAuth-User-Auth-Token"
	headerProgress       = "X-GPGAuth-Progress"
	headerAuthenticated  = "X-GPGAuth-Authenticated"

	formKeyID              = "data[gpg_auth][keyid]"
	formServerVerifyToken  = "data[gpg_auth][server_verify_token]"
	formUserTokenResult    = "data[gpg_auth][user_token_result]"
	gpgAuthTokenVersion    = "gpgauthv1.3.0"
	gpgAuthTokenUUIDLength = 36
)

// KeySource yields the operator's decrypted private key. KeyringStore is the
// production implementation.
type KeySource interface {
	Load(ctx context.Context) (PrivateKey, error)
}

// GPGAuthState is a stage of the GPGAuth handshake.
type GPGAuthState int

const (
	StateInit GPGAuthState = iota
	StateKeyLoaded
	StateServerVerified
	StateChallenged
	StateAuthenticated
	StateFailed
)

func (s GPGAuthState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateKeyLoaded:
		return "key-loaded"
	case StateServerVerified:
		return "server-verified"
	case StateChallenged:
		return "challenged"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("GPGAuthState(%d)", int(s))
	}
}

// GPGAuthenticator runs the GPGAuth challenge/response handshake and produces a
// cookie session. Stages must run in order; an out-of-order call or any stage
// failure moves the authenticator to StateFailed. An authenticator is single use.
type GPGAuthenticator struct {
	client HTTPClient
	keys   KeySource
	crypto CryptoProvider
	logger *pterm.Logger

	mu        sync.Mutex
	state     GPGAuthState
	key       PrivateKey
	serverKey PublicKey
	session   *Session
}

// NewGPGAuthenticator creates an authenticator in StateInit.
func NewGPGAuthenticator(client HTTPClient, keys KeySource, crypto CryptoProvider, optFns ...Option) *GPGAuthenticator {
	opts := newOptions(optFns)
	return &GPGAuthenticator{
		client: client,
		keys:   keys,
		crypto: crypto,
		logger: opts.Logger,
		state:  StateInit,
	}
}

// State returns the current handshake stage.
func (a *GPGAuthenticator) State() GPGAuthState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Login runs every stage and returns the authenticated session with its CSRF
// token already fetched.
func (a *GPGAuthenticator) Login(ctx context.Context) (*Session, error) {
	if err := a.Initialize(ctx); err != nil {
		return nil, err
	}
	if err := a.VerifyServer(ctx); err != nil {
		return nil, err
	}
	token, err := a.Challenge(ctx)
	if err != nil {
		return nil, err
	}
	session, err := a.Respond(ctx, token)
	if err != nil {
		return nil, err
	}
	if _, err := session.CSRFToken(ctx); err != nil {
		a.logger.Error("CSRF token could not be retrieved", a.logger.Args("error", err))
		return nil, err
	}

	a.logger.Info("Logged in with GPGAuth", a.logger.Args("fingerprint", a.key.Fingerprint()))
	return session, nil
}

// Initialize loads and decrypts the operator's private key.
func (a *GPGAuthenticator) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.expect(StateInit, "initialize"); err != nil {
		return err
	}

	key, err := a.keys.Load(ctx)
	if err != nil {
		return a.fail("initialize", err)
	}
	a.key = key
	a.state = StateKeyLoaded
	return nil
}

// VerifyServer proves the server holds the private half of its published key: a
// fresh token is encrypted to the server, which must echo it back in plaintext.
func (a *GPGAuthenticator) VerifyServer(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.expect(StateKeyLoaded, "verify server"); err != nil {
		return err
	}

	_, serverKey, err := fetchServerKey(ctx, a.client, a.crypto)
	if err != nil {
		return a.fail("verify server", err)
	}
	a.serverKey = serverKey

	token := newServerVerifyToken()
	encrypted, err := a.crypto.Encrypt([]byte(token), serverKey, nil)
	if err != nil {
		return a.fail("verify server", fmt.Errorf("encrypt verify token: %w", err))
	}

	resp, err := a.client.Do(ctx, newFormRequest(verifyPath, url.Values{
		formKeyID:             {a.key.Fingerprint()},
		formServerVerifyToken: {encrypted},
	}))
	if err != nil {
		return a.fail("verify server", err)
	}

	if got := resp.Header.Get(headerVerifyResponse); got != token {
		a.logger.Warn("Server verify token mismatch", a.logger.Args(
			"server_fingerprint", serverKey.Fingerprint(),
			"status", resp.StatusCode,
		))
		return a.fail("verify server", ErrServerVerifyMismatch)
	}

	a.logger.Debug("Server identity verified", a.logger.Args("server_fingerprint", serverKey.Fingerprint()))
	a.state = StateServerVerified
	return nil
}

// Challenge asks the server for a user token encrypted to the operator's key and
// returns it decrypted.
func (a *GPGAuthenticator) Challenge(ctx context.Context) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.expect(StateServerVerified, "challenge"); err != nil {
		return nil, err
	}

	resp, err := a.client.Do(ctx, newFormRequest(loginPath, url.Values{
		formKeyID: {a.key.Fingerprint()},
	}))
	if err != nil {
		return nil, a.fail("challenge", err)
	}

	raw := resp.Header.Get(headerUserAuthToken)
	if raw == "" {
		return nil, a.fail("challenge", fmt.Errorf("%w: missing %s header", ErrProtocol, headerUserAuthToken))
	}

	token, err := a.crypto.Decrypt(UnwrapUserAuthToken(raw), a.key, nil)
	if err != nil {
		return nil, a.fail("challenge", fmt.Errorf("%w: decrypt user token: %w", ErrProtocol, err))
	}

	a.state = StateChallenged
	return token, nil
}

// Respond returns the decrypted user token to the server. Success requires both
// the progress and authenticated headers, and a session cookie.
func (a *GPGAuthenticator) Respond(ctx context.Context, token []byte) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.expect(StateChallenged, "respond"); err != nil {
		return nil, err
	}

	resp, err := a.client.Do(ctx, newFormRequest(loginPath, url.Values{
		formKeyID:           {a.key.Fingerprint()},
		formUserTokenResult: {string(token)},
	}))
	if err != nil {
		return nil, a.fail("respond", err)
	}

	progress := resp.Header.Get(headerProgress)
	authenticated := resp.Header.Get(headerAuthenticated)
	if progress != "complete" || authenticated != "true" {
		a.logger.Warn("Server did not complete authentication", a.logger.Args(
			"progress", progress,
			"authenticated", authenticated,
			"status", resp.StatusCode,
		))
		return nil, a.fail("respond", fmt.Errorf("%w: progress=%q authenticated=%q",
			ErrAuthenticationRejected, progress, authenticated))
	}

	sessionID, ok := resp.Cookies().Get(SessionCookieName)
	if !ok {
		return nil, a.fail("respond", fmt.Errorf("%w: missing %s cookie", ErrProtocol, SessionCookieName))
	}

	a.session = newCookieSession(sessionID, a.fetchCSRF)
	a.state = StateAuthenticated
	return a.session, nil
}

// fetchCSRF loads the server home page with the session cookie; the response
// sets the csrfToken cookie.
func (a *GPGAuthenticator) fetchCSRF(ctx context.Context, s *Session) (string, error) {
	req := &Request{Method: http.MethodGet, Path: "/"}
	s.authorizeCookie(req, "")

	resp, err := a.client.Do(ctx, req)
	if err != nil {
		return "", err
	}
	csrf, ok := resp.Cookies().Get(CSRFCookieName)
	if !ok {
		return "", fmt.Errorf("%w: missing %s cookie (status %d)", ErrProtocol, CSRFCookieName, resp.StatusCode)
	}
	a.logger.Debug("CSRF token retrieved")
	return csrf, nil
}

func (a *GPGAuthenticator) expect(want GPGAuthState, stage string) error {
	if a.state == want {
		return nil
	}
	err := fmt.Errorf("%w: %s called in state %s, want %s", ErrProtocol, stage, a.state, want)
	a.state = StateFailed
	a.logger.Error("GPGAuth stage called out of order", a.logger.Args("stage", stage, "error", err))
	return err
}

func (a *GPGAuthenticator) fail(stage string, err error) error {
	a.state = StateFailed
	a.logger.Error("GPGAuth stage failed", a.logger.Args("stage", stage, "error", err))
	return err
}

// newServerVerifyToken returns a token in the gpgauthv1.3.0|36|<uuid>|gpgauthv1.3.0 form.
func newServerVerifyToken() string {
	return fmt.Sprintf("%s|%d|%s|%s", gpgAuthTokenVersion, gpgAuthTokenUUIDLength, uuid.NewString(), gpgAuthTokenVersion)
}

// UnwrapUserAuthToken recovers an armored PGP message from the user auth token
// header. The server URL-encodes the message (sometimes twice), escapes slashes
// and leaves '+' in place of spaces in the armor delimiters.
func UnwrapUserAuthToken(raw string) string {
	s := raw
	for i := 0; i < 2; i++ {
		decoded, err := url.PathUnescape(s)
		if err != nil || decoded == s {
			break
		}
		s = decoded
	}
	s = strings.ReplaceAll(s, `\`, "")
	s = strings.Replace(s, "-----BEGIN+PGP+MESSAGE-----", "-----BEGIN PGP MESSAGE-----", 1)
	s = strings.Replace(s, "-----END+PGP+MESSAGE-----", "-----END PGP MESSAGE-----", 1)
	return s
}
