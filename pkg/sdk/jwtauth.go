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

const jwtLoginPath = "/auth/jwt/login.json"

// JWTAuthenticator opens token sessions with the encrypted-challenge login,
// followed by step-up MFA when the server asks for it.
type JWTAuthenticator struct {
	client    HTTPClient
	keys      KeySource
	crypto    CryptoProvider
	userID    string
	mfa       *MFAVerifier
	validator *schemaValidator
	logger    *pterm.Logger
	now       func() time.Time
}

// NewJWTAuthenticator creates an authenticator logging in as userID.
func NewJWTAuthenticator(client HTTPClient, keys KeySource, crypto CryptoProvider, userID string, optFns ...Option) (*JWTAuthenticator, error) {
	opts := newOptions(optFns)
	validator, err := newSchemaValidator(4)
	if err != nil {
		return nil, err
	}
	return &JWTAuthenticator{
		client:    client,
		keys:      keys,
		crypto:    crypto,
		userID:    userID,
		mfa:       NewMFAVerifier(client, optFns...),
		validator: validator,
		logger:    opts.Logger,
		now:       time.Now,
	}, nil
}

// Login sends challenge to the server and, on success, returns a token session.
// When the server requires TOTP, prompt supplies the code; a nil prompt aborts
// the login in that case.
func (a *JWTAuthenticator) Login(ctx context.Context, challenge Challenge, prompt TOTPPrompt) (*Session, error) {
	if challenge.Expired(a.now()) {
		return nil, fmt.Errorf("%w: challenge expired", ErrLoginFailed)
	}

	key, err := a.keys.Load(ctx)
	if err != nil {
		return nil, err
	}
	_, serverKey, err := fetchServerKey(ctx, a.client, a.crypto)
	if err != nil {
		a.logger.Error("Server key could not be fetched", a.logger.Args("error", err))
		return nil, err
	}

	payload, err := json.Marshal(challenge)
	if err != nil {
		return nil, fmt.Errorf("marshal challenge: %w", err)
	}
	encrypted, err := a.crypto.Encrypt(payload, serverKey, key)
	if err != nil {
		return nil, fmt.Errorf("encrypt challenge: %w", err)
	}

	req, err := newJSONRequest(http.MethodPost, jwtLoginPath, map[string]string{
		"user_id":   a.userID,
		"challenge": encrypted,
	})
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(ctx, req)
	if err != nil {
		a.logger.Error("JWT login request failed", a.logger.Args("user_id", a.userID, "error", err))
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		statusErr := statusError("jwt login", resp)
		a.logger.Error("JWT login rejected", a.logger.Args("user_id", a.userID, "status", resp.StatusCode, "error", statusErr))
		return nil, fmt.Errorf("%w: %s", ErrLoginFailed, statusErr)
	}

	result, err := a.openResponse(resp, key, serverKey)
	if err != nil {
		a.logger.Error("JWT login response rejected", a.logger.Args("user_id", a.userID, "error", err))
		return nil, err
	}
	if result.VerifyToken != challenge.VerifyToken {
		a.logger.Warn("JWT login verify token mismatch", a.logger.Args("user_id", a.userID))
		return nil, ErrServerVerifyMismatch
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		return nil, ErrMissingTokens
	}

	session := newTokenSession(a.userID, &oauth2.Token{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       a.accessTokenExpiry(result.AccessToken),
	}, tokenCSRFFetcher(a.client))

	if err := a.stepUp(ctx, session, prompt); err != nil {
		return nil, err
	}

	a.logger.Info("Logged in with JWT", a.logger.Args("user_id", a.userID))
	return session, nil
}

// openResponse decrypts the server's challenge, which must be signed with the
// server key, and checks it against the login challenge schema.
func (a *JWTAuthenticator) openResponse(resp *Response, key PrivateKey, serverKey PublicKey) (*loginChallengeResult, error) {
	var body struct {
		Challenge string `json:"challenge"`
	}
	if err := decodeBody(resp, "jwt login", &body); err != nil {
		return nil, err
	}
	if body.Challenge == "" {
		return nil, fmt.Errorf("%w: jwt login response has no challenge", ErrProtocol)
	}

	plain, err := a.crypto.Decrypt(body.Challenge, key, serverKey)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt server challenge: %w", ErrProtocol, err)
	}
	if err := a.validator.validate(schemaLoginChallenge, plain); err != nil {
		return nil, err
	}

	var result loginChallengeResult
	if err := json.Unmarshal(plain, &result); err != nil {
		return nil, fmt.Errorf("%w: decode server challenge: %w", ErrProtocol, err)
	}
	return &result, nil
}

func (a *JWTAuthenticator) stepUp(ctx context.Context, session *Session, prompt TOTPPrompt) error {
	if !a.mfa.Required(ctx, session, MFAProviderTOTP) {
		return nil
	}
	if prompt == nil {
		return fmt.Errorf("%w: no totp prompt configured", ErrLoginAborted)
	}

	code, err := prompt(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginAborted, err)
	}
	return a.mfa.VerifyTOTP(ctx, session, code)
}

func (a *JWTAuthenticator) accessTokenExpiry(token string) time.Time {
	claims, err := ParseAccessTokenClaims(token)
	if err != nil {
		a.logger.Debug("Access token claims unreadable, expiry unknown", a.logger.Args("error", err))
		return time.Time{}
	}
	return claims.Expiry()
}
