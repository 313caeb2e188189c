package sdk

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoCredentials is returned by a CredentialStore holding nothing.
var ErrNoCredentials = errors.New("no stored credentials")

// Credentials are the tokens of a JWT login, kept between runs so the next run
// can resume the session.
type Credentials struct {
	ServerURL    string    `json:"server_url"`
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	RefreshToken string    `json:"refresh_token"`
}

// IsExpired reports whether the access token is past its expiry. An unknown
// expiry never counts as expired.
func (c *Credentials) IsExpired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// CredentialStore persists token credentials.
type CredentialStore interface {
	SaveCredentials(credentials *Credentials) error
	// LoadCredentials returns ErrNoCredentials when nothing is stored.
	LoadCredentials() (*Credentials, error)
	DeleteCredentials() error
}

// CredentialsFromSession captures the tokens of a token session.
func CredentialsFromSession(serverURL string, s *Session) (*Credentials, error) {
	if s.Kind() != SessionToken {
		return nil, fmt.Errorf("%w: only token sessions can be stored, got %s", ErrProtocol, s.Kind())
	}
	tok := s.Token()
	if tok == nil || tok.AccessToken == "" || tok.RefreshToken == "" {
		return nil, ErrMissingTokens
	}
	return &Credentials{
		ServerURL:    serverURL,
		UserID:       s.UserID(),
		AccessToken:  tok.AccessToken,
		TokenType:    tok.Type(),
		ExpiresAt:    tok.Expiry,
		RefreshToken: tok.RefreshToken,
	}, nil
}
