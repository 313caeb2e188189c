package sdk

import (
	"time"

	"github.com/google/uuid"
)

const (
	challengeVersion  = "1.0.0"
	challengeLifetime = 10 * time.Minute
)

// Challenge is the document sent, signed and encrypted, to open a token session.
// The server returns it with the tokens added; VerifyToken must survive the
// round trip unchanged. A challenge is used for a single login.
type Challenge struct {
	Version           string `json:"version"`
	Domain            string `json:"domain"`
	VerifyToken       string `json:"verify_token"`
	VerifyTokenExpiry int64  `json:"verify_token_expiry"`
}

// NewChallenge creates a challenge for domain, the server base URL, expiring in
// ten minutes.
func NewChallenge(domain string) Challenge {
	return newChallengeAt(domain, time.Now())
}

func newChallengeAt(domain string, now time.Time) Challenge {
	return Challenge{
		Version:           challengeVersion,
		Domain:            domain,
		VerifyToken:       uuid.NewString(),
		VerifyTokenExpiry: now.Add(challengeLifetime).Unix(),
	}
}

// Expired reports whether the challenge's verify token has lapsed at now.
func (c Challenge) Expired(now time.Time) bool {
	return now.Unix() > c.VerifyTokenExpiry
}

// loginChallengeResult is the decrypted challenge returned by the server.
type loginChallengeResult struct {
	Challenge
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
