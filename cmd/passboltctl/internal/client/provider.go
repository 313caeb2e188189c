package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/qntoni/passboltctl/pkg/sdk"
	"github.com/qntoni/passboltctl/pkg/sdk/pgp"
)

// LoginMode selects the authentication protocol.
type LoginMode string

const (
	LoginGPGAuth LoginMode = "gpgauth"
	LoginJWT     LoginMode = "jwt"
)

// ErrNotLoggedIn is returned when an operation needs a session and none is open.
var ErrNotLoggedIn = errors.New("not logged in")

// refreshSkew is how long before expiry a token session is refreshed.
const refreshSkew = time.Minute

// Settings is what the Provider needs to reach the server and unlock the key.
type Settings struct {
	ServerURL          string
	PrivateKeyPath     string
	InsecureSkipVerify bool
	RequestsPerSecond  float64
	HTTPTimeout        time.Duration
	Logger             *pterm.Logger

	// Tokens from an earlier JWT login. When both are set the first Session call
	// resumes them instead of requiring an interactive login.
	UserID       string
	AccessToken  string
	RefreshToken string

	// Credentials keeps JWT sessions between runs. Nil disables persistence.
	Credentials sdk.CredentialStore
}

// Provider lazily builds the SDK components for one CLI run and holds the
// operator's session once logged in.
type Provider struct {
	settings Settings
	crypto   sdk.CryptoProvider
	client   sdk.HTTPClient

	transportOnce sync.Once

	keysOnce sync.Once
	keys     *sdk.KeyringStore

	resourcesOnce sync.Once
	resources     *sdk.ResourceClient
	resourcesErr  error

	managerOnce sync.Once
	manager     *sdk.SessionManager
	managerErr  error

	mu      sync.Mutex
	session *sdk.Session
	resumed bool
}

// NewProvider constructs a Provider using OpenPGP keys and the net/http transport.
func NewProvider(settings Settings) *Provider {
	if settings.Logger == nil {
		settings.Logger = pterm.DefaultLogger.WithLevel(pterm.LogLevelWarn)
	}
	return &Provider{settings: settings, crypto: pgp.NewProvider()}
}

// SetHTTPClient replaces the transport (used by tests).
func (p *Provider) SetHTTPClient(client sdk.HTTPClient) {
	p.transportOnce.Do(func() {})
	p.client = client
}

// SetCryptoProvider replaces the OpenPGP implementation (used by tests).
func (p *Provider) SetCryptoProvider(crypto sdk.CryptoProvider) {
	p.crypto = crypto
}

// HTTPClient returns the transport, built on first use.
func (p *Provider) HTTPClient() sdk.HTTPClient {
	p.transportOnce.Do(func() {
		p.client = sdk.NewTransport(p.settings.ServerURL,
			sdk.WithInsecureSkipVerify(p.settings.InsecureSkipVerify),
			sdk.WithTimeout(p.settings.HTTPTimeout),
			sdk.WithRequestsPerSecond(p.settings.RequestsPerSecond),
		)
		if p.settings.InsecureSkipVerify {
			pterm.Warning.Printf("TLS certificate verification disabled for %s\n", p.settings.ServerURL)
		}
	})
	return p.client
}

// Keys returns the keyring store. The passphrase is only used the first time.
func (p *Provider) Keys(passphrase string) *sdk.KeyringStore {
	p.keysOnce.Do(func() {
		p.keys = sdk.NewKeyringStore(p.settings.PrivateKeyPath, passphrase, p.crypto, p.logger())
	})
	return p.keys
}

// ResourceClient returns the resource graph client.
func (p *Provider) ResourceClient() (*sdk.ResourceClient, error) {
	p.resourcesOnce.Do(func() {
		p.resources, p.resourcesErr = sdk.NewResourceClient(p.HTTPClient(), p.logger())
	})
	return p.resources, p.resourcesErr
}

// SessionManager returns the session lifecycle manager.
func (p *Provider) SessionManager() (*sdk.SessionManager, error) {
	p.managerOnce.Do(func() {
		p.manager, p.managerErr = sdk.NewSessionManager(p.HTTPClient(), p.logger())
	})
	return p.manager, p.managerErr
}

// RevocationEngine returns an engine over the resource client.
func (p *Provider) RevocationEngine() (*sdk.RevocationEngine, error) {
	resources, err := p.ResourceClient()
	if err != nil {
		return nil, err
	}
	return sdk.NewRevocationEngine(resources, p.logger()), nil
}

// LoginRequest carries the answers gathered before a login.
type LoginRequest struct {
	Mode       LoginMode
	Passphrase string
	UserID     string
	TOTP       sdk.TOTPPrompt
}

// Login authenticates with the selected protocol and keeps the session.
func (p *Provider) Login(ctx context.Context, req LoginRequest) (*sdk.Session, error) {
	keys := p.Keys(req.Passphrase)

	var (
		session *sdk.Session
		err     error
	)
	switch req.Mode {
	case LoginGPGAuth:
		auth := sdk.NewGPGAuthenticator(p.HTTPClient(), keys, p.crypto, p.logger())
		session, err = auth.Login(ctx)
	case LoginJWT:
		if req.UserID == "" {
			return nil, fmt.Errorf("user id is required for %s login", LoginJWT)
		}
		auth, aerr := sdk.NewJWTAuthenticator(p.HTTPClient(), keys, p.crypto, req.UserID, p.logger())
		if aerr != nil {
			return nil, aerr
		}
		session, err = auth.Login(ctx, sdk.NewChallenge(p.settings.ServerURL), req.TOTP)
	default:
		return nil, fmt.Errorf("unknown login mode %q", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.session = session
	p.mu.Unlock()
	p.saveCredentials(session)
	return session, nil
}

// Session returns the open session, refreshing token sessions close to expiry.
func (p *Provider) Session(ctx context.Context) (*sdk.Session, error) {
	session, err := p.current()
	if err != nil {
		return nil, err
	}
	if session == nil || !session.Active() {
		return nil, ErrNotLoggedIn
	}

	if session.Kind() == sdk.SessionToken {
		manager, err := p.SessionManager()
		if err != nil {
			return nil, err
		}
		before := session.Token()
		if err := manager.EnsureFresh(ctx, session, refreshSkew); err != nil {
			if !errors.Is(err, sdk.ErrAuthenticationRejected) {
				return nil, fmt.Errorf("refresh session: %w", err)
			}
			// The server no longer honours these tokens; a new login is needed.
			p.forget(session)
			return nil, fmt.Errorf("%w: %w", ErrNotLoggedIn, err)
		}
		if after := session.Token(); before != nil && after != nil && after.AccessToken != before.AccessToken {
			p.saveCredentials(session)
		}
	}
	return session, nil
}

// Refresh exchanges the refresh token of the open token session for a new pair.
func (p *Provider) Refresh(ctx context.Context) error {
	session, err := p.current()
	if err != nil {
		return err
	}
	if session == nil || !session.Active() {
		return ErrNotLoggedIn
	}
	manager, err := p.SessionManager()
	if err != nil {
		return err
	}
	if err := manager.Refresh(ctx, session); err != nil {
		return err
	}
	p.saveCredentials(session)
	return nil
}

// current returns the held session. The first call resumes configured tokens,
// or failing that the stored credentials for this server.
func (p *Provider) current() (*sdk.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil || p.resumed {
		return p.session, nil
	}
	p.resumed = true

	userID, access, refresh := p.settings.UserID, p.settings.AccessToken, p.settings.RefreshToken
	if access == "" || refresh == "" {
		creds := p.storedCredentials()
		if creds == nil {
			return nil, nil
		}
		userID, access, refresh = creds.UserID, creds.AccessToken, creds.RefreshToken
	}

	manager, err := p.SessionManager()
	if err != nil {
		return nil, err
	}
	session, err := manager.Resume(userID, access, refresh)
	if err != nil {
		return nil, err
	}
	p.session = session
	return session, nil
}

// storedCredentials returns the stored credentials issued by this server, nil
// when there are none or they cannot be read.
func (p *Provider) storedCredentials() *sdk.Credentials {
	if p.settings.Credentials == nil {
		return nil
	}
	log := p.settings.Logger
	creds, err := p.settings.Credentials.LoadCredentials()
	if errors.Is(err, sdk.ErrNoCredentials) {
		return nil
	}
	if err != nil {
		log.Warn("Stored credentials unreadable, login required", log.Args("error", err))
		return nil
	}
	if creds.ServerURL != p.settings.ServerURL {
		log.Debug("Stored credentials belong to another server", log.Args("server_url", creds.ServerURL))
		return nil
	}
	if creds.IsExpired() {
		log.Debug("Stored access token expired, it will be refreshed", log.Args("user_id", creds.UserID))
	}
	return creds
}

// saveCredentials stores the tokens of a token session. Failures only cost the
// next run a login, so they are logged.
func (p *Provider) saveCredentials(session *sdk.Session) {
	if p.settings.Credentials == nil || session.Kind() != sdk.SessionToken {
		return
	}
	log := p.settings.Logger
	creds, err := sdk.CredentialsFromSession(p.settings.ServerURL, session)
	if err == nil {
		err = p.settings.Credentials.SaveCredentials(creds)
	}
	if err != nil {
		log.Warn("Credentials could not be stored", log.Args("error", err))
	}
}

// Logout ends the open session, if any.
func (p *Provider) Logout(ctx context.Context) error {
	p.mu.Lock()
	session := p.session
	p.mu.Unlock()
	if session == nil || !session.Active() {
		return nil
	}

	manager, err := p.SessionManager()
	if err != nil {
		return err
	}
	if err := manager.Logout(ctx, session); err != nil {
		return err
	}

	p.forget(session)
	return nil
}

// forget drops the held session and, for token sessions, the stored credentials.
func (p *Provider) forget(session *sdk.Session) {
	p.mu.Lock()
	if p.session == session {
		p.session = nil
	}
	p.mu.Unlock()

	if p.settings.Credentials != nil && session.Kind() == sdk.SessionToken {
		if err := p.settings.Credentials.DeleteCredentials(); err != nil {
			p.settings.Logger.Warn("Stored credentials could not be removed", p.settings.Logger.Args("error", err))
		}
	}
}

func (p *Provider) logger() sdk.Option {
	return sdk.WithLogger(p.settings.Logger)
}
