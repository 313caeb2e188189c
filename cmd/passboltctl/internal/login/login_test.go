package login

import (
	"context"
	"io"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/client"
	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/config"
	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/fakeserver"
	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/prompt"
	"github.com/qntoni/passboltctl/pkg/sdk"
)

func newConfig(t *testing.T, settings client.Settings, cfg config.Config, answers ...string) (*config.GlobalConfig, *prompt.Scripted) {
	t.Helper()
	srv := fakeserver.New()
	t.Cleanup(srv.Close)

	logger := pterm.DefaultLogger.WithWriter(io.Discard)
	settings.ServerURL = srv.URL
	settings.Logger = logger
	if settings.PrivateKeyPath == "" {
		settings.PrivateKeyPath = "missing.asc"
	}
	cfg.ServerURL = srv.URL

	p := &prompt.Scripted{Answers: answers}
	return &config.GlobalConfig{
		Config:         &cfg,
		Logger:         logger,
		Prompter:       p,
		ClientProvider: client.NewProvider(settings),
	}, p
}

func TestSession_ResumesWithoutPrompting(t *testing.T) {
	cfg, p := newConfig(t, client.Settings{
		UserID:       "user-1",
		AccessToken:  fakeserver.AccessToken,
		RefreshToken: fakeserver.RefreshToken,
	}, config.Config{})

	session, err := Session(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, sdk.SessionToken, session.Kind())
	assert.Empty(t, p.Asked)
}

func TestSession_FallsBackToInteractiveLogin(t *testing.T) {
	cfg, p := newConfig(t, client.Settings{}, config.Config{}, OptionGPGAuth, "secret")

	_, err := Session(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, sdk.ErrKeyLoad)
	assert.Contains(t, err.Error(), "check the private key path")
	assert.Equal(t, []string{"Select login mode", "Private key passphrase"}, p.Asked)
}

func TestInteractive_ConfiguredPassphraseIsNotAsked(t *testing.T) {
	cfg, p := newConfig(t, client.Settings{}, config.Config{Passphrase: "from-config"}, OptionGPGAuth)

	_, err := Interactive(context.Background(), cfg)
	assert.ErrorIs(t, err, sdk.ErrKeyLoad)
	assert.Equal(t, []string{"Select login mode"}, p.Asked)
}

func TestInteractive_JWTNeedsUserID(t *testing.T) {
	cfg, p := newConfig(t, client.Settings{}, config.Config{Passphrase: "pw"}, OptionJWT, "", "", "")

	_, err := Interactive(context.Background(), cfg)
	assert.ErrorIs(t, err, prompt.ErrEmptyInput)
	assert.Equal(t, []string{"Select login mode", "User ID", "User ID", "User ID"}, p.Asked)
}

func TestInteractive_JWTUsesConfiguredUserID(t *testing.T) {
	cfg, p := newConfig(t, client.Settings{}, config.Config{Passphrase: "pw", UserID: "user-1"}, OptionJWT)

	_, err := Interactive(context.Background(), cfg)
	assert.ErrorIs(t, err, sdk.ErrKeyLoad)
	assert.Equal(t, []string{"Select login mode"}, p.Asked)
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "key load", err: sdk.ErrKeyLoad, want: "check the private key path"},
		{name: "key decrypt", err: sdk.ErrKeyDecrypt, want: "check the private key passphrase"},
		{name: "server verify", err: sdk.ErrServerVerifyMismatch, want: "could not prove it holds its key"},
		{name: "mfa", err: sdk.ErrLoginAborted, want: "multi-factor verification"},
		{name: "other", err: sdk.ErrLoginFailed, want: "login failed: "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := describe(tt.err)
			assert.ErrorIs(t, got, tt.err)
			assert.Contains(t, got.Error(), tt.want)
		})
	}
}
