// Package login runs the interactive login shared by every passboltctl command.
package login

import (
	"context"
	"errors"
	"fmt"

	"github.com/pterm/pterm"

	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/client"
	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/config"
	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/prompt"
	"github.com/qntoni/passboltctl/pkg/sdk"
)

// Menu labels for the login modes.
const (
	OptionGPGAuth = "GPGAuth (cookie session)"
	OptionJWT     = "JWT (token session)"
)

var modes = map[string]client.LoginMode{
	OptionGPGAuth: client.LoginGPGAuth,
	OptionJWT:     client.LoginJWT,
}

// Session returns the open session, or logs in interactively when there is none.
func Session(ctx context.Context, cfg *config.GlobalConfig) (*sdk.Session, error) {
	session, err := cfg.ClientProvider.Session(ctx)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, client.ErrNotLoggedIn) {
		return nil, err
	}
	return Interactive(ctx, cfg)
}

// Interactive asks for the login mode and any missing secret, then logs in.
func Interactive(ctx context.Context, cfg *config.GlobalConfig) (*sdk.Session, error) {
	p := cfg.Prompter

	choice, err := p.Select("Select login mode", []string{OptionGPGAuth, OptionJWT})
	if err != nil {
		return nil, fmt.Errorf("login mode selection: %w", err)
	}

	req := client.LoginRequest{
		Mode:       modes[choice],
		Passphrase: cfg.Passphrase,
		UserID:     cfg.UserID,
		TOTP: func(context.Context) (string, error) {
			return p.Secret("Enter your TOTP code")
		},
	}

	if req.Passphrase == "" {
		req.Passphrase, err = p.Secret("Private key passphrase")
		if err != nil {
			return nil, fmt.Errorf("passphrase prompt: %w", err)
		}
	}
	if req.Mode == client.LoginJWT && req.UserID == "" {
		req.UserID, err = prompt.Required(p, "User ID", 3)
		if err != nil {
			return nil, fmt.Errorf("user id prompt: %w", err)
		}
	}

	pterm.Info.Printf("Authenticating against %s...\n", cfg.ServerURL)
	session, err := cfg.ClientProvider.Login(ctx, req)
	if err != nil {
		return nil, describe(err)
	}
	pterm.Success.Printf("Logged in (%s session)\n", session.Kind())
	return session, nil
}

// describe adds an operator hint to the errors that have an obvious cause.
func describe(err error) error {
	switch {
	case errors.Is(err, sdk.ErrKeyLoad):
		return fmt.Errorf("login failed, check the private key path: %w", err)
	case errors.Is(err, sdk.ErrKeyDecrypt):
		return fmt.Errorf("login failed, check the private key passphrase: %w", err)
	case errors.Is(err, sdk.ErrServerVerifyMismatch):
		return fmt.Errorf("login failed, the server could not prove it holds its key: %w", err)
	case errors.Is(err, sdk.ErrLoginAborted):
		return fmt.Errorf("login aborted during multi-factor verification: %w", err)
	default:
		return fmt.Errorf("login failed: %w", err)
	}
}
