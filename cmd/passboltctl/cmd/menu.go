package cmd

import (
	"context"
	"errors"
	"io"

	"github.com/pterm/pterm"

	"github.com/qntoni/passboltctl/cmd/passboltctl/cmd/permissions"
	"github.com/qntoni/passboltctl/cmd/passboltctl/cmd/resources"
	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/config"
	"github.com/qntoni/passboltctl/pkg/sdk"
)

// Main menu entries.
const (
	OptionResources   = "Resources"
	OptionPermissions = "Permissions"
	OptionSession     = "Session"
	OptionExit        = "Logout and exit"
)

// MainMenu dispatches to the sub-menus until the operator exits. Exiting logs
// out; a failed logout keeps the session and returns to the menu.
func MainMenu(ctx context.Context, cfg *config.GlobalConfig, w io.Writer) error {
	options := []string{OptionResources, OptionPermissions, OptionSession, OptionExit}
	for {
		choice, err := cfg.Prompter.Select("Main menu", options)
		if err != nil {
			return err
		}

		switch choice {
		case OptionResources:
			err = resources.Menu(ctx, cfg, w)
		case OptionPermissions:
			err = permissions.Menu(ctx, cfg, w)
		case OptionSession:
			err = SessionMenu(ctx, cfg, w)
		case OptionExit:
			if err := cfg.ClientProvider.Logout(ctx); err != nil {
				pterm.Error.Printf("Logout failed, session kept: %v\n", err)
				continue
			}
			pterm.Success.Println("Logged out.")
			return nil
		}

		if err != nil {
			if errors.Is(err, sdk.ErrAuthenticationRejected) {
				return err
			}
			pterm.Error.Println(err)
		}
	}
}
