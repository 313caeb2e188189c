package cmd

import (
	"context"
	"errors"
	"io"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/config"
	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/login"
	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/output"
	"github.com/qntoni/passboltctl/pkg/sdk"
)

// Session menu entries.
const (
	OptionShowSession = "Show session"
	OptionRefresh     = "Refresh tokens"
	OptionLogout      = "Logout"
	OptionBack        = "Back"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect, refresh or end the login session",
	Long: `Logs in and opens the session menu. Token sessions (JWT) can be refreshed
on demand; both session kinds can be shown and logged out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.MustFromContext(cmd.Context())
		if _, err := login.Session(cmd.Context(), cfg); err != nil {
			return err
		}
		return SessionMenu(cmd.Context(), cfg, cmd.OutOrStdout())
	},
}

// SessionMenu loops over the session menu until Back is chosen or the session
// is logged out.
func SessionMenu(ctx context.Context, cfg *config.GlobalConfig, w io.Writer) error {
	for {
		session, err := login.Session(ctx, cfg)
		if err != nil {
			return err
		}

		options := []string{OptionShowSession}
		if session.Kind() == sdk.SessionToken {
			options = append(options, OptionRefresh)
		}
		options = append(options, OptionLogout, OptionBack)

		choice, err := cfg.Prompter.Select("Session", options)
		if err != nil {
			return err
		}

		switch choice {
		case OptionShowSession:
			if err := output.Session(w, cfg.Output, output.NewSessionView(session)); err != nil {
				return err
			}
		case OptionRefresh:
			if err := cfg.ClientProvider.Refresh(ctx); err != nil {
				if errors.Is(err, sdk.ErrAuthenticationRejected) {
					return err
				}
				pterm.Error.Printf("Refresh failed, current tokens kept: %v\n", err)
				continue
			}
			pterm.Success.Println("Tokens refreshed.")
		case OptionLogout:
			if err := cfg.ClientProvider.Logout(ctx); err != nil {
				pterm.Error.Printf("Logout failed, session kept: %v\n", err)
				continue
			}
			pterm.Success.Println("Logged out.")
			return nil
		case OptionBack:
			return nil
		}
	}
}
