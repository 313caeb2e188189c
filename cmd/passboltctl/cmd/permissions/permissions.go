package permissions

import (
	"context"
	"errors"
	"io"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/config"
	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/login"
	"github.com/qntoni/passboltctl/pkg/sdk"
)

// Menu entries.
const (
	OptionRevoke = "Remove a group's permissions from a folder"
	OptionBack   = "Back"
)

// PermissionsCmd logs in and opens the permissions menu.
var PermissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Revoke a group's access to folders",
	Long: `Logs in and opens the permissions menu.

Revoking removes every permission a group holds on each folder with the given
name (case-insensitive) and on the resources directly inside those folders.
Subfolders and their contents are not touched. A dry run can be previewed first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.MustFromContext(cmd.Context())
		if _, err := login.Session(cmd.Context(), cfg); err != nil {
			return err
		}
		return Menu(cmd.Context(), cfg, cmd.OutOrStdout())
	},
}

// Menu loops over the permissions menu until Back is chosen.
func Menu(ctx context.Context, cfg *config.GlobalConfig, w io.Writer) error {
	for {
		choice, err := cfg.Prompter.Select("Permissions", []string{OptionRevoke, OptionBack})
		if err != nil {
			return err
		}
		if choice == OptionBack {
			return nil
		}

		if err := Revoke(ctx, cfg, w); err != nil {
			if errors.Is(err, sdk.ErrAuthenticationRejected) {
				return err
			}
			pterm.Error.Println(err)
		}
	}
}
