package resources

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
	OptionList       = "List all resources"
	OptionSearchName = "Search by name"
	OptionSearchDate = "Search by date"
	OptionTree       = "Show folder tree"
	OptionBack       = "Back"
)

// ResourcesCmd logs in and opens the resources menu.
var ResourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "Browse resources and folders",
	Long: `Logs in and opens the resources menu: list every resource, search by name
or by creation/modification date, or show the folder hierarchy.

Output format follows --output (table, json or yaml).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.MustFromContext(cmd.Context())
		if _, err := login.Session(cmd.Context(), cfg); err != nil {
			return err
		}
		return Menu(cmd.Context(), cfg, cmd.OutOrStdout())
	},
}

// Menu loops over the resources menu until Back is chosen. Action failures are
// reported and the menu is shown again; prompt failures end the loop.
func Menu(ctx context.Context, cfg *config.GlobalConfig, w io.Writer) error {
	options := []string{OptionList, OptionSearchName, OptionSearchDate, OptionTree, OptionBack}
	for {
		choice, err := cfg.Prompter.Select("Resources", options)
		if err != nil {
			return err
		}

		switch choice {
		case OptionList:
			err = List(ctx, cfg, w)
		case OptionSearchName:
			err = SearchByName(ctx, cfg, w)
		case OptionSearchDate:
			err = SearchByDate(ctx, cfg, w)
		case OptionTree:
			err = Tree(ctx, cfg, w)
		case OptionBack:
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

func resourceClient(ctx context.Context, cfg *config.GlobalConfig) (*sdk.ResourceClient, *sdk.Session, error) {
	session, err := login.Session(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	rc, err := cfg.ClientProvider.ResourceClient()
	if err != nil {
		return nil, nil, err
	}
	return rc, session, nil
}
