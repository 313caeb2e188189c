package permissions

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pterm/pterm"

	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/config"
	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/login"
	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/output"
	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/prompt"
	"github.com/qntoni/passboltctl/pkg/sdk"
)

// Revoke asks for a folder and a group, optionally previews the run, and removes
// the group's permissions. Per-entity failures are reported, not returned.
func Revoke(ctx context.Context, cfg *config.GlobalConfig, w io.Writer) error {
	p := cfg.Prompter
	folder, err := prompt.Required(p, "Folder name", 3)
	if err != nil {
		return err
	}
	group, err := prompt.Required(p, "Group name (case-sensitive)", 3)
	if err != nil {
		return err
	}
	preview, err := p.Confirm("Preview the changes with a dry run first?", true)
	if err != nil {
		return err
	}

	session, err := login.Session(ctx, cfg)
	if err != nil {
		return err
	}
	engine, err := cfg.ClientProvider.RevocationEngine()
	if err != nil {
		return err
	}

	if preview {
		plan, err := run(ctx, engine, session, folder, group, true)
		if err != nil || plan == nil {
			return err
		}
		if err := output.RevocationReport(w, cfg.Output, plan); err != nil {
			return err
		}
		if plan.Count(sdk.StatusPlanned) == 0 {
			pterm.Info.Printf("Group %q has no permissions to remove under %q.\n", group, folder)
			return nil
		}
		apply, err := p.Confirm(fmt.Sprintf("Remove %d permission set(s) now?", plan.Count(sdk.StatusPlanned)), false)
		if err != nil {
			return err
		}
		if !apply {
			pterm.Info.Println("Nothing was changed.")
			return nil
		}
	}

	report, err := run(ctx, engine, session, folder, group, false)
	if err != nil || report == nil {
		return err
	}
	if err := output.RevocationReport(w, cfg.Output, report); err != nil {
		return err
	}

	revoked := report.Count(sdk.StatusRevoked)
	failed := report.Count(sdk.StatusFailed)
	if report.Err != nil {
		pterm.Warning.Printf("%d entity(ies) revoked, %d failed. Failed entities kept their permissions.\n", revoked, failed)
		return nil
	}
	pterm.Success.Printf("Removed group %q from %d entity(ies) across %d folder(s).\n", group, revoked, report.Folders)
	return nil
}

// run executes one revocation pass. A folder name with no match is reported and
// yields a nil report without error.
func run(ctx context.Context, engine *sdk.RevocationEngine, session *sdk.Session, folder, group string, dryRun bool) (*sdk.RevocationReport, error) {
	report, err := engine.Revoke(ctx, session, folder, group, sdk.RevocationOptions{DryRun: dryRun})
	if errors.Is(err, sdk.ErrFolderNotFound) {
		pterm.Warning.Printf("No folder named %q is visible to this session.\n", folder)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to revoke permissions: %w", err)
	}
	return report, nil
}
