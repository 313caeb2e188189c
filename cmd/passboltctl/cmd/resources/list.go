package resources

import (
	"context"
	"fmt"
	"io"

	"github.com/pterm/pterm"

	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/config"
	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/output"
	"github.com/qntoni/passboltctl/pkg/sdk"
)

// List renders every resource visible to the session.
func List(ctx context.Context, cfg *config.GlobalConfig, w io.Writer) error {
	rc, session, err := resourceClient(ctx, cfg)
	if err != nil {
		return err
	}

	resources, err := rc.ListResources(ctx, session)
	if err != nil {
		return fmt.Errorf("failed to list resources: %w", err)
	}
	return render(ctx, cfg, w, rc, session, resources)
}

// Tree renders the folder hierarchy.
func Tree(ctx context.Context, cfg *config.GlobalConfig, w io.Writer) error {
	rc, session, err := resourceClient(ctx, cfg)
	if err != nil {
		return err
	}

	tree, err := rc.FolderTree(ctx, session)
	if err != nil {
		return fmt.Errorf("failed to build folder tree: %w", err)
	}
	return output.FolderTree(w, tree)
}

// render resolves folder paths and user names, then writes the listing. Missing
// paths or names degrade to raw ids rather than failing the listing.
func render(ctx context.Context, cfg *config.GlobalConfig, w io.Writer, rc *sdk.ResourceClient, session *sdk.Session, resources []sdk.Resource) error {
	tree, err := rc.FolderTree(ctx, session)
	if err != nil {
		pterm.Warning.Printf("Folder paths unavailable: %v\n", err)
		tree = nil
	}

	// One directory listing warms the user cache for the lookups below.
	if _, err := rc.ListUsers(ctx, session); err != nil {
		pterm.Warning.Printf("User names unavailable: %v\n", err)
	}
	ids := make([]string, 0, 2*len(resources))
	for _, r := range resources {
		ids = append(ids, r.CreatedBy, r.ModifiedBy)
	}
	names := rc.ResolveUserNames(ctx, session, ids...)

	return output.Resources(w, cfg.Output, output.ResourceViews(resources, tree, names))
}
