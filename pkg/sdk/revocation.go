package sdk

import (
	"context"
	"errors"
	"strings"

	"github.com/pterm/pterm"
)

// Revocation stages, reported in EntityError.Stage.
const (
	StageFetchPermissions = "fetch permissions"
	StageListResources    = "list resources"
	StageSimulate         = "simulate"
	StageCommit           = "commit"
)

// ResourceGraph is the subset of ResourceClient the revocation engine needs.
type ResourceGraph interface {
	ListFolders(ctx context.Context, s *Session) ([]Folder, error)
	FolderPermissions(ctx context.Context, s *Session, folderID string) ([]Permission, error)
	ResourcesInFolder(ctx context.Context, s *Session, folderID string) ([]Resource, error)
	ResourcePermissions(ctx context.Context, s *Session, resourceID string) ([]Permission, error)
	SimulateShare(ctx context.Context, s *Session, kind EntityKind, id string, perms []Permission) error
	UpdateShare(ctx context.Context, s *Session, kind EntityKind, id string, perms []Permission) error
}

var _ ResourceGraph = (*ResourceClient)(nil)

// RevocationOptions tunes a revocation run.
type RevocationOptions struct {
	// DryRun plans every removal and runs the server-side simulation for
	// resources, but commits nothing.
	DryRun bool
}

// RevocationTask is the planned removal for one entity.
type RevocationTask struct {
	Kind        EntityKind
	ID          string
	Name        string
	Path        string
	Permissions []Permission
}

// EntityStatus is the outcome of one entity's unit of work.
type EntityStatus string

const (
	StatusRevoked   EntityStatus = "revoked"
	StatusUnchanged EntityStatus = "unchanged"
	StatusPlanned   EntityStatus = "planned"
	StatusFailed    EntityStatus = "failed"
)

// EntityResult records what happened to one folder or resource.
type EntityResult struct {
	Task   RevocationTask
	Status EntityStatus
	Err    error
}

// RevocationReport summarizes a run. Err joins every entity failure; the run
// itself is considered complete even when Err is set.
type RevocationReport struct {
	FolderName string
	GroupName  string
	DryRun     bool
	Folders    int
	Results    []EntityResult
	Err        error
}

// Count returns the number of entities that ended with status.
func (r *RevocationReport) Count(status EntityStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Failures returns the per-entity errors.
func (r *RevocationReport) Failures() []*EntityError {
	var out []*EntityError
	for _, res := range r.Results {
		var entityErr *EntityError
		if errors.As(res.Err, &entityErr) {
			out = append(out, entityErr)
		}
	}
	return out
}

// RevocationEngine removes a group's permissions from every folder with a given
// name and from the resources directly inside them. Each folder and each
// resource is processed on its own: a failure is recorded and the run moves on.
// Nothing is rolled back.
type RevocationEngine struct {
	graph  ResourceGraph
	logger *pterm.Logger
}

// NewRevocationEngine creates an engine reading and writing through graph.
func NewRevocationEngine(graph ResourceGraph, optFns ...Option) *RevocationEngine {
	opts := newOptions(optFns)
	return &RevocationEngine{graph: graph, logger: opts.Logger}
}

// Revoke removes groupName's permissions from the folders named folderName
// (compared case-insensitively) and their direct resources. The only error
// returned is a failure to list folders or ErrFolderNotFound; entity failures
// are reported in the RevocationReport.
func (e *RevocationEngine) Revoke(ctx context.Context, s *Session, folderName, groupName string, opts RevocationOptions) (*RevocationReport, error) {
	folders, err := e.graph.ListFolders(ctx, s)
	if err != nil {
		e.logger.Error("Folders could not be listed", e.logger.Args("folder_name", folderName, "error", err))
		return nil, err
	}

	var targets []Folder
	for _, f := range folders {
		if strings.EqualFold(f.Name, folderName) {
			targets = append(targets, f)
		}
	}
	if len(targets) == 0 {
		e.logger.Error("No folder matches name", e.logger.Args("folder_name", folderName))
		return nil, ErrFolderNotFound
	}

	tree, err := BuildFolderTree(folders)
	if err != nil {
		e.logger.Warn("Folder paths unavailable", e.logger.Args("error", err))
	}

	report := &RevocationReport{
		FolderName: folderName,
		GroupName:  groupName,
		DryRun:     opts.DryRun,
		Folders:    len(targets),
	}
	var errs []error

	for _, folder := range targets {
		path := folder.Name
		if tree != nil {
			path = tree.Path(folder.ID)
		}
		e.logger.Info("Processing folder", e.logger.Args("folder_id", folder.ID, "path", path, "group", groupName))

		results := e.processFolder(ctx, s, folder, path, groupName, opts)
		for _, res := range results {
			if res.Err != nil {
				errs = append(errs, res.Err)
			}
		}
		report.Results = append(report.Results, results...)
	}

	report.Err = errors.Join(errs...)
	e.logger.Info("Revocation finished", e.logger.Args(
		"folder_name", folderName,
		"group", groupName,
		"dry_run", opts.DryRun,
		"revoked", report.Count(StatusRevoked),
		"planned", report.Count(StatusPlanned),
		"failed", report.Count(StatusFailed),
	))
	return report, nil
}

func (e *RevocationEngine) processFolder(ctx context.Context, s *Session, folder Folder, path, groupName string, opts RevocationOptions) []EntityResult {
	task := RevocationTask{Kind: EntityFolder, ID: folder.ID, Name: folder.Name, Path: path}
	var results []EntityResult

	perms, err := e.graph.FolderPermissions(ctx, s, folder.ID)
	if err != nil {
		results = append(results, e.failed(task, StageFetchPermissions, err))
	} else {
		task.Permissions = PermissionsForGroup(perms, groupName)
		results = append(results, e.apply(ctx, s, task, false, opts))
	}

	resources, err := e.graph.ResourcesInFolder(ctx, s, folder.ID)
	if err != nil {
		listTask := RevocationTask{Kind: EntityFolder, ID: folder.ID, Name: folder.Name, Path: path}
		return append(results, e.failed(listTask, StageListResources, err))
	}

	for _, r := range DirectChildren(resources, folder.ID) {
		results = append(results, e.processResource(ctx, s, r, path, groupName, opts))
	}
	return results
}

func (e *RevocationEngine) processResource(ctx context.Context, s *Session, r Resource, folderPath, groupName string, opts RevocationOptions) EntityResult {
	task := RevocationTask{Kind: EntityResource, ID: r.ID, Name: r.Name, Path: folderPath + "/" + r.Name}

	perms, err := e.graph.ResourcePermissions(ctx, s, r.ID)
	if err != nil {
		return e.failed(task, StageFetchPermissions, err)
	}
	task.Permissions = PermissionsForGroup(perms, groupName)
	return e.apply(ctx, s, task, true, opts)
}

// apply commits the task's removals, after a successful simulation when simulate
// is set.
func (e *RevocationEngine) apply(ctx context.Context, s *Session, task RevocationTask, simulate bool, opts RevocationOptions) EntityResult {
	if len(task.Permissions) == 0 {
		e.logger.Debug("No matching permissions", e.logger.Args("kind", string(task.Kind), "id", task.ID))
		return EntityResult{Task: task, Status: StatusUnchanged}
	}

	if simulate {
		if err := e.graph.SimulateShare(ctx, s, task.Kind, task.ID, task.Permissions); err != nil {
			return e.failed(task, StageSimulate, err)
		}
	}

	if opts.DryRun {
		e.logger.Info("Removal planned", e.logger.Args("kind", string(task.Kind), "id", task.ID, "path", task.Path, "permissions", len(task.Permissions)))
		return EntityResult{Task: task, Status: StatusPlanned}
	}

	if err := e.graph.UpdateShare(ctx, s, task.Kind, task.ID, task.Permissions); err != nil {
		return e.failed(task, StageCommit, err)
	}
	e.logger.Info("Permissions removed", e.logger.Args("kind", string(task.Kind), "id", task.ID, "path", task.Path, "permissions", len(task.Permissions)))
	return EntityResult{Task: task, Status: StatusRevoked}
}

func (e *RevocationEngine) failed(task RevocationTask, stage string, err error) EntityResult {
	entityErr := &EntityError{Kind: task.Kind, ID: task.ID, Name: task.Name, Stage: stage, Err: err}
	e.logger.Error("Entity skipped", e.logger.Args(
		"kind", string(task.Kind),
		"id", task.ID,
		"path", task.Path,
		"stage", stage,
		"error", err,
	))
	return EntityResult{Task: task, Status: StatusFailed, Err: entityErr}
}

// PermissionsForGroup keeps the permissions bound to a group named exactly
// groupName. User permissions never match.
func PermissionsForGroup(perms []Permission, groupName string) []Permission {
	var out []Permission
	for _, p := range perms {
		if p.Group != nil && p.Group.Name == groupName {
			out = append(out, p)
		}
	}
	return out
}

// DirectChildren keeps the resources whose parent is folderID itself.
func DirectChildren(resources []Resource, folderID string) []Resource {
	var out []Resource
	for _, r := range resources {
		if r.FolderParentID == folderID {
			out = append(out, r)
		}
	}
	return out
}
