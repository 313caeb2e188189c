// Package output renders listings and reports as tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
	"gopkg.in/yaml.v3"

	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/config"
	"github.com/qntoni/passboltctl/pkg/sdk"
)

// ResourceView is the rendered form of a resource: folder ids and user ids are
// replaced by the folder path and user display names.
type ResourceView struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	Username   string    `json:"username,omitempty" yaml:"username,omitempty"`
	URI        string    `json:"uri,omitempty" yaml:"uri,omitempty"`
	Folder     string    `json:"folder" yaml:"folder"`
	CreatedBy  string    `json:"created_by" yaml:"created_by"`
	ModifiedBy string    `json:"modified_by" yaml:"modified_by"`
	Created    time.Time `json:"created" yaml:"created"`
	Modified   time.Time `json:"modified" yaml:"modified"`
}

// ResourceViews resolves folder paths and user names for display. tree and names
// may be nil; unresolved ids are shown as-is.
func ResourceViews(resources []sdk.Resource, tree *sdk.FolderTree, names map[string]string) []ResourceView {
	views := make([]ResourceView, 0, len(resources))
	for _, r := range resources {
		folder := "/"
		if r.FolderParentID != "" {
			folder = r.FolderParentID
			if tree != nil {
				if path := tree.Path(r.FolderParentID); path != "" {
					folder = path
				}
			}
		}
		views = append(views, ResourceView{
			ID:         r.ID,
			Name:       r.Name,
			Username:   r.Username,
			URI:        r.URI,
			Folder:     folder,
			CreatedBy:  displayName(names, r.CreatedBy),
			ModifiedBy: displayName(names, r.ModifiedBy),
			Created:    r.Created,
			Modified:   r.Modified,
		})
	}
	sort.SliceStable(views, func(i, j int) bool {
		if views[i].Folder != views[j].Folder {
			return views[i].Folder < views[j].Folder
		}
		return strings.ToLower(views[i].Name) < strings.ToLower(views[j].Name)
	})
	return views
}

func displayName(names map[string]string, id string) string {
	if name, ok := names[id]; ok {
		return name
	}
	if id == "" {
		return "-"
	}
	return id
}

// Resources writes resource views in the requested format.
func Resources(w io.Writer, format config.OutputFormat, views []ResourceView) error {
	switch format {
	case config.OutputJSON:
		return writeJSON(w, views)
	case config.OutputYAML:
		return writeYAML(w, views)
	}

	if len(views) == 0 {
		_, err := fmt.Fprintln(w, "No resources found.")
		return err
	}
	data := pterm.TableData{{"NAME", "USERNAME", "URI", "FOLDER", "CREATED BY", "MODIFIED BY", "MODIFIED"}}
	for _, v := range views {
		data = append(data, []string{
			v.Name,
			dash(v.Username),
			dash(v.URI),
			v.Folder,
			v.CreatedBy,
			v.ModifiedBy,
			formatTime(v.Modified),
		})
	}
	return writeTable(w, data)
}

// FolderTree writes the folder hierarchy as an indented tree.
func FolderTree(w io.Writer, tree *sdk.FolderTree) error {
	if tree == nil || tree.Len() == 0 {
		_, err := fmt.Fprintln(w, "No folders found.")
		return err
	}

	var list pterm.LeveledList
	tree.Walk(func(f sdk.Folder, depth int) {
		list = append(list, pterm.LeveledListItem{Level: depth, Text: f.Name})
	})
	rendered, err := pterm.DefaultTree.WithRoot(putils.TreeFromLeveledList(list)).Srender()
	if err != nil {
		return fmt.Errorf("render folder tree: %w", err)
	}
	_, err = fmt.Fprint(w, rendered)
	return err
}

// reportView is the serializable form of a revocation report.
type reportView struct {
	Folder  string             `json:"folder" yaml:"folder"`
	Group   string             `json:"group" yaml:"group"`
	DryRun  bool               `json:"dry_run" yaml:"dry_run"`
	Folders int                `json:"folders_matched" yaml:"folders_matched"`
	Results []reportResultView `json:"results" yaml:"results"`
}

type reportResultView struct {
	Kind        sdk.EntityKind   `json:"kind" yaml:"kind"`
	ID          string           `json:"id" yaml:"id"`
	Name        string           `json:"name" yaml:"name"`
	Path        string           `json:"path,omitempty" yaml:"path,omitempty"`
	Status      sdk.EntityStatus `json:"status" yaml:"status"`
	Permissions []string         `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Error       string           `json:"error,omitempty" yaml:"error,omitempty"`
}

// RevocationReport writes the per-entity outcome of a revocation run.
func RevocationReport(w io.Writer, format config.OutputFormat, report *sdk.RevocationReport) error {
	view := reportView{
		Folder:  report.FolderName,
		Group:   report.GroupName,
		DryRun:  report.DryRun,
		Folders: report.Folders,
		Results: make([]reportResultView, 0, len(report.Results)),
	}
	for _, res := range report.Results {
		rv := reportResultView{
			Kind:   res.Task.Kind,
			ID:     res.Task.ID,
			Name:   res.Task.Name,
			Path:   res.Task.Path,
			Status: res.Status,
		}
		for _, p := range res.Task.Permissions {
			rv.Permissions = append(rv.Permissions, p.ID)
		}
		if res.Err != nil {
			rv.Error = res.Err.Error()
		}
		view.Results = append(view.Results, rv)
	}

	switch format {
	case config.OutputJSON:
		return writeJSON(w, view)
	case config.OutputYAML:
		return writeYAML(w, view)
	}

	data := pterm.TableData{{"KIND", "NAME", "PATH", "PERMISSIONS", "STATUS", "ERROR"}}
	for _, rv := range view.Results {
		data = append(data, []string{
			string(rv.Kind),
			rv.Name,
			dash(rv.Path),
			strconv.Itoa(len(rv.Permissions)),
			string(rv.Status),
			dash(rv.Error),
		})
	}
	return writeTable(w, data)
}

func writeTable(w io.Writer, data pterm.TableData) error {
	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	_, err = fmt.Fprintln(w, rendered)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// SessionView describes the open session without exposing its secrets.
type SessionView struct {
	Kind       string    `json:"kind" yaml:"kind"`
	UserID     string    `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Subject    string    `json:"subject,omitempty" yaml:"subject,omitempty"`
	Expires    time.Time `json:"expires,omitempty" yaml:"expires,omitempty"`
	CSRFCached bool      `json:"csrf_cached" yaml:"csrf_cached"`
}

// NewSessionView summarizes s. Token claims are read without verification.
func NewSessionView(s *sdk.Session) SessionView {
	view := SessionView{
		Kind:       s.Kind().String(),
		UserID:     s.UserID(),
		CSRFCached: s.CachedCSRFToken() != "",
	}
	if tok := s.Token(); tok != nil {
		view.Expires = tok.Expiry
		if claims, err := sdk.ParseAccessTokenClaims(tok.AccessToken); err == nil {
			view.Subject = claims.Subject
		}
	}
	return view
}

// Session writes a session summary.
func Session(w io.Writer, format config.OutputFormat, view SessionView) error {
	switch format {
	case config.OutputJSON:
		return writeJSON(w, view)
	case config.OutputYAML:
		return writeYAML(w, view)
	}

	csrf := "no"
	if view.CSRFCached {
		csrf = "yes"
	}
	return writeTable(w, pterm.TableData{
		{"FIELD", "VALUE"},
		{"Kind", view.Kind},
		{"User ID", dash(view.UserID)},
		{"Subject", dash(view.Subject)},
		{"Expires", formatTime(view.Expires)},
		{"CSRF token cached", csrf},
	})
}
