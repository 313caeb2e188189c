package sdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pterm/pterm"
)

// EntityKind names the two shareable entity types. The value is used verbatim in
// share endpoint paths.
type EntityKind string

const (
	EntityFolder   EntityKind = "folder"
	EntityResource EntityKind = "resource"
)

// PermissionType is the access level a permission grants.
type PermissionType int

const (
	PermissionRead   PermissionType = 1
	PermissionUpdate PermissionType = 7
	PermissionOwner  PermissionType = 15
)

func (t PermissionType) String() string {
	switch t {
	case PermissionRead:
		return "read"
	case PermissionUpdate:
		return "update"
	case PermissionOwner:
		return "owner"
	default:
		return fmt.Sprintf("type-%d", int(t))
	}
}

// Group is a security group permissions can be granted to.
type Group struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// UserProfile holds a user's display details.
type UserProfile struct {
	FirstName string `json:"first_name" yaml:"first_name"`
	LastName  string `json:"last_name" yaml:"last_name"`
}

// User is a directory entry.
type User struct {
	ID       string       `json:"id" yaml:"id"`
	Username string       `json:"username" yaml:"username"`
	Active   bool         `json:"active" yaml:"active"`
	Deleted  bool         `json:"deleted" yaml:"deleted"`
	Profile  *UserProfile `json:"profile,omitempty" yaml:"profile,omitempty"`
	Created  time.Time    `json:"created" yaml:"created"`
	Modified time.Time    `json:"modified" yaml:"modified"`
}

// DisplayName returns the full name when a profile is present, else the username.
func (u User) DisplayName() string {
	if u.Profile != nil && (u.Profile.FirstName != "" || u.Profile.LastName != "") {
		return u.Profile.FirstName + " " + u.Profile.LastName
	}
	return u.Username
}

// Permission binds exactly one ARO (a user or a group) to one ACO (a folder or a
// resource).
type Permission struct {
	ID            string         `json:"id" yaml:"id"`
	ACO           string         `json:"aco" yaml:"aco"`
	ARO           string         `json:"aro" yaml:"aro"`
	ACOForeignKey string         `json:"aco_foreign_key" yaml:"aco_foreign_key"`
	AROForeignKey string         `json:"aro_foreign_key" yaml:"aro_foreign_key"`
	Type          PermissionType `json:"type" yaml:"type"`
	Group         *Group         `json:"group,omitempty" yaml:"group,omitempty"`
	User          *User          `json:"user,omitempty" yaml:"user,omitempty"`
}

// GroupName returns the bound group's name, empty for user permissions.
func (p Permission) GroupName() string {
	if p.Group == nil {
		return ""
	}
	return p.Group.Name
}

// Folder is a node of the folder hierarchy.
type Folder struct {
	ID             string       `json:"id" yaml:"id"`
	Name           string       `json:"name" yaml:"name"`
	FolderParentID string       `json:"folder_parent_id" yaml:"folder_parent_id,omitempty"`
	Personal       bool         `json:"personal" yaml:"personal"`
	Created        time.Time    `json:"created" yaml:"created"`
	Modified       time.Time    `json:"modified" yaml:"modified"`
	Permissions    []Permission `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// Resource is a stored credential. Secrets are never requested.
type Resource struct {
	ID             string       `json:"id" yaml:"id"`
	Name           string       `json:"name" yaml:"name"`
	Username       string       `json:"username" yaml:"username,omitempty"`
	URI            string       `json:"uri" yaml:"uri,omitempty"`
	FolderParentID string       `json:"folder_parent_id" yaml:"folder_parent_id,omitempty"`
	CreatedBy      string       `json:"created_by" yaml:"created_by"`
	ModifiedBy     string       `json:"modified_by" yaml:"modified_by"`
	Created        time.Time    `json:"created" yaml:"created"`
	Modified       time.Time    `json:"modified" yaml:"modified"`
	Permissions    []Permission `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// ResourceClient reads the folder/resource graph and submits share changes.
type ResourceClient struct {
	client HTTPClient
	users  *lru.Cache[string, User]
	logger *pterm.Logger
}

// NewResourceClient creates a client sending requests through client.
func NewResourceClient(client HTTPClient, optFns ...Option) (*ResourceClient, error) {
	opts := newOptions(optFns)
	users, err := lru.New[string, User](userCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create user cache: %w", err)
	}
	return &ResourceClient{client: client, users: users, logger: opts.Logger}, nil
}

// ListFolders returns every folder visible to the session.
func (c *ResourceClient) ListFolders(ctx context.Context, s *Session) ([]Folder, error) {
	var folders []Folder
	if err := c.get(ctx, s, "list folders", "/folders.json", v2Query(), &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

// ListResources returns every resource visible to the session.
func (c *ResourceClient) ListResources(ctx context.Context, s *Session) ([]Resource, error) {
	var resources []Resource
	if err := c.get(ctx, s, "list resources", "/resources.json", v2Query(), &resources); err != nil {
		return nil, err
	}
	return resources, nil
}

// FolderPermissions returns the permission set of a folder.
func (c *ResourceClient) FolderPermissions(ctx context.Context, s *Session, folderID string) ([]Permission, error) {
	query := withPermissions(v2Query())
	query.Add("filter[has-id][]", folderID)

	var folders []Folder
	if err := c.get(ctx, s, "folder permissions", "/folders.json", query, &folders); err != nil {
		return nil, err
	}
	if len(folders) == 0 {
		return nil, fmt.Errorf("%w: folder %s", ErrNotFound, folderID)
	}
	return folders[0].Permissions, nil
}

// ResourcesInFolder returns the resources the server lists under a folder. The
// listing may include deeper descendants; callers that need direct children
// must check FolderParentID.
func (c *ResourceClient) ResourcesInFolder(ctx context.Context, s *Session, folderID string) ([]Resource, error) {
	query := v2Query()
	query.Add("filter[has-folder-id][]", folderID)

	var resources []Resource
	if err := c.get(ctx, s, "resources in folder", "/resources.json", query, &resources); err != nil {
		return nil, err
	}
	return resources, nil
}

// ResourcePermissions returns the permission set of a resource.
func (c *ResourceClient) ResourcePermissions(ctx context.Context, s *Session, resourceID string) ([]Permission, error) {
	query := withPermissions(v2Query())
	query.Add("filter[has-id][]", resourceID)

	var resources []Resource
	if err := c.get(ctx, s, "resource permissions", "/resources.json", query, &resources); err != nil {
		return nil, err
	}
	if len(resources) == 0 {
		return nil, fmt.Errorf("%w: resource %s", ErrNotFound, resourceID)
	}
	return resources[0].Permissions, nil
}

// SimulateShare asks the server whether removing perms from the entity would be
// accepted, without applying anything. A refusal wraps ErrValidation.
func (c *ResourceClient) SimulateShare(ctx context.Context, s *Session, kind EntityKind, id string, perms []Permission) error {
	path := fmt.Sprintf("/share/simulate/%s/%s.json", kind, id)
	resp, err := c.send(ctx, s, http.MethodPost, path, removalPayload(perms))
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("%w: %s", ErrValidation, statusError("simulate share", resp))
	}
	return nil
}

// UpdateShare removes perms from the entity. The server computes the resulting
// permission set from the tombstones.
func (c *ResourceClient) UpdateShare(ctx context.Context, s *Session, kind EntityKind, id string, perms []Permission) error {
	path := fmt.Sprintf("/share/%s/%s.json", kind, id)
	resp, err := c.send(ctx, s, http.MethodPut, path, removalPayload(perms))
	if err != nil {
		return err
	}
	if !resp.OK() {
		return statusError("update share", resp)
	}
	return nil
}

func (c *ResourceClient) get(ctx context.Context, s *Session, op, path string, query url.Values, out any) error {
	req := &Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  query,
		Header: http.Header{"Content-Type": []string{"application/json"}},
	}
	if err := s.Authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.client.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, statusError(op, resp))
	}
	if !resp.OK() {
		return statusError(op, resp)
	}
	return decodeBody(resp, op, out)
}

func (c *ResourceClient) send(ctx context.Context, s *Session, method, path string, payload any) (*Response, error) {
	req, err := newJSONRequest(method, path, payload)
	if err != nil {
		return nil, err
	}
	req.Query = v2Query()
	if err := s.Authorize(ctx, req); err != nil {
		return nil, err
	}
	return c.client.Do(ctx, req)
}

// permissionRemoval is a tombstone: it tells the server to drop one permission.
type permissionRemoval struct {
	ID            string         `json:"id"`
	Delete        bool           `json:"delete"`
	ACO           string         `json:"aco"`
	ARO           string         `json:"aro"`
	ACOForeignKey string         `json:"aco_foreign_key"`
	AROForeignKey string         `json:"aro_foreign_key"`
	Type          PermissionType `json:"type"`
}

type sharePayload struct {
	Permissions []permissionRemoval `json:"permissions"`
}

func removalPayload(perms []Permission) sharePayload {
	payload := sharePayload{Permissions: make([]permissionRemoval, 0, len(perms))}
	for _, p := range perms {
		payload.Permissions = append(payload.Permissions, permissionRemoval{
			ID:            p.ID,
			Delete:        true,
			ACO:           p.ACO,
			ARO:           p.ARO,
			ACOForeignKey: p.ACOForeignKey,
			AROForeignKey: p.AROForeignKey,
			Type:          p.Type,
		})
	}
	return payload
}

func v2Query() url.Values {
	return url.Values{"api-version": {"v2"}}
}

func withPermissions(q url.Values) url.Values {
	q.Set("contain[permission]", "1")
	q.Set("contain[permissions.user.profile]", "1")
	q.Set("contain[permissions.group]", "1")
	return q
}
