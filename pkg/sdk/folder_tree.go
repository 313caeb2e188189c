package sdk

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// FolderTree is the folder hierarchy as a directed graph, parent to child.
// Folders whose parent is not visible to the session are roots.
type FolderTree struct {
	g       *simple.DirectedGraph
	folders map[string]Folder
	nodeIDs map[string]int64
	byNode  map[int64]string
}

// FolderTree lists folders and builds their hierarchy.
func (c *ResourceClient) FolderTree(ctx context.Context, s *Session) (*FolderTree, error) {
	folders, err := c.ListFolders(ctx, s)
	if err != nil {
		return nil, err
	}
	return BuildFolderTree(folders)
}

// BuildFolderTree constructs the hierarchy and rejects parent cycles.
func BuildFolderTree(folders []Folder) (*FolderTree, error) {
	t := &FolderTree{
		g:       simple.NewDirectedGraph(),
		folders: make(map[string]Folder, len(folders)),
		nodeIDs: make(map[string]int64, len(folders)),
		byNode:  make(map[int64]string, len(folders)),
	}

	for i, f := range folders {
		if _, dup := t.folders[f.ID]; dup {
			continue
		}
		nodeID := int64(i)
		t.folders[f.ID] = f
		t.nodeIDs[f.ID] = nodeID
		t.byNode[nodeID] = f.ID
		t.g.AddNode(simple.Node(nodeID))
	}

	for id, f := range t.folders {
		if f.FolderParentID == "" {
			continue
		}
		if f.FolderParentID == id {
			return nil, fmt.Errorf("folder %s is its own parent", id)
		}
		parentNode, ok := t.nodeIDs[f.FolderParentID]
		if !ok {
			continue
		}
		t.g.SetEdge(simple.Edge{F: simple.Node(parentNode), T: simple.Node(t.nodeIDs[id])})
	}

	if _, err := topo.Sort(t.g); err != nil {
		return nil, fmt.Errorf("folder hierarchy has a cycle: %w", err)
	}
	return t, nil
}

// Len returns the number of folders in the tree.
func (t *FolderTree) Len() int {
	return len(t.folders)
}

// Folder returns the folder with id.
func (t *FolderTree) Folder(id string) (Folder, bool) {
	f, ok := t.folders[id]
	return f, ok
}

// Roots returns the top-level folders sorted by name.
func (t *FolderTree) Roots() []Folder {
	var roots []Folder
	for id, f := range t.folders {
		if t.g.To(t.nodeIDs[id]).Len() == 0 {
			roots = append(roots, f)
		}
	}
	sortFolders(roots)
	return roots
}

// Children returns the direct subfolders of id sorted by name.
func (t *FolderTree) Children(id string) []Folder {
	nodeID, ok := t.nodeIDs[id]
	if !ok {
		return nil
	}
	var children []Folder
	nodes := t.g.From(nodeID)
	for nodes.Next() {
		children = append(children, t.folders[t.byNode[nodes.Node().ID()]])
	}
	sortFolders(children)
	return children
}

// Path returns the slash-separated names from the root down to id, e.g.
// "/Infra/Prod/Databases". Unknown ids yield an empty string.
func (t *FolderTree) Path(id string) string {
	f, ok := t.folders[id]
	if !ok {
		return ""
	}

	names := []string{f.Name}
	for {
		parents := t.g.To(t.nodeIDs[f.ID])
		if !parents.Next() {
			break
		}
		f = t.folders[t.byNode[parents.Node().ID()]]
		names = append(names, f.Name)
	}
	slices.Reverse(names)
	return "/" + strings.Join(names, "/")
}

// Walk visits every folder depth first, parents before children, siblings by name.
func (t *FolderTree) Walk(fn func(f Folder, depth int)) {
	var visit func(f Folder, depth int)
	visit = func(f Folder, depth int) {
		fn(f, depth)
		for _, child := range t.Children(f.ID) {
			visit(child, depth+1)
		}
	}
	for _, root := range t.Roots() {
		visit(root, 0)
	}
}

func sortFolders(folders []Folder) {
	slices.SortFunc(folders, func(a, b Folder) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
