// Package vdir implements the per-user virtual directory tree: id
// assignment, field search, path-based merge-insertion and deletion.
package vdir

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/maazmalik2004/Dspace/pkg/models"
)

var (
	// ErrRecordNotFound is returned when an id or path is absent from the tree.
	ErrRecordNotFound = errors.New("record not found in the virtual directory")

	// ErrInvalidRecordType is returned for nodes that are neither files nor directories,
	// or when a file is used where a directory is required.
	ErrInvalidRecordType = errors.New("invalid record type")
)

// Field names a searchable node attribute.
type Field string

const (
	FieldID   Field = "id"
	FieldName Field = "name"
	FieldPath Field = "path"
	FieldType Field = "type"
)

func (f Field) of(n *models.Node) (string, bool) {
	switch f {
	case FieldID:
		return n.ID, true
	case FieldName:
		return n.Name, true
	case FieldPath:
		return n.Path, true
	case FieldType:
		return string(n.Type), true
	}
	return "", false
}

// Tree is one user's virtual directory. It is loaded, mutated and saved per
// request and holds no state beyond its root.
type Tree struct {
	Root *models.Node
}

// New wraps root in a Tree.
func New(root *models.Node) *Tree {
	return &Tree{Root: root}
}

// NewRoot returns an empty root directory with a fresh id.
func NewRoot() *models.Node {
	return models.NewDirectory(uuid.NewString(), models.RootName, models.RootName)
}

// NormalizePath converts backslashes to slashes, trims surrounding slashes and
// anchors the result under the root directory.
func NormalizePath(p string) string {
	p = strings.Trim(strings.ReplaceAll(p, `\`, "/"), "/")
	if p == "" || p == models.RootName || strings.HasPrefix(p, models.RootName+"/") {
		if p == "" {
			return models.RootName
		}
		return p
	}
	return models.RootName + "/" + p
}

// splitPath returns the parent path and the leaf name of p.
func splitPath(p string) (parent, name string) {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

// AssignIDs gives every node of the subtree a fresh id, in pre-order.
func AssignIDs(n *models.Node) {
	if n == nil {
		return
	}
	n.ID = uuid.NewString()
	for _, child := range n.Children {
		AssignIDs(child)
	}
}

// FindByField returns the first node, in pre-order, whose field equals value.
func FindByField(n *models.Node, field Field, value string) *models.Node {
	if n == nil {
		return nil
	}
	if v, ok := field.of(n); !ok {
		return nil
	} else if v == value {
		return n
	}
	for _, child := range n.Children {
		if found := FindByField(child, field, value); found != nil {
			return found
		}
	}
	return nil
}

// FindByField searches the whole tree. See FindByField.
func (t *Tree) FindByField(field Field, value string) *models.Node {
	return FindByField(t.Root, field, value)
}

// Lookup returns the node with the given id or ErrRecordNotFound.
func (t *Tree) Lookup(id string) (*models.Node, error) {
	n := t.FindByField(FieldID, id)
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if !n.IsDir() && !n.IsFile() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRecordType, n.Type)
	}
	return n, nil
}

// InsertByPath grafts n into the tree under the node whose path is the parent
// of n.Path. Missing ancestors are created as empty directories. A node whose
// path is the root's path is the root itself and is not inserted.
func (t *Tree) InsertByPath(n *models.Node) error {
	if n.Path == t.Root.Path {
		return nil
	}

	parentPath, _ := splitPath(n.Path)
	if parentPath == "" {
		return appendChild(t.Root, n)
	}

	if parent := t.FindByField(FieldPath, parentPath); parent != nil {
		return appendChild(parent, n)
	}

	_, parentName := splitPath(parentPath)
	parent := models.NewDirectory(uuid.NewString(), parentName, parentPath)
	if err := t.InsertByPath(parent); err != nil {
		return err
	}
	return appendChild(parent, n)
}

func appendChild(parent, n *models.Node) error {
	if !parent.IsDir() {
		return fmt.Errorf("%w: cannot insert %s under file %s", ErrInvalidRecordType, n.Path, parent.Path)
	}
	parent.Children = append(parent.Children, n)
	return nil
}

// DeleteByID removes the node with the given id and its subtree. It reports
// whether a node was removed. The root itself cannot be deleted.
func (t *Tree) DeleteByID(id string) bool {
	return deleteChild(t.Root, id)
}

func deleteChild(dir *models.Node, id string) bool {
	for i, child := range dir.Children {
		if child.ID == id {
			dir.Children = append(dir.Children[:i], dir.Children[i+1:]...)
			return true
		}
	}
	for _, child := range dir.Children {
		if child.IsDir() && deleteChild(child, id) {
			return true
		}
	}
	return false
}

// CountNodes counts all nodes in a subtree.
func CountNodes(n *models.Node) int {
	if n == nil {
		return 0
	}
	count := 1
	for _, child := range n.Children {
		count += CountNodes(child)
	}
	return count
}
