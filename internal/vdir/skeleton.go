package vdir

import (
	"fmt"
	"strings"

	"github.com/maazmalik2004/Dspace/pkg/models"
)

// PrepareSkeleton validates an uploaded skeleton and gives every node a
// normalized path. The top node keeps its own path (or its name when it has
// none); descendants get their parent's path plus their name. Ids and links
// sent by the client are discarded.
func PrepareSkeleton(n *models.Node) error {
	if n == nil {
		return fmt.Errorf("%w: empty directory structure", ErrInvalidRecordType)
	}
	path := n.Path
	if path == "" {
		path = n.Name
	}
	path = NormalizePath(path)
	for _, segment := range strings.Split(path, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("%w: path %q has an empty or relative segment", ErrInvalidRecordType, path)
		}
	}
	return prepare(n, path)
}

func prepare(n *models.Node, path string) error {
	if !n.IsDir() && !n.IsFile() {
		return fmt.Errorf("%w: %q at %s", ErrInvalidRecordType, n.Type, path)
	}
	if n.Name == "" && path != models.RootName {
		return fmt.Errorf("%w: unnamed node at %s", ErrInvalidRecordType, path)
	}
	if strings.ContainsAny(n.Name, `/\`) {
		return fmt.Errorf("%w: name %q contains a path separator", ErrInvalidRecordType, n.Name)
	}
	if n.Name == "." || n.Name == ".." {
		return fmt.Errorf("%w: name %q at %s", ErrInvalidRecordType, n.Name, path)
	}
	if n.IsFile() && len(n.Children) > 0 {
		return fmt.Errorf("%w: file %s has children", ErrInvalidRecordType, path)
	}

	n.ID = ""
	n.Links = nil
	n.Path = path
	for _, child := range n.Children {
		if err := prepare(child, path+"/"+child.Name); err != nil {
			return err
		}
	}
	return nil
}

// Files returns the file nodes of a subtree in pre-order.
func Files(n *models.Node) []*models.Node {
	var out []*models.Node
	walk(n, func(node *models.Node) {
		if node.IsFile() {
			out = append(out, node)
		}
	})
	return out
}

func walk(n *models.Node, fn func(*models.Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, child := range n.Children {
		walk(child, fn)
	}
}

// PruneUnlinked removes file nodes that have no links, and reports how many
// were removed. It runs before a skeleton is merged so that files whose
// content was never uploaded do not appear in the tree.
func PruneUnlinked(n *models.Node) int {
	if n == nil || !n.IsDir() {
		return 0
	}
	removed := 0
	kept := n.Children[:0]
	for _, child := range n.Children {
		if child.IsFile() && len(child.Links) == 0 {
			removed++
			continue
		}
		removed += PruneUnlinked(child)
		kept = append(kept, child)
	}
	n.Children = kept
	return removed
}
