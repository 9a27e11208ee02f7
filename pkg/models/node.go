// Package models contains the data types shared by the server and its clients.
package models

import "encoding/json"

// NodeType distinguishes files from directories.
type NodeType string

const (
	TypeFile      NodeType = "file"
	TypeDirectory NodeType = "directory"
)

// RootName is the name (and path) of every user's top-level directory.
const RootName = "root"

// Node represents a file or directory in a user's virtual directory.
//
// Links is the ordered list of chunk addresses of a file; its order is the
// byte order used to reassemble the content. Path is the normalized path at
// creation time and is only meaningful while merging an upload.
type Node struct {
	ID       string   `json:"id,omitempty"`
	Name     string   `json:"name"`
	Type     NodeType `json:"type"`
	Path     string   `json:"path,omitempty"`
	Children []*Node  `json:"children,omitempty"`
	Links    []string `json:"links,omitempty"`
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool {
	return n.Type == TypeDirectory
}

// IsFile reports whether the node is a file.
func (n *Node) IsFile() bool {
	return n.Type == TypeFile
}

// MarshalJSON always emits children for directories and links for files,
// even when they are empty, so that stored documents keep a stable shape.
func (n Node) MarshalJSON() ([]byte, error) {
	type wire struct {
		ID       string    `json:"id,omitempty"`
		Name     string    `json:"name"`
		Type     NodeType  `json:"type"`
		Path     string    `json:"path,omitempty"`
		Children *[]*Node  `json:"children,omitempty"`
		Links    *[]string `json:"links,omitempty"`
	}

	w := wire{ID: n.ID, Name: n.Name, Type: n.Type, Path: n.Path}
	switch n.Type {
	case TypeDirectory:
		children := n.Children
		if children == nil {
			children = []*Node{}
		}
		w.Children = &children
	case TypeFile:
		links := n.Links
		if links == nil {
			links = []string{}
		}
		w.Links = &links
	default:
		if n.Children != nil {
			w.Children = &n.Children
		}
		if n.Links != nil {
			w.Links = &n.Links
		}
	}
	return json.Marshal(w)
}

// NewDirectory returns an empty directory node.
func NewDirectory(id, name, path string) *Node {
	return &Node{
		ID:       id,
		Name:     name,
		Type:     TypeDirectory,
		Path:     path,
		Children: []*Node{},
	}
}
