// Package store defines how a user's virtual directory document is persisted.
// Backends live in the subpackages; factory selects one from configuration.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/maazmalik2004/Dspace/internal/vdir"
	"github.com/maazmalik2004/Dspace/pkg/models"
)

var (
	// ErrVersionConflict is returned by Save when the stored document changed
	// since it was loaded.
	ErrVersionConflict = errors.New("virtual directory was modified concurrently")

	// ErrInvalidCredentials is returned on a wrong password or unknown user.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Document is a user's virtual directory together with its version stamp.
// Version 0 means the document has never been saved.
type Document struct {
	Root    *models.Node `json:"root"`
	Version int64        `json:"version"`
}

// NewDocument returns an unsaved document with an empty root directory.
func NewDocument() *Document {
	return &Document{Root: vdir.NewRoot()}
}

// DirectoryStore loads and saves virtual directory documents.
type DirectoryStore interface {
	// Load returns the user's document, or a new empty one if none was saved.
	Load(ctx context.Context, user string) (*Document, error)

	// Save writes doc if the stored version still equals doc.Version, then
	// increments doc.Version. Otherwise it returns ErrVersionConflict.
	Save(ctx context.Context, user string, doc *Document) error

	// Type returns the backend type identifier.
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// Encode serializes a document root for storage.
func Encode(root *models.Node) ([]byte, error) {
	data, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("encode virtual directory: %w", err)
	}
	return data, nil
}

// Decode parses a stored document root.
func Decode(data []byte) (*models.Node, error) {
	var root models.Node
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode virtual directory: %w", err)
	}
	if !root.IsDir() {
		return nil, fmt.Errorf("decode virtual directory: %w: root is %q", vdir.ErrInvalidRecordType, root.Type)
	}
	return &root, nil
}
