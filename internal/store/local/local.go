// Package local stores virtual directories as one JSON file per user.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maazmalik2004/Dspace/internal/logging"
	"github.com/maazmalik2004/Dspace/internal/metrics"
	"github.com/maazmalik2004/Dspace/internal/store"
	"github.com/maazmalik2004/Dspace/pkg/models"
)

// Config holds local store settings.
type Config struct {
	RootPath   string
	CreateDirs bool
}

// Store keeps {root}/{user}.json files. Writes go through a temporary file and
// a rename so a crash never leaves a truncated document behind.
type Store struct {
	rootPath string
	mu       sync.Mutex
}

type fileDocument struct {
	Version int64           `json:"version"`
	Root    json.RawMessage `json:"root"`
}

// New creates a local store rooted at cfg.RootPath.
func New(cfg Config) (*Store, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("local store: root path is required")
	}

	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		if os.IsNotExist(err) && cfg.CreateDirs {
			if mkErr := os.MkdirAll(cfg.RootPath, 0755); mkErr != nil {
				return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}

	return &Store{rootPath: cfg.RootPath}, nil
}

func (s *Store) fullPath(user string) string {
	return filepath.Join(s.rootPath, url.PathEscape(user)+".json")
}

func (s *Store) read(user string) (*models.Node, int64, error) {
	data, err := os.ReadFile(s.fullPath(user))
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", user, err)
	}

	var fd fileDocument
	if err := json.Unmarshal(data, &fd); err != nil {
		return nil, 0, fmt.Errorf("parse %s: %w", user, err)
	}
	root, err := store.Decode(fd.Root)
	if err != nil {
		return nil, 0, err
	}
	return root, fd.Version, nil
}

// Load implements store.DirectoryStore.
func (s *Store) Load(_ context.Context, user string) (*store.Document, error) {
	start := time.Now()
	s.mu.Lock()
	root, version, err := s.read(user)
	s.mu.Unlock()
	metrics.RecordStoreOperation(s.Type(), "load", time.Since(start), err == nil)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return store.NewDocument(), nil
	}
	return &store.Document{Root: root, Version: version}, nil
}

// Save implements store.DirectoryStore.
func (s *Store) Save(_ context.Context, user string, doc *store.Document) error {
	start := time.Now()
	err := s.save(user, doc)
	metrics.RecordStoreOperation(s.Type(), "save", time.Since(start), err == nil)
	return err
}

func (s *Store) save(user string, doc *store.Document) error {
	rootData, err := store.Encode(doc.Root)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, current, err := s.read(user)
	if err != nil {
		return err
	}
	if current != doc.Version {
		return store.ErrVersionConflict
	}

	data, err := json.Marshal(fileDocument{Version: doc.Version + 1, Root: rootData})
	if err != nil {
		return fmt.Errorf("encode %s: %w", user, err)
	}

	tmp, err := os.CreateTemp(s.rootPath, ".vdir-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", user, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.fullPath(user)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", user, err)
	}

	doc.Version++
	logging.Debug("virtual directory saved",
		logging.User(user),
		logging.Int64("version", doc.Version),
		logging.Int("bytes", len(data)))
	return nil
}

// Type returns "local".
func (s *Store) Type() string { return "local" }

// Close is a no-op for the local store.
func (s *Store) Close() error { return nil }
