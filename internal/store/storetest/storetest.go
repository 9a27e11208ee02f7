// Package storetest holds a conformance suite run against every DirectoryStore.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/maazmalik2004/Dspace/internal/store"
	"github.com/maazmalik2004/Dspace/pkg/models"
)

// Run exercises a DirectoryStore. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.DirectoryStore) {
	ctx := context.Background()

	t.Run("LoadAbsentUser", func(t *testing.T) {
		s := newStore(t)
		doc, err := s.Load(ctx, "nobody")
		if err != nil {
			t.Fatal(err)
		}
		if doc.Version != 0 {
			t.Errorf("Version = %d", doc.Version)
		}
		r := doc.Root
		if r.ID == "" || r.Name != models.RootName || r.Path != models.RootName || !r.IsDir() || len(r.Children) != 0 {
			t.Errorf("root = %+v", r)
		}
	})

	t.Run("SaveAndReload", func(t *testing.T) {
		s := newStore(t)
		doc, _ := s.Load(ctx, "alice")
		doc.Root.Children = append(doc.Root.Children, &models.Node{
			ID: "f1", Name: "a.txt", Type: models.TypeFile, Path: "root/a.txt",
			Links: []string{"https://discord.com/channels/1/2/3"},
		})
		if err := s.Save(ctx, "alice", doc); err != nil {
			t.Fatal(err)
		}
		if doc.Version != 1 {
			t.Errorf("Version after save = %d", doc.Version)
		}

		got, err := s.Load(ctx, "alice")
		if err != nil {
			t.Fatal(err)
		}
		want, _ := json.Marshal(doc.Root)
		have, _ := json.Marshal(got.Root)
		if string(want) != string(have) || got.Version != 1 {
			t.Errorf("reloaded v%d %s, want v1 %s", got.Version, have, want)
		}
	})

	t.Run("StaleSaveConflicts", func(t *testing.T) {
		s := newStore(t)
		first, _ := s.Load(ctx, "bob")
		second, _ := s.Load(ctx, "bob")

		if err := s.Save(ctx, "bob", first); err != nil {
			t.Fatal(err)
		}
		if err := s.Save(ctx, "bob", second); !errors.Is(err, store.ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict, got %v", err)
		}

		fresh, _ := s.Load(ctx, "bob")
		if err := s.Save(ctx, "bob", fresh); err != nil {
			t.Fatalf("save after reload: %v", err)
		}
		if fresh.Version != 2 {
			t.Errorf("Version = %d, want 2", fresh.Version)
		}
	})

	t.Run("UsersAreIsolated", func(t *testing.T) {
		s := newStore(t)
		doc, _ := s.Load(ctx, "carol")
		doc.Root.Children = append(doc.Root.Children, models.NewDirectory("d1", "docs", "root/docs"))
		if err := s.Save(ctx, "carol", doc); err != nil {
			t.Fatal(err)
		}

		other, err := s.Load(ctx, "dave")
		if err != nil {
			t.Fatal(err)
		}
		if len(other.Root.Children) != 0 || other.Version != 0 {
			t.Errorf("dave sees carol's tree: %+v", other.Root)
		}
	})

	t.Run("LoadedDocumentIsACopy", func(t *testing.T) {
		s := newStore(t)
		doc, _ := s.Load(ctx, "erin")
		if err := s.Save(ctx, "erin", doc); err != nil {
			t.Fatal(err)
		}
		doc.Root.Name = "mutated"

		got, _ := s.Load(ctx, "erin")
		if got.Root.Name != models.RootName {
			t.Errorf("store shares nodes with callers")
		}
	})
}
