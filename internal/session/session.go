// Package session ties uploads and retrievals to a user's persisted virtual
// directory: it matches uploaded files to the skeleton, uploads their chunks,
// and merges the result into the stored tree under a per-user lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maazmalik2004/Dspace/internal/logging"
	"github.com/maazmalik2004/Dspace/internal/metrics"
	"github.com/maazmalik2004/Dspace/internal/retrieval"
	"github.com/maazmalik2004/Dspace/internal/store"
	"github.com/maazmalik2004/Dspace/internal/vdir"
	"github.com/maazmalik2004/Dspace/pkg/models"
)

// ErrNoFiles is returned when none of the uploaded parts matches a file in the skeleton.
var ErrNoFiles = errors.New("no uploaded file matches the directory structure")

// Uploader uploads one file and returns its ordered chunk addresses.
// *chunk.Transfer implements it.
type Uploader interface {
	UploadFile(ctx context.Context, filename string, data []byte) ([]string, error)
}

// FileUpload is one uploaded file part.
type FileUpload struct {
	Name string
	Data []byte
}

// UploadResult describes a completed upload.
type UploadResult struct {
	Elapsed          time.Duration
	UploadTime       string
	Files            int
	Skipped          []string
	VirtualDirectory *models.Node
}

// Options configures a Session.
type Options struct {
	FileConcurrency int    // files uploaded at once per request
	SaveAttempts    int    // load-merge-save attempts on version conflicts
	ArchiveDir      string // when set, folder archives are also written here
}

// Session serves uploads, retrievals and deletions for all users.
type Session struct {
	store     store.DirectoryStore
	uploader  Uploader
	retriever *retrieval.Orchestrator
	opts      Options
	locks     *keyedMutex
}

// New creates a Session.
func New(st store.DirectoryStore, uploader Uploader, retriever *retrieval.Orchestrator, opts Options) *Session {
	if opts.FileConcurrency < 1 {
		opts.FileConcurrency = 1
	}
	if opts.SaveAttempts < 1 {
		opts.SaveAttempts = 3
	}
	return &Session{
		store:     st,
		uploader:  uploader,
		retriever: retriever,
		opts:      opts,
		locks:     newKeyedMutex(),
	}
}

// Upload stores the files described by skeleton and merges the skeleton into
// the user's tree. Nothing is merged unless every file uploaded completely.
// Skeleton file nodes without a matching part are left out of the tree.
func (s *Session) Upload(ctx context.Context, user string, skeleton *models.Node, files []FileUpload) (*UploadResult, error) {
	start := time.Now()
	log := logging.WithContext(ctx).With(logging.User(user))

	if err := vdir.PrepareSkeleton(skeleton); err != nil {
		return nil, err
	}
	vdir.AssignIDs(skeleton)

	targets, parts, skipped := matchFiles(skeleton, files)
	for _, name := range skipped {
		log.Warn("uploaded part does not match a file in the directory structure", logging.String("file", name))
	}
	if len(targets) == 0 {
		return nil, ErrNoFiles
	}

	links := make([][]string, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.FileConcurrency)
	for i := range targets {
		g.Go(func() error {
			addrs, err := s.uploader.UploadFile(gctx, parts[i].Name, parts[i].Data)
			if err != nil {
				return err
			}
			links[i] = addrs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("upload failed, tree left unchanged", logging.Err(err))
		return nil, err
	}

	for i, node := range targets {
		node.Links = links[i]
	}
	if pruned := vdir.PruneUnlinked(skeleton); pruned > 0 {
		log.Info("pruned file entries without content", logging.Int("count", pruned))
	}

	root, err := s.update(ctx, user, func(tree *vdir.Tree) error {
		return merge(tree, skeleton)
	})
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	log.Info("upload complete",
		logging.Int("files", len(targets)),
		logging.Duration("elapsed", elapsed))
	return &UploadResult{
		Elapsed:          elapsed,
		UploadTime:       FormatElapsed(elapsed),
		Files:            len(targets),
		Skipped:          skipped,
		VirtualDirectory: root,
	}, nil
}

// matchFiles pairs uploaded parts with skeleton file nodes by name. Each part
// claims the first file node, in pre-order, with its name that no earlier
// part claimed; a part left without a node is skipped.
func matchFiles(skeleton *models.Node, files []FileUpload) ([]*models.Node, []FileUpload, []string) {
	var (
		targets []*models.Node
		parts   []FileUpload
		skipped []string
		byName  = make(map[string][]*models.Node)
	)
	for _, n := range vdir.Files(skeleton) {
		byName[n.Name] = append(byName[n.Name], n)
	}
	for _, f := range files {
		queue := byName[f.Name]
		if len(queue) == 0 {
			skipped = append(skipped, f.Name)
			continue
		}
		byName[f.Name] = queue[1:]
		targets = append(targets, queue[0])
		parts = append(parts, f)
	}
	return targets, parts, skipped
}

// merge inserts the skeleton into tree. A skeleton rooted at the user's root
// contributes its children.
func merge(tree *vdir.Tree, skeleton *models.Node) error {
	if skeleton.Path != tree.Root.Path {
		return tree.InsertByPath(skeleton)
	}
	for _, child := range skeleton.Children {
		if err := tree.InsertByPath(child); err != nil {
			return err
		}
	}
	return nil
}

// update runs a load-mutate-save cycle under the user's lock, retrying on
// version conflicts with a freshly loaded tree.
func (s *Session) update(ctx context.Context, user string, mutate func(*vdir.Tree) error) (*models.Node, error) {
	unlock := s.locks.Lock(user)
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= s.opts.SaveAttempts; attempt++ {
		doc, err := s.store.Load(ctx, user)
		if err != nil {
			return nil, fmt.Errorf("load virtual directory: %w", err)
		}

		tree := vdir.New(doc.Root)
		if err := mutate(tree); err != nil {
			return nil, err
		}

		err = s.store.Save(ctx, user, doc)
		if err == nil {
			metrics.SetVirtualDirectorySize(vdir.CountNodes(doc.Root))
			return doc.Root, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, fmt.Errorf("save virtual directory: %w", err)
		}

		metrics.RecordStoreConflict()
		logging.WithContext(ctx).Warn("virtual directory changed concurrently, retrying",
			logging.User(user), logging.Int("attempt", attempt))
		lastErr = err
	}
	return nil, fmt.Errorf("save virtual directory: %w", lastErr)
}

// Tree returns the user's whole virtual directory. A user's first read
// persists the empty root so its id stays stable across requests.
func (s *Session) Tree(ctx context.Context, user string) (*models.Node, error) {
	doc, err := s.store.Load(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("load virtual directory: %w", err)
	}
	if doc.Version > 0 {
		return doc.Root, nil
	}
	return s.update(ctx, user, func(*vdir.Tree) error { return nil })
}

// Resolve finds a node by id in the user's tree.
func (s *Session) Resolve(ctx context.Context, user, id string) (*models.Node, error) {
	root, err := s.Tree(ctx, user)
	if err != nil {
		return nil, err
	}
	return vdir.New(root).Lookup(id)
}

// RetrieveFile reconstructs a file node.
func (s *Session) RetrieveFile(ctx context.Context, n *models.Node) (*retrieval.File, error) {
	return s.retriever.RetrieveFile(ctx, n)
}

// StreamDirectory writes a directory node to w as a zip archive. With an
// archive directory configured, the archive is also kept on disk.
func (s *Session) StreamDirectory(ctx context.Context, n *models.Node, w io.Writer) error {
	entries, err := s.retriever.RetrieveDirectory(ctx, n)
	if err != nil {
		return err
	}

	if s.opts.ArchiveDir != "" {
		if path, err := retrieval.SaveArchive(s.opts.ArchiveDir, retrieval.ArchiveName(n), entries); err != nil {
			logging.WithContext(ctx).Error("failed to keep folder archive", logging.Err(err))
		} else {
			logging.WithContext(ctx).Debug("folder archive kept", logging.String("path", path))
		}
	}
	return retrieval.StreamArchive(w, entries)
}

// Delete removes a node and its subtree from the user's tree and returns the
// updated tree. Uploaded chunks are left in place.
func (s *Session) Delete(ctx context.Context, user, id string) (*models.Node, error) {
	root, err := s.update(ctx, user, func(tree *vdir.Tree) error {
		if !tree.DeleteByID(id) {
			return fmt.Errorf("%w: %s", vdir.ErrRecordNotFound, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.WithContext(ctx).Info("node deleted", logging.User(user), logging.Node(id))
	return root, nil
}
