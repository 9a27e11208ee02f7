// Package retrieval reconstructs files and folders from their chunk
// addresses and produces zip archives of whole folders.
package retrieval

import (
	"context"
	"fmt"
	"path"

	"golang.org/x/sync/errgroup"

	"github.com/maazmalik2004/Dspace/internal/chunk"
	"github.com/maazmalik2004/Dspace/internal/logging"
	"github.com/maazmalik2004/Dspace/internal/vdir"
	"github.com/maazmalik2004/Dspace/pkg/models"
)

// Downloader fetches chunks in address order. *chunk.Transfer implements it.
type Downloader interface {
	DownloadChunks(ctx context.Context, addresses []string) ([]*chunk.Attachment, error)
}

// File is a reconstructed file.
type File struct {
	Name      string // node name
	Extension string // recovered from the first chunk name, without the dot
	Data      []byte
}

// Filename returns the name to offer for download. The recovered extension is
// appended only when the node name does not already carry it.
func (f *File) Filename() string {
	if f.Extension == "" || path.Ext(f.Name) == "."+f.Extension {
		return f.Name
	}
	return f.Name + "." + f.Extension
}

// Entry is one file of a retrieved folder, addressed relative to that folder.
type Entry struct {
	Path string
	Data []byte
}

// Orchestrator retrieves files and folders.
type Orchestrator struct {
	chunks      Downloader
	concurrency int
}

// New returns an Orchestrator that retrieves up to concurrency children of a
// folder level at once.
func New(chunks Downloader, concurrency int) *Orchestrator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{chunks: chunks, concurrency: concurrency}
}

// RetrieveFile downloads and reassembles a file node.
func (o *Orchestrator) RetrieveFile(ctx context.Context, n *models.Node) (*File, error) {
	if !n.IsFile() {
		return nil, fmt.Errorf("%w: %s is a %s", vdir.ErrInvalidRecordType, n.Name, n.Type)
	}

	f := &File{Name: n.Name, Extension: trimDot(path.Ext(n.Name))}
	if len(n.Links) == 0 {
		f.Data = []byte{}
		return f, nil
	}

	pieces, err := o.chunks.DownloadChunks(ctx, n.Links)
	if err != nil {
		return nil, fmt.Errorf("retrieve %s: %w", n.Name, err)
	}
	if len(pieces) > 0 && pieces[0].Name != "" {
		f.Extension = chunk.Extension(pieces[0].Name)
	}
	f.Data = chunk.Reassemble(pieces)

	logging.Debug("file retrieved",
		logging.Node(n.ID),
		logging.String("file", n.Name),
		logging.Int("chunks", len(pieces)),
		logging.Int("bytes", len(f.Data)))
	return f, nil
}

// RetrieveDirectory retrieves every file below a directory node. Entry paths
// are relative to n and use "/" separators. Children of one level are
// retrieved concurrently; the result follows tree order.
func (o *Orchestrator) RetrieveDirectory(ctx context.Context, n *models.Node) ([]Entry, error) {
	if !n.IsDir() {
		return nil, fmt.Errorf("%w: %s is a %s", vdir.ErrInvalidRecordType, n.Name, n.Type)
	}
	return o.retrieveLevel(ctx, n, "")
}

func (o *Orchestrator) retrieveLevel(ctx context.Context, dir *models.Node, prefix string) ([]Entry, error) {
	results := make([][]Entry, len(dir.Children))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, child := range dir.Children {
		rel := path.Join(prefix, child.Name)
		g.Go(func() error {
			switch {
			case child.IsFile():
				f, err := o.RetrieveFile(gctx, child)
				if err != nil {
					return err
				}
				results[i] = []Entry{{Path: rel, Data: f.Data}}
			case child.IsDir():
				entries, err := o.retrieveLevel(gctx, child, rel)
				if err != nil {
					return err
				}
				results[i] = entries
			default:
				return fmt.Errorf("%w: %s is a %q", vdir.ErrInvalidRecordType, rel, child.Type)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var entries []Entry
	for _, r := range results {
		entries = append(entries, r...)
	}
	return entries, nil
}

func trimDot(ext string) string {
	if len(ext) > 0 && ext[0] == '.' {
		return ext[1:]
	}
	return ext
}
