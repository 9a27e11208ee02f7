package retrieval

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/maazmalik2004/Dspace/pkg/models"
)

// StreamArchive writes entries as a deflate-compressed zip archive to w.
// Each entry is compressed and flushed to w as it is added.
func StreamArchive(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	modified := time.Now()
	for _, e := range entries {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.Path,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return fmt.Errorf("add %s to archive: %w", e.Path, err)
		}
		if _, err := fw.Write(e.Data); err != nil {
			return fmt.Errorf("write %s to archive: %w", e.Path, err)
		}
		if err := zw.Flush(); err != nil {
			return fmt.Errorf("flush archive: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

// StreamDirectory retrieves a directory node and streams it to w as a zip archive.
func (o *Orchestrator) StreamDirectory(ctx context.Context, n *models.Node, w io.Writer) error {
	entries, err := o.RetrieveDirectory(ctx, n)
	if err != nil {
		return err
	}
	return StreamArchive(w, entries)
}

// ArchiveName returns the download name of a directory archive.
func ArchiveName(n *models.Node) string {
	return n.Name + ".zip"
}

// SaveArchive writes entries as {dir}/{name} and returns the file path.
// The archive is written to a temporary file and renamed into place.
func SaveArchive(dir, name string, entries []Entry) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".archive-*")
	if err != nil {
		return "", fmt.Errorf("create temp archive: %w", err)
	}
	tmpPath := tmp.Name()

	if err := StreamArchive(tmp, entries); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close temp archive: %w", err)
	}

	dst := filepath.Join(dir, filepath.Base(name))
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename archive: %w", err)
	}
	return dst, nil
}
