package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/maazmalik2004/Dspace/pkg/client"
	"github.com/maazmalik2004/Dspace/pkg/models"
)

// Collect builds an upload from a local file or directory: a directory
// structure mirroring it and the contents of each file, in the same
// pre-order as the structure. Paths matched by .dspaceignore are skipped.
func Collect(root string) (*models.Node, []client.UploadFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, err
	}

	if !info.IsDir() {
		data, err := os.ReadFile(root)
		if err != nil {
			return nil, nil, err
		}
		name := filepath.Base(root)
		return &models.Node{Name: name, Type: models.TypeFile},
			[]client.UploadFile{{Name: name, Data: data}}, nil
	}

	ign, err := LoadIgnorer(root)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", IgnoreFilename, err)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, nil, err
	}
	c := &collector{ignore: ign}
	skeleton := &models.Node{Name: filepath.Base(abs), Type: models.TypeDirectory, Children: []*models.Node{}}
	if err := c.walk(ign.base, skeleton); err != nil {
		return nil, nil, err
	}
	return skeleton, c.files, nil
}

type collector struct {
	ignore *Ignorer
	files  []client.UploadFile
}

func (c *collector) walk(dir string, node *models.Node) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if c.ignore.Ignored(path) {
			continue
		}

		switch {
		case e.IsDir():
			child := &models.Node{Name: e.Name(), Type: models.TypeDirectory, Children: []*models.Node{}}
			if err := c.walk(path, child); err != nil {
				return err
			}
			node.Children = append(node.Children, child)
		case e.Type().IsRegular():
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			node.Children = append(node.Children, &models.Node{Name: e.Name(), Type: models.TypeFile})
			c.files = append(c.files, client.UploadFile{Name: e.Name(), Data: data})
		}
	}
	return nil
}
