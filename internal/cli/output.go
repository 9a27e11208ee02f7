package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/maazmalik2004/Dspace/pkg/client"
	"github.com/maazmalik2004/Dspace/pkg/models"
)

// PrintTree writes an indented listing of a virtual directory with node ids.
func PrintTree(w io.Writer, n *models.Node) {
	printNode(w, n, 0)
}

func printNode(w io.Writer, n *models.Node, depth int) {
	if n == nil {
		return
	}
	indent := strings.Repeat("  ", depth)
	if n.IsDir() {
		fmt.Fprintf(w, "%s%s/  [%s]\n", indent, n.Name, n.ID)
	} else {
		fmt.Fprintf(w, "%s%s  [%s] %d chunk(s)\n", indent, n.Name, n.ID, len(n.Links))
	}
	for _, child := range n.Children {
		printNode(w, child, depth+1)
	}
}

// Retrieve downloads a node into outDir under the name the server offers and
// returns the written path. The download lands in a temporary file first so
// a failed transfer leaves nothing behind.
func Retrieve(ctx context.Context, c *client.Client, id, outDir string) (string, *client.Retrieved, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", nil, err
	}
	tmp, err := os.CreateTemp(outDir, ".dspace-*")
	if err != nil {
		return "", nil, err
	}
	defer os.Remove(tmp.Name())

	info, err := c.Retrieve(ctx, id, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", nil, err
	}

	dest := filepath.Join(outDir, filepath.Base(info.Filename))
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", nil, err
	}
	return dest, info, nil
}
