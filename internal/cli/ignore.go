// Package cli contains the logic behind the dspace command line client.
package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/denormal/go-gitignore"
)

// IgnoreFilename is the name of the file holding user-defined ignore patterns.
const IgnoreFilename = ".dspaceignore"

// defaultIgnorePatterns are always ignored.
var defaultIgnorePatterns = []string{
	".git",
	".git/**",
	IgnoreFilename,
}

// Ignorer decides which paths under a base directory are left out of an upload.
type Ignorer struct {
	base    string
	matcher gitignore.GitIgnore
}

// LoadIgnorer compiles the default patterns plus the base directory's
// .dspaceignore file, if present.
func LoadIgnorer(baseDir string) (*Ignorer, error) {
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		base = resolved
	}

	patterns := append([]string(nil), defaultIgnorePatterns...)
	if content, err := os.ReadFile(filepath.Join(base, IgnoreFilename)); err == nil {
		patterns = append(patterns, strings.Split(string(content), "\n")...)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	var cleaned []string
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		p = strings.ReplaceAll(p, `\`, "/")
		cleaned = append(cleaned, p)
		// Directory patterns also match their contents.
		if strings.HasSuffix(p, "/") && !strings.HasSuffix(p, "**/") {
			cleaned = append(cleaned, p+"**")
		}
	}

	matcher := gitignore.New(strings.NewReader(strings.Join(cleaned, "\n")), base,
		func(gitignore.Error) bool { return false })
	if matcher == nil {
		matcher = gitignore.New(strings.NewReader(""), base, nil)
	}
	return &Ignorer{base: base, matcher: matcher}, nil
}

// Ignored reports whether path, absolute or relative to the base directory,
// is excluded. Paths outside the base directory are never excluded.
func (i *Ignorer) Ignored(path string) bool {
	if !filepath.IsAbs(path) {
		path = filepath.Join(i.base, path)
	}
	rel, err := filepath.Rel(i.base, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}

	isDir := false
	if info, err := os.Lstat(path); err == nil {
		isDir = info.IsDir()
	}
	match := i.matcher.Relative(filepath.ToSlash(rel), isDir)
	return match != nil && match.Ignore()
}
