// Package source produces publish.FileItems from a directory tree, standing in
// for the build pipeline that would otherwise feed the transform.
package source

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tomasbasham/gcs-publish/internal/publish"
)

// Options controls which files are produced and how their contents are
// represented.
type Options struct {
	// Include lists doublestar patterns matched against slash-separated
	// relative paths. Defaults to every file.
	Include []string

	// Exclude lists patterns for files to skip, applied after Include.
	Exclude []string

	// Stream yields open files instead of reading contents into memory.
	Stream bool
}

// Walker produces FileItems for the files under a root directory.
type Walker struct {
	root string
	opts Options
}

// Open returns a Walker over root after checking the patterns are valid and
// root is a directory.
func Open(root string, opts Options) (*Walker, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("source: failed to resolve absolute path for %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source: %q is not a directory", root)
	}

	if len(opts.Include) == 0 {
		opts.Include = []string{"**"}
	}
	for _, p := range append(append([]string(nil), opts.Include...), opts.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("source: invalid pattern %q", p)
		}
	}

	return &Walker{root: abs, opts: opts}, nil
}

// Root returns the absolute directory the walker reads from.
func (w *Walker) Root() string {
	return w.root
}

// Items walks the tree in lexical order and sends one item per matching file
// to out. It returns when the walk completes, a file cannot be read, or ctx is
// done. out is not closed.
func (w *Walker) Items(ctx context.Context, out chan<- *publish.FileItem) error {
	return filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("source: %w", err)
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return fmt.Errorf("source: %w", err)
		}
		if !w.matches(filepath.ToSlash(rel)) {
			return nil
		}

		item, err := w.item(path)
		if err != nil {
			return err
		}

		select {
		case out <- item:
			return nil
		case <-ctx.Done():
			closeContents(item)
			return ctx.Err()
		}
	})
}

func (w *Walker) matches(rel string) bool {
	included := false
	for _, p := range w.opts.Include {
		if doublestar.MatchUnvalidated(p, rel) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, p := range w.opts.Exclude {
		if doublestar.MatchUnvalidated(p, rel) {
			return false
		}
	}
	return true
}

func (w *Walker) item(path string) (*publish.FileItem, error) {
	item := &publish.FileItem{
		Path: path,
		Base: w.root,
	}
	if strings.HasSuffix(path, ".gz") {
		item.ContentEncoding = []string{"gzip"}
	}

	if w.opts.Stream {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("source: failed to open %q: %w", path, err)
		}
		item.Contents = publish.NewStream(f)
		return item, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("source: failed to read %q: %w", path, err)
	}
	item.Contents = publish.Buffer(data)
	return item, nil
}

func closeContents(item *publish.FileItem) {
	if s, ok := item.Contents.(publish.Stream); ok {
		if c, ok := s.Reader.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
