package publish

import (
	"io"
	"path/filepath"
)

// FileItem is one file flowing through the transform. The transform borrows
// an item for the duration of its upload and may rewrite Path.
type FileItem struct {
	// Path is the filesystem-style path of the file. It may carry a ".gz"
	// suffix that is removed before upload.
	Path string

	// Base is the directory Relative measures Path from. When empty, Path is
	// itself the relative path.
	Base string

	// ContentEncoding holds encoding hints such as "gzip".
	ContentEncoding []string

	// Contents is the file's data, either a Buffer or a Stream.
	Contents Contents
}

// Relative returns Path relative to Base with forward slashes.
func (f *FileItem) Relative() string {
	if f.Base == "" {
		return filepath.ToSlash(f.Path)
	}
	rel, err := filepath.Rel(f.Base, f.Path)
	if err != nil {
		return filepath.ToSlash(f.Path)
	}
	return filepath.ToSlash(rel)
}

// Contents is the data of a FileItem. It is implemented only by Buffer and
// Stream, passed by value. Pointers to them also satisfy the interface but
// are rejected on upload with ErrUnsupportedContents.
type Contents interface {
	contents()
}

// Buffer holds file contents in memory.
type Buffer []byte

func (Buffer) contents() {}

// Stream provides file contents as a reader. If Reader is also an io.Closer
// it is closed once the upload has consumed it.
type Stream struct {
	io.Reader
}

func (Stream) contents() {}

// NewStream wraps r as item contents.
func NewStream(r io.Reader) Stream {
	return Stream{Reader: r}
}
