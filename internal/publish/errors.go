package publish

import (
	"errors"
	"fmt"
)

// ErrUnsupportedContents is reported for an item whose contents are neither a
// Buffer nor a Stream.
var ErrUnsupportedContents = errors.New("unsupported file contents")

// UploadError reports the failure of a single item's upload.
type UploadError struct {
	// Key is the destination object key.
	Key string

	// Path is the item's (rewritten) path.
	Path string

	// Err is the underlying error.
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("publish: upload of %q to %q failed: %v", e.Path, e.Key, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}
