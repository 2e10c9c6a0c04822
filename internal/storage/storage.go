package storage

import (
	"context"
	"io"
)

// Bucket is a handle on a single object-storage bucket. A Bucket is created
// once and shared by every upload; implementations must be safe for
// concurrent use.
type Bucket interface {
	// Name is the bucket name, used for display only.
	Name() string

	// Object returns a handle for the object stored under key. No network
	// request is made until a writer is opened.
	Object(key string) Object
}

// Object is a handle on a single object within a Bucket.
type Object interface {
	// NewWriter opens a sink for the object's content. Bytes written to the
	// returned Writer replace the object; Close reports whether the upload
	// was acknowledged. Cancelling ctx before Close aborts the upload.
	NewWriter(ctx context.Context, opts WriterOptions) Writer
}

// Writer is the sink for one upload. Write may buffer; the terminal result of
// the upload is the error returned by Close.
type Writer interface {
	io.WriteCloser
}

// WriterOptions describes the object being written.
type WriterOptions struct {
	// Metadata holds object metadata keyed by field name. The well known keys
	// below map onto first class object attributes; any other key is stored
	// as custom metadata.
	Metadata map[string]string

	// PredefinedACL is the named access-control preset to apply, e.g.
	// "publicRead". Empty leaves the bucket default in place.
	PredefinedACL string

	// Resumable selects a resumable (chunked) upload. When false the content
	// is sent in a single request.
	Resumable bool
}

// Well known metadata keys.
const (
	MetadataContentType        = "contentType"
	MetadataContentEncoding    = "contentEncoding"
	MetadataCacheControl       = "cacheControl"
	MetadataContentDisposition = "contentDisposition"
	MetadataContentLanguage    = "contentLanguage"
)

// splitMetadata separates the well known attributes from custom metadata.
// The returned custom map is nil when there is nothing left over.
func splitMetadata(md map[string]string) (attrs map[string]string, custom map[string]string) {
	attrs = make(map[string]string)
	for k, v := range md {
		switch k {
		case MetadataContentType, MetadataContentEncoding, MetadataCacheControl,
			MetadataContentDisposition, MetadataContentLanguage:
			attrs[k] = v
		default:
			if custom == nil {
				custom = make(map[string]string)
			}
			custom[k] = v
		}
	}
	return attrs, custom
}
