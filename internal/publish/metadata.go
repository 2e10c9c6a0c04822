package publish

import (
	"maps"
	"mime"
	"path"
	"strings"

	"github.com/tomasbasham/gcs-publish/internal/storage"
)

const (
	defaultContentType = "application/octet-stream"
	encodingGzip       = "gzip"
)

// Metadata is the object metadata attached to an upload, keyed by field name
// (see the storage.Metadata* constants).
type Metadata map[string]string

// DeriveMetadata computes the metadata for the file at filePath. extra is
// copied first so the content type derived from the extension always wins.
// A gzip encoding hint sets contentEncoding; other encodings are ignored.
func DeriveMetadata(filePath string, encoding []string, extra map[string]string) Metadata {
	md := make(Metadata, len(extra)+2)
	maps.Copy(md, extra)

	md[storage.MetadataContentType] = contentType(filePath)
	if isGzip(encoding) {
		md[storage.MetadataContentEncoding] = encodingGzip
	}
	return md
}

// contentType looks up the MIME type registered for the path's extension,
// dropping any parameters like charset.
func contentType(filePath string) string {
	ext := path.Ext(strings.ReplaceAll(filePath, "\\", "/"))
	if ext == "" {
		return defaultContentType
	}
	t := mime.TypeByExtension(ext)
	if t == "" {
		return defaultContentType
	}
	mediaType, _, err := mime.ParseMediaType(t)
	if err != nil {
		return defaultContentType
	}
	return mediaType
}

func isGzip(encoding []string) bool {
	for _, e := range encoding {
		if strings.Contains(e, encodingGzip) {
			return true
		}
	}
	return false
}
