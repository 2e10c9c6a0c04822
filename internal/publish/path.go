package publish

import "strings"

// compressionSuffix is stripped from item paths before upload.
const compressionSuffix = ".gz"

// NormalizePath joins base and relative into an object key. The result never
// starts with "/" (for a base starting with a single "/") and has exactly one
// "/" between base and relative. An empty base leaves relative unchanged.
func NormalizePath(base, relative string) string {
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}
	base = strings.TrimPrefix(base, "/")
	return base + relative
}

// TrimCompressionSuffix removes a single trailing ".gz" from path.
func TrimCompressionSuffix(path string) string {
	return strings.TrimSuffix(path, compressionSuffix)
}
