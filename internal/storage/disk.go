package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// metadataSuffix names the sidecar file written next to every object.
const metadataSuffix = ".metadata.json"

// LocalBucket writes objects to a directory on the local filesystem. Each
// object's metadata and ACL are recorded in a JSON sidecar so that a dry run
// shows exactly what would have been sent to the remote bucket.
type LocalBucket struct {
	baseDir string
}

// LocalMetadata is the content of an object's sidecar file.
type LocalMetadata struct {
	Metadata      map[string]string `json:"metadata,omitempty"`
	PredefinedACL string            `json:"predefinedAcl,omitempty"`
	Size          int64             `json:"size"`
}

// NewLocalBucket creates a LocalBucket that writes objects under baseDir. The
// directory is created if it does not already exist.
func NewLocalBucket(baseDir string) (*LocalBucket, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: failed to create local base directory %q: %w", baseDir, err)
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to resolve absolute path for %q: %w", baseDir, err)
	}
	return &LocalBucket{baseDir: abs}, nil
}

// Name returns the directory objects are written to.
func (b *LocalBucket) Name() string {
	return b.baseDir
}

// Object returns a handle for the object at key.
func (b *LocalBucket) Object(key string) Object {
	return &localObject{bucket: b, key: key}
}

// ReadMetadata returns the sidecar recorded for key.
func (b *LocalBucket) ReadMetadata(key string) (*LocalMetadata, error) {
	dest, err := b.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(dest + metadataSuffix)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to read metadata for %q: %w", key, err)
	}
	var md LocalMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("storage: failed to decode metadata for %q: %w", key, err)
	}
	return &md, nil
}

// resolve maps key to a path under baseDir, rejecting keys that would escape
// it.
func (b *LocalBucket) resolve(key string) (string, error) {
	if key == "" || strings.HasSuffix(key, "/") {
		return "", fmt.Errorf("storage: invalid object key %q", key)
	}
	dest := filepath.Join(b.baseDir, filepath.FromSlash(key))
	rel, err := filepath.Rel(b.baseDir, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("storage: object key %q escapes bucket directory", key)
	}
	return dest, nil
}

type localObject struct {
	bucket *LocalBucket
	key    string
}

func (o *localObject) NewWriter(ctx context.Context, opts WriterOptions) Writer {
	return &localWriter{ctx: ctx, object: o, opts: opts}
}

// localWriter stages content in a temporary file and moves it into place on
// Close, so a failed upload never leaves a partial object behind.
type localWriter struct {
	ctx    context.Context
	object *localObject
	opts   WriterOptions

	tmp  *os.File
	dest string
	size int64
	err  error
}

func (w *localWriter) open() error {
	if w.tmp != nil || w.err != nil {
		return w.err
	}
	dest, err := w.object.bucket.resolve(w.object.key)
	if err != nil {
		w.err = err
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		w.err = fmt.Errorf("storage: failed to create directory for %q: %w", w.object.key, err)
		return w.err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		w.err = fmt.Errorf("storage: failed to create file for %q: %w", w.object.key, err)
		return w.err
	}
	w.tmp = tmp
	w.dest = dest
	return nil
}

func (w *localWriter) Write(p []byte) (int, error) {
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}
	if err := w.open(); err != nil {
		return 0, err
	}
	n, err := w.tmp.Write(p)
	w.size += int64(n)
	if err != nil {
		w.err = fmt.Errorf("storage: failed to write file %q: %w", w.dest, err)
		return n, w.err
	}
	return n, nil
}

func (w *localWriter) Close() error {
	// An object with no content is still created.
	if err := w.open(); err != nil {
		if w.tmp != nil {
			_ = w.tmp.Close()
			_ = os.Remove(w.tmp.Name())
		}
		return err
	}
	defer os.Remove(w.tmp.Name())

	if err := w.tmp.Close(); err != nil {
		return fmt.Errorf("storage: failed to close file %q: %w", w.dest, err)
	}
	if err := w.ctx.Err(); err != nil {
		return err
	}

	sidecar, err := json.MarshalIndent(LocalMetadata{
		Metadata:      w.opts.Metadata,
		PredefinedACL: w.opts.PredefinedACL,
		Size:          w.size,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: failed to encode metadata for %q: %w", w.object.key, err)
	}
	if err := os.WriteFile(w.dest+metadataSuffix, sidecar, 0o644); err != nil {
		return fmt.Errorf("storage: failed to write metadata for %q: %w", w.object.key, err)
	}
	if err := os.Rename(w.tmp.Name(), w.dest); err != nil {
		return fmt.Errorf("storage: failed to move file into place %q: %w", w.dest, err)
	}
	return nil
}
