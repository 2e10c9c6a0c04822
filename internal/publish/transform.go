// Package publish uploads the files produced by a build pipeline to an
// object-storage bucket. A Transform derives each file's object key,
// metadata and access policy from the file and its static Config, then
// writes the contents to the bucket. A failed upload fails only the item it
// belongs to; nothing is retried.
package publish

import (
	"context"
	"fmt"
	"io"

	"github.com/tomasbasham/gcs-publish/internal/storage"
)

// Dialer opens the bucket a Transform writes to. It is called once, after the
// configuration has been validated.
type Dialer func(ctx context.Context, cfg Config) (storage.Bucket, error)

// Option configures a Transform.
type Option func(*Transform)

// WithObserver registers an observer notified after every upload.
func WithObserver(o Observer) Option {
	return func(t *Transform) {
		t.observer = o
	}
}

// Destination is where and how a single item is uploaded. It is derived
// entirely from the Config and the item.
type Destination struct {
	Key      string
	Metadata Metadata
	ACL      ACL
}

// Outcome is the result of uploading one item. A nil Item with a nil Err is
// the pass-through of an end-of-stream sentinel.
type Outcome struct {
	Item *FileItem
	Key  string
	Size int64
	Err  error
}

// Transform uploads FileItems to a bucket. It holds no per-item state and is
// safe for concurrent use.
type Transform struct {
	cfg      Config
	bucket   storage.Bucket
	observer Observer
}

// New validates cfg and opens the destination bucket through dial. An invalid
// configuration is reported as a *ConfigurationError before dial is called.
func New(ctx context.Context, cfg *Config, dial Dialer, opts ...Option) (*Transform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Transform{
		cfg:      cfg.clone(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(t)
	}

	bucket, err := dial(ctx, t.cfg)
	if err != nil {
		return nil, fmt.Errorf("publish: failed to open bucket %q: %w", t.cfg.Bucket, err)
	}
	t.bucket = bucket

	return t, nil
}

// Bucket returns the bucket uploads are written to.
func (t *Transform) Bucket() storage.Bucket {
	return t.bucket
}

// Destination computes the object key, metadata and ACL for item.
func (t *Transform) Destination(item *FileItem) Destination {
	var key string
	if t.cfg.Transformer != nil {
		key = t.cfg.Transformer(item)
	} else {
		key = NormalizePath(t.cfg.Base, item.Relative())
	}

	return Destination{
		Key:      key,
		Metadata: DeriveMetadata(item.Path, item.ContentEncoding, t.cfg.Metadata),
		ACL:      ResolveACL(t.cfg.Public),
	}
}

// Upload uploads a single item and returns it with any ".gz" suffix removed
// from its Path. A nil item is returned unchanged without an upload. Errors
// are returned as *UploadError.
func (t *Transform) Upload(ctx context.Context, item *FileItem) (*FileItem, error) {
	o := t.upload(ctx, item)
	return o.Item, o.Err
}

// Publish uploads a single item like Upload and reports the key that was
// written along with the number of bytes sent.
func (t *Transform) Publish(ctx context.Context, item *FileItem) Outcome {
	return t.upload(ctx, item)
}

// Run uploads every item received from in, one at a time in arrival order,
// and emits one Outcome per item. A failed item does not stop the items after
// it. The returned channel is closed when in is closed or ctx is done.
func (t *Transform) Run(ctx context.Context, in <-chan *FileItem) <-chan Outcome {
	out := make(chan Outcome)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-in:
				if !ok {
					return
				}
				o := t.upload(ctx, item)
				select {
				case out <- o:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func (t *Transform) upload(ctx context.Context, item *FileItem) Outcome {
	if item == nil {
		return Outcome{}
	}

	item.Path = TrimCompressionSuffix(item.Path)
	dest := t.Destination(item)

	size, err := t.write(ctx, dest, item.Contents)
	if err != nil {
		uerr := &UploadError{Key: dest.Key, Path: item.Path, Err: err}
		t.observer.Failed(ctx, dest.Key, uerr)
		return Outcome{Key: dest.Key, Size: size, Err: uerr}
	}

	t.observer.Uploaded(ctx, dest.Key, size)
	return Outcome{Item: item, Key: dest.Key, Size: size}
}

// write sends contents to a fresh non-resumable writer at dest. The writer's
// Close is the terminal event of the upload.
func (t *Transform) write(ctx context.Context, dest Destination, contents Contents) (int64, error) {
	var copyTo func(w io.Writer) (int64, error)

	switch c := contents.(type) {
	case Buffer:
		copyTo = func(w io.Writer) (int64, error) {
			n, err := w.Write(c)
			return int64(n), err
		}
	case Stream:
		if c.Reader == nil {
			return 0, fmt.Errorf("%w: nil stream", ErrUnsupportedContents)
		}
		if closer, ok := c.Reader.(io.Closer); ok {
			defer closer.Close()
		}
		copyTo = func(w io.Writer) (int64, error) {
			return io.Copy(w, c.Reader)
		}
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedContents, contents)
	}

	// Cancelling the writer's context before Close aborts the upload.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := t.bucket.Object(dest.Key).NewWriter(ctx, storage.WriterOptions{
		Metadata:      dest.Metadata,
		PredefinedACL: string(dest.ACL),
		Resumable:     false,
	})

	n, err := copyTo(w)
	if err != nil {
		cancel()
		_ = w.Close()
		return n, err
	}
	if err := w.Close(); err != nil {
		return n, err
	}
	return n, nil
}
