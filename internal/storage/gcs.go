// Package storage provides the object-storage sink that uploads are written
// to. The GCS implementation is the production backend; the local directory
// implementation mirrors objects to disk for dry runs and tests.
package storage

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSBucket uploads objects to a Google Cloud Storage bucket.
type GCSBucket struct {
	client *storage.Client
	handle *storage.BucketHandle
	name   string
}

// Credentials selects how the GCS client authenticates. At most one of the
// fields should be set; when both are empty Application Default Credentials
// are used.
type Credentials struct {
	// KeyFilename is the path to a service account key file.
	KeyFilename string

	// JSON is an inline service account key.
	JSON []byte
}

// ClientOptions converts the credentials into GCS client options.
func (c Credentials) ClientOptions() []option.ClientOption {
	switch {
	case c.KeyFilename != "":
		return []option.ClientOption{option.WithCredentialsFile(c.KeyFilename)}
	case len(c.JSON) > 0:
		return []option.ClientOption{option.WithCredentialsJSON(c.JSON)}
	default:
		return nil
	}
}

// NewGCSBucket creates a GCSBucket for the given bucket. opts are passed
// through to the underlying GCS client, allowing credential injection.
func NewGCSBucket(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSBucket, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to create GCS client: %w", err)
	}
	return &GCSBucket{
		client: client,
		handle: client.Bucket(bucket),
		name:   bucket,
	}, nil
}

// Name returns the bucket name.
func (b *GCSBucket) Name() string {
	return b.name
}

// Object returns a handle for the object at key.
func (b *GCSBucket) Object(key string) Object {
	return &gcsObject{handle: b.handle.Object(key)}
}

// Close releases the underlying GCS client.
func (b *GCSBucket) Close() error {
	return b.client.Close()
}

type gcsObject struct {
	handle *storage.ObjectHandle
}

func (o *gcsObject) NewWriter(ctx context.Context, opts WriterOptions) Writer {
	w := o.handle.NewWriter(ctx)

	attrs, custom := splitMetadata(opts.Metadata)
	w.ContentType = attrs[MetadataContentType]
	w.ContentEncoding = attrs[MetadataContentEncoding]
	w.CacheControl = attrs[MetadataCacheControl]
	w.ContentDisposition = attrs[MetadataContentDisposition]
	w.ContentLanguage = attrs[MetadataContentLanguage]
	w.Metadata = custom
	w.PredefinedACL = opts.PredefinedACL

	// A zero chunk size sends the whole object in a single request.
	if !opts.Resumable {
		w.ChunkSize = 0
	}

	return w
}
