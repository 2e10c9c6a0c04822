package storage

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestGCSBucket_NewWriterAttributes(t *testing.T) {
	ctx := context.Background()
	bucket, err := NewGCSBucket(ctx, "my-site",
		option.WithoutAuthentication(),
		option.WithEndpoint("http://127.0.0.1:0/storage/v1/"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bucket.Close() })

	assert.Equal(t, "my-site", bucket.Name())

	w := bucket.Object("assets/site.css").NewWriter(ctx, WriterOptions{
		Metadata: map[string]string{
			MetadataContentType:     "text/css",
			MetadataContentEncoding: "gzip",
			MetadataCacheControl:    "no-cache",
			"build":                 "42",
		},
		PredefinedACL: "publicRead",
	})

	gw, ok := w.(*storage.Writer)
	require.True(t, ok)
	assert.Equal(t, "assets/site.css", gw.Name)
	assert.Equal(t, "text/css", gw.ContentType)
	assert.Equal(t, "gzip", gw.ContentEncoding)
	assert.Equal(t, "no-cache", gw.CacheControl)
	assert.Equal(t, map[string]string{"build": "42"}, gw.Metadata)
	assert.Equal(t, "publicRead", gw.PredefinedACL)
	assert.Zero(t, gw.ChunkSize, "non-resumable uploads are sent in one request")
}
