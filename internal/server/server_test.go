package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tomasbasham/gcs-publish/internal/metrics"
	"github.com/tomasbasham/gcs-publish/internal/operation"
	"github.com/tomasbasham/gcs-publish/internal/publish"
	"github.com/tomasbasham/gcs-publish/internal/storage"
)

type testServer struct {
	*Server
	dir   string
	store *operation.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, nil, nil)
}

// newTestServerWith builds a server over a local bucket. wrap, when set,
// decorates the bucket and configure adjusts the publish config.
func newTestServerWith(t *testing.T, wrap func(storage.Bucket) storage.Bucket, configure func(*publish.Config)) *testServer {
	t.Helper()
	dir := t.TempDir()
	local, err := storage.NewLocalBucket(dir)
	require.NoError(t, err)

	var bucket storage.Bucket = local
	if wrap != nil {
		bucket = wrap(local)
	}

	reg := prometheus.NewRegistry()
	cfg := &publish.Config{Bucket: "b", ProjectID: "p", KeyFilename: "/k.json", Base: "/static/"}
	if configure != nil {
		configure(cfg)
	}
	tr, err := publish.New(context.Background(), cfg,
		func(context.Context, publish.Config) (storage.Bucket, error) { return bucket, nil },
		publish.WithObserver(metrics.New(reg)))
	require.NoError(t, err)

	store := operation.NewMemoryStore()
	return &testServer{
		Server: New(store, tr, zap.NewNop(), reg),
		dir:    dir,
		store:  store,
	}
}

// slowBucket delays every writer's Close, holding uploads in flight.
type slowBucket struct {
	storage.Bucket
	delay    time.Duration
	finished atomic.Int32
}

func (b *slowBucket) Object(key string) storage.Object {
	return slowObject{Object: b.Bucket.Object(key), bucket: b}
}

type slowObject struct {
	storage.Object
	bucket *slowBucket
}

func (o slowObject) NewWriter(ctx context.Context, opts storage.WriterOptions) storage.Writer {
	return &slowWriter{Writer: o.Object.NewWriter(ctx, opts), bucket: o.bucket}
}

type slowWriter struct {
	storage.Writer
	bucket *slowBucket
}

func (w *slowWriter) Close() error {
	time.Sleep(w.bucket.delay)
	err := w.Writer.Close()
	w.bucket.finished.Add(1)
	return err
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile(name, name)
		require.NoError(t, err)
		_, _ = part.Write([]byte(content))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestPutObject(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPut, "/objects/css/site.css.gz", strings.NewReader("gzipped"))
	rec := srv.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body putObjectResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "static/css/site.css", body.Key)
	assert.Equal(t, "css/site.css", body.Path)

	content, err := os.ReadFile(filepath.Join(srv.dir, "static", "css", "site.css"))
	require.NoError(t, err)
	assert.Equal(t, "gzipped", string(content))
}

func TestPutObject_DerivesKeyOnce(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServerWith(t, nil, func(cfg *publish.Config) {
		cfg.Transformer = func(item *publish.FileItem) string {
			n := calls.Add(1)
			return fmt.Sprintf("rev%d/%s", n, item.Relative())
		}
	})

	rec := srv.do(httptest.NewRequest(http.MethodPut, "/objects/app.js", strings.NewReader("js")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body putObjectResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "rev1/app.js", body.Key)

	_, err := os.Stat(filepath.Join(srv.dir, "rev1", "app.js"))
	assert.NoError(t, err)
}

func TestPutObject_MissingPath(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(httptest.NewRequest(http.MethodPut, "/objects/", strings.NewReader("x")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePublish(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("index.html", "index.html")
	require.NoError(t, err)
	_, _ = part.Write([]byte("<html>"))

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="app.js"`)
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Encoding", "gzip")
	part, err = mw.CreatePart(h)
	require.NoError(t, err)
	_, _ = part.Write([]byte("\x1f\x8b"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/publishes", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := srv.do(req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created createPublishResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, string(operation.StatusPending), created.Status)

	require.Eventually(t, func() bool {
		op, err := srv.store.Get(created.OperationID)
		return err == nil && op.Status == operation.StatusComplete
	}, 5*time.Second, 10*time.Millisecond)

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/publishes/"+created.OperationID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var op operation.Operation
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&op))
	assert.Equal(t, 2, op.Files)
	assert.ElementsMatch(t, []string{"static/app.js", "static/index.html"}, objectKeys(op.Objects))

	bucket, err := storage.NewLocalBucket(srv.dir)
	require.NoError(t, err)
	md, err := bucket.ReadMetadata("static/app.js")
	require.NoError(t, err)
	assert.Equal(t, "gzip", md.Metadata[storage.MetadataContentEncoding])
}

func TestCreatePublish_Rejects(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(httptest.NewRequest(http.MethodPost, "/publishes", strings.NewReader("{}")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "no files"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/publishes", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = srv.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "at least one file")
}

func TestGetPublish_NotFound(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/publishes/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(httptest.NewRequest(http.MethodPut, "/objects/a.txt", strings.NewReader("abc")))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `gcspub_uploads_total{result="success"} 1`)
	assert.Contains(t, rec.Body.String(), `gcspub_upload_bytes_total 3`)
}

func TestEncodingHints(t *testing.T) {
	assert.Equal(t, []string{"br"}, encodingHints([]string{"br"}, "a.gz"))
	assert.Equal(t, []string{"gzip"}, encodingHints(nil, "a.gz"))
	assert.Nil(t, encodingHints(nil, "a.css"))
}

func objectKeys(objs []operation.Object) []string {
	keys := make([]string, 0, len(objs))
	for _, o := range objs {
		keys = append(keys, o.Key)
	}
	return keys
}

func TestListenAndServe_WaitsForBackgroundPublishes(t *testing.T) {
	var slow *slowBucket
	srv := newTestServerWith(t, func(b storage.Bucket) storage.Bucket {
		slow = &slowBucket{Bucket: b, delay: 300 * time.Millisecond}
		return slow
	}, nil)

	body, contentType := multipartBody(t, map[string]string{"index.html": "<html>"})
	req := httptest.NewRequest(http.MethodPost, "/publishes", body)
	req.Header.Set("Content-Type", contentType)
	rec := srv.do(req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created createPublishResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, srv.ListenAndServe(ctx, "127.0.0.1:0"))

	assert.Equal(t, int32(1), slow.finished.Load())
	op, err := srv.store.Get(created.OperationID)
	require.NoError(t, err)
	assert.Equal(t, operation.StatusComplete, op.Status)
}

func TestWait_GivesUpWhenContextEnds(t *testing.T) {
	srv := newTestServer(t)
	srv.batches.Add(1)
	defer srv.batches.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := srv.wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPServer_DoesNotBoundBodies(t *testing.T) {
	srv := newTestServer(t).httpServer(":0")
	assert.Zero(t, srv.ReadTimeout)
	assert.Zero(t, srv.WriteTimeout)
	assert.Positive(t, srv.ReadHeaderTimeout)
}
