// Package server provides the HTTP API for publishing files to the bucket.
//
// Endpoints:
//
//	POST /publishes       enqueue a batch upload; returns operation ID immediately
//	GET  /publishes/{id}  poll operation status and the uploaded objects
//	PUT  /objects/*       stream the request body to a single object
//	GET  /metrics         Prometheus metrics
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tomasbasham/gcs-publish/internal/operation"
	"github.com/tomasbasham/gcs-publish/internal/publish"
)

// maxMemory bounds the multipart form held in memory; larger parts spill to
// temporary files.
const maxMemory = 32 << 20

// shutdownTimeout bounds both connection draining and the wait for
// background publishes once the server is asked to stop.
const shutdownTimeout = 30 * time.Second

// Server holds the dependencies shared across HTTP handlers.
type Server struct {
	store     operation.Store
	transform *publish.Transform
	logger    *zap.Logger
	router    chi.Router

	// batches tracks publishes running in the background.
	batches sync.WaitGroup
}

// New creates a Server wired to the given store and transform. Metrics are
// served from gatherer.
func New(store operation.Store, transform *publish.Transform, logger *zap.Logger, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		store:     store,
		transform: transform,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Post("/publishes", s.handleCreatePublish)
	r.Get("/publishes/{id}", s.handleGetPublish)
	r.Put("/objects/*", s.handlePutObject)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server on the given address and shuts it
// down gracefully when ctx is done. It returns once open connections are
// drained and every background publish has finished, or shutdownTimeout has
// passed.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := s.httpServer(addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown failed: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return s.wait(shutdownCtx)
}

// httpServer only bounds reading the request headers, since request bodies
// are streamed straight to the bucket and may take arbitrarily long.
func (s *Server) httpServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// wait blocks until every background publish has finished or ctx is done.
func (s *Server) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.batches.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("server: publishes still running at shutdown: %w", ctx.Err())
	}
}

// createPublishResponse is returned immediately from POST /publishes.
type createPublishResponse struct {
	OperationID string `json:"operation_id"`
	Status      string `json:"status"`
}

// putObjectResponse is returned from PUT /objects/*.
type putObjectResponse struct {
	Key  string `json:"key"`
	Path string `json:"path"`
}

func (s *Server) handleCreatePublish(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	items, err := formItems(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(items) == 0 {
		writeError(w, http.StatusBadRequest, "at least one file is required")
		return
	}

	op, err := s.store.Create(s.transform.Bucket().Name(), len(items))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create operation: "+err.Error())
		return
	}

	// The upload outlives the request, so it must not be cancelled when the
	// HTTP connection closes.
	opts := operation.WorkerOptions{
		OperationID: op.ID,
		Store:       s.store,
		Transform:   s.transform,
		Items:       items,
	}
	s.batches.Add(1)
	go func() {
		defer s.batches.Done()
		operation.Run(context.WithoutCancel(r.Context()), opts)
	}()

	writeJSON(w, http.StatusAccepted, createPublishResponse{
		OperationID: op.ID,
		Status:      string(operation.StatusPending),
	})
}

// formItems reads every file part of the multipart form into a buffered
// item. The form field name is the relative path; a field named "file" uses
// the part's file name instead.
func formItems(r *http.Request) ([]*publish.FileItem, error) {
	names := make([]string, 0, len(r.MultipartForm.File))
	for name := range r.MultipartForm.File {
		names = append(names, name)
	}
	slices.Sort(names)

	var items []*publish.FileItem
	for _, name := range names {
		for _, fh := range r.MultipartForm.File[name] {
			rel := name
			if rel == "file" {
				rel = fh.Filename
			}
			rel = strings.TrimPrefix(rel, "/")
			if rel == "" {
				return nil, errors.New("file parts must be named with their relative path")
			}

			f, err := fh.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open part %q: %w", rel, err)
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read part %q: %w", rel, err)
			}

			items = append(items, &publish.FileItem{
				Path:            rel,
				ContentEncoding: encodingHints(fh.Header.Values("Content-Encoding"), rel),
				Contents:        publish.Buffer(data),
			})
		}
	}
	return items, nil
}

func (s *Server) handleGetPublish(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "operation id is required")
		return
	}

	op, err := s.store.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("operation %q not found", id))
		return
	}

	writeJSON(w, http.StatusOK, op)
}

func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	if rel == "" || strings.HasSuffix(rel, "/") {
		writeError(w, http.StatusBadRequest, "object path is required")
		return
	}

	item := &publish.FileItem{
		Path:            rel,
		ContentEncoding: encodingHints(r.Header.Values("Content-Encoding"), rel),
		Contents:        publish.NewStream(r.Body),
	}

	o := s.transform.Publish(r.Context(), item)
	if o.Err != nil {
		writeError(w, http.StatusBadGateway, o.Err.Error())
		return
	}

	writeJSON(w, http.StatusOK, putObjectResponse{
		Key:  o.Key,
		Path: o.Item.Path,
	})
}

// encodingHints returns the declared encodings, falling back to gzip for a
// ".gz" name.
func encodingHints(declared []string, name string) []string {
	if len(declared) > 0 {
		return declared
	}
	if strings.HasSuffix(name, ".gz") {
		return []string{"gzip"}
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
