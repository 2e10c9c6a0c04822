package operation

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomasbasham/gcs-publish/internal/publish"
)

// WorkerOptions configures a publish worker invocation.
type WorkerOptions struct {
	OperationID string
	Store       Store
	Transform   *publish.Transform
	Items       []*publish.FileItem
}

// Run uploads every item through the transform and transitions the operation
// through running → complete | failed. Every item is attempted; the operation
// fails if any of them did.
//
// Run is intended to be called in a separate goroutine; it owns the full
// lifecycle of the operation from the moment it is called.
func Run(ctx context.Context, opts WorkerOptions) {
	if err := opts.Store.MarkRunning(opts.OperationID); err != nil {
		// If we cannot even mark it running the store is broken; nothing to do.
		return
	}

	in := make(chan *publish.FileItem)
	go func() {
		defer close(in)
		for _, item := range opts.Items {
			select {
			case in <- item:
			case <-ctx.Done():
				return
			}
		}
	}()

	failed := 0
	for o := range opts.Transform.Run(ctx, in) {
		switch {
		case o.Err != nil:
			failed++
			_ = opts.Store.RecordFailure(opts.OperationID, failure(o))
		case o.Item != nil:
			_ = opts.Store.RecordObject(opts.OperationID, Object{Key: o.Key, Path: o.Item.Relative(), Size: o.Size})
		}
	}

	switch {
	case ctx.Err() != nil:
		_ = opts.Store.MarkFailed(opts.OperationID, fmt.Errorf("publish: %w", ctx.Err()))
	case failed > 0:
		_ = opts.Store.MarkFailed(opts.OperationID, errors.New(failureSummary(failed, len(opts.Items))))
	default:
		_ = opts.Store.MarkComplete(opts.OperationID)
	}
}

func failure(o publish.Outcome) Failure {
	f := Failure{Key: o.Key, Error: o.Err.Error()}
	var uerr *publish.UploadError
	if errors.As(o.Err, &uerr) {
		f.Path = uerr.Path
	}
	return f
}

func failureSummary(failed, total int) string {
	return fmt.Sprintf("publish: %d of %d files failed to upload", failed, total)
}
