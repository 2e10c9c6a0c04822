// Package operation provides the domain model for async publish operations.
// An Operation moves through a linear lifecycle:
//
//	pending → running → complete | failed.
//
// The store is the authoritative source of truth for operation state; HTTP
// handlers read and write exclusively through it.
package operation

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of an operation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Object is a file uploaded by an operation.
type Object struct {
	Key  string `json:"key"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Failure is a file an operation could not upload.
type Failure struct {
	Key   string `json:"key,omitempty"`
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Operation represents a single async publish of a batch of files.
type Operation struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Bucket    string    `json:"bucket"`
	Files     int       `json:"files"` // number of files submitted
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Objects lists the objects uploaded so far.
	Objects []Object `json:"objects,omitempty"`

	// Failures lists the files whose upload failed.
	Failures []Failure `json:"failures,omitempty"`

	// Error is non-empty if the operation reached StatusFailed.
	Error string `json:"error,omitempty"`
}

// Store is the interface for persisting and retrieving operations. The
// in-memory implementation below is suitable for a single instance.
type Store interface {
	Create(bucket string, files int) (*Operation, error)
	Get(id string) (*Operation, error)
	MarkRunning(id string) error
	RecordObject(id string, obj Object) error
	RecordFailure(id string, f Failure) error
	MarkComplete(id string) error
	MarkFailed(id string, err error) error
}

// MemoryStore is a concurrency-safe in-memory Store implementation.
type MemoryStore struct {
	mu  sync.RWMutex
	ops map[string]*Operation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: make(map[string]*Operation)}
}

func (s *MemoryStore) Create(bucket string, files int) (*Operation, error) {
	now := time.Now()
	op := &Operation{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		Bucket:    bucket,
		Files:     files,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.ops[op.ID] = op
	s.mu.Unlock()

	cp := *op
	return &cp, nil
}

func (s *MemoryStore) Get(id string) (*Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.ops[id]
	if !ok {
		return nil, fmt.Errorf("operation %q not found", id)
	}
	// Return a copy to prevent callers from mutating internal state.
	cp := *op
	cp.Objects = slices.Clone(op.Objects)
	cp.Failures = slices.Clone(op.Failures)
	return &cp, nil
}

func (s *MemoryStore) MarkRunning(id string) error {
	return s.update(id, func(op *Operation) {
		op.Status = StatusRunning
	})
}

func (s *MemoryStore) RecordObject(id string, obj Object) error {
	return s.update(id, func(op *Operation) {
		op.Objects = append(op.Objects, obj)
	})
}

func (s *MemoryStore) RecordFailure(id string, f Failure) error {
	return s.update(id, func(op *Operation) {
		op.Failures = append(op.Failures, f)
	})
}

func (s *MemoryStore) MarkComplete(id string) error {
	return s.update(id, func(op *Operation) {
		op.Status = StatusComplete
	})
}

func (s *MemoryStore) MarkFailed(id string, err error) error {
	return s.update(id, func(op *Operation) {
		op.Status = StatusFailed
		op.Error = err.Error()
	})
}

func (s *MemoryStore) update(id string, fn func(*Operation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return fmt.Errorf("operation %q not found", id)
	}
	fn(op)
	op.UpdatedAt = time.Now()
	return nil
}
