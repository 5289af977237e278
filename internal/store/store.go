// Package store provides the keyed-document storage the domain services
// build on: per-document atomic read-modify-write, collection scans, and
// change subscriptions. Two drivers exist, an embedded BadgerDB one and a
// PostgreSQL one; both expose the same EntityStore interface.
package store

import "context"

// Key identifies a single document.
type Key struct {
	Collection string
	ID         string
}

// Record is one document returned by a collection scan.
type Record struct {
	ID  string
	Doc []byte
}

// Event is a change notification for one document. Subscribers re-read
// whatever state they project from; an Event carries no document body.
type Event struct {
	Collection string
	ID         string
	Deleted    bool
}

// AtomicFn transforms the current document body into the next one. cur is
// nil when the document does not exist. Returning (nil, nil) deletes the
// document. The function may run more than once under contention and must
// be side-effect free.
type AtomicFn func(cur []byte) ([]byte, error)

// Atomic2Fn is the two-document variant used where a pair of documents must
// change together (reply creation and its parent's counter).
type Atomic2Fn func(a, b []byte) ([]byte, []byte, error)

// EntityStore is the storage contract consumed by every domain service.
//
// RunAtomic guarantees single-document read-modify-write atomicity:
// concurrent callers on one document never lose an update. Contention is
// retried with bounded backoff and surfaced as apperror.ErrConflict once
// the retry budget is exhausted. Errors returned by fn abort without retry.
type EntityStore interface {
	Get(ctx context.Context, collection, id string) ([]byte, error)
	Put(ctx context.Context, collection, id string, doc []byte) error
	Delete(ctx context.Context, collection, id string) error
	RunAtomic(ctx context.Context, collection, id string, fn AtomicFn) error
	RunAtomic2(ctx context.Context, a, b Key, fn Atomic2Fn) error
	List(ctx context.Context, collection string) ([]Record, error)
	Subscribe(ctx context.Context, collection string) (<-chan Event, func())
	Close() error
}
