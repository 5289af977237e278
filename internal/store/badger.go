package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/vadim/flock/internal/apperror"
)

const (
	atomicMaxAttempts = 8
	atomicBackoffBase = 5 * time.Millisecond
)

// BadgerConfig holds configuration for the embedded store.
type BadgerConfig struct {
	// Path is the directory for database files. Ignored when InMemory is set.
	Path string

	// InMemory disables disk persistence. Used by tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// Badger is the embedded EntityStore driver. Documents live under
// "collection/id" keys; atomicity comes from BadgerDB's optimistic
// transactions, with commit conflicts retried under bounded backoff.
type Badger struct {
	db  *badger.DB
	hub *hub
}

// OpenBadger opens (and if needed creates) the embedded store.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("path is required for persistent store")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger store: %w", err)
	}

	return &Badger{db: db, hub: newHub()}, nil
}

func docKey(collection, id string) []byte {
	return []byte(collection + "/" + id)
}

// Get returns the document body, or apperror.ErrNotFound.
func (s *Badger) Get(ctx context.Context, collection, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var doc []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(collection, id))
		if err != nil {
			return err
		}
		doc, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apperror.NotFound(collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// Put writes the document unconditionally.
func (s *Badger) Put(ctx context.Context, collection, id string, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(docKey(collection, id), doc)
	})
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", collection, id, err)
	}
	s.hub.publish(Event{Collection: collection, ID: id})
	return nil
}

// Delete removes the document. Deleting an absent document is a no-op.
func (s *Badger) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(docKey(collection, id))
	})
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", collection, id, err)
	}
	s.hub.publish(Event{Collection: collection, ID: id, Deleted: true})
	return nil
}

// RunAtomic applies fn to the document in a single optimistic transaction.
func (s *Badger) RunAtomic(ctx context.Context, collection, id string, fn AtomicFn) error {
	var ev *Event

	err := s.retryConflicts(ctx, collection, id, func() error {
		ev = nil
		return s.db.Update(func(txn *badger.Txn) error {
			cur, err := getValue(txn, docKey(collection, id))
			if err != nil {
				return err
			}

			next, err := fn(cur)
			if err != nil {
				return err
			}

			switch {
			case next == nil && cur == nil:
				return nil
			case next == nil:
				ev = &Event{Collection: collection, ID: id, Deleted: true}
				return txn.Delete(docKey(collection, id))
			default:
				ev = &Event{Collection: collection, ID: id}
				return txn.Set(docKey(collection, id), next)
			}
		})
	})
	if err != nil {
		return err
	}
	if ev != nil {
		s.hub.publish(*ev)
	}
	return nil
}

// RunAtomic2 applies fn to two documents in one transaction. BadgerDB
// transactions span keys, so the pair commits or aborts together.
func (s *Badger) RunAtomic2(ctx context.Context, a, b Key, fn Atomic2Fn) error {
	var events []Event

	err := s.retryConflicts(ctx, a.Collection, a.ID, func() error {
		events = events[:0]
		return s.db.Update(func(txn *badger.Txn) error {
			curA, err := getValue(txn, docKey(a.Collection, a.ID))
			if err != nil {
				return err
			}
			curB, err := getValue(txn, docKey(b.Collection, b.ID))
			if err != nil {
				return err
			}

			nextA, nextB, err := fn(curA, curB)
			if err != nil {
				return err
			}

			if err := applyNext(txn, a, curA, nextA, &events); err != nil {
				return err
			}
			return applyNext(txn, b, curB, nextB, &events)
		})
	})
	if err != nil {
		return err
	}
	for _, ev := range events {
		s.hub.publish(ev)
	}
	return nil
}

// List scans one collection. Records come back in key order.
func (s *Badger) List(ctx context.Context, collection string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte(collection + "/")
	var records []Record

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			doc, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			id := string(bytes.TrimPrefix(item.KeyCopy(nil), prefix))
			records = append(records, Record{ID: id, Doc: doc})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Subscribe delivers change events for one collection until ctx ends or the
// cancel function runs.
func (s *Badger) Subscribe(ctx context.Context, collection string) (<-chan Event, func()) {
	return s.hub.subscribe(ctx, collection)
}

// Close shuts the store down and tears down all subscribers.
func (s *Badger) Close() error {
	s.hub.closeAll()
	return s.db.Close()
}

// retryConflicts runs attempt until it succeeds, fails with a non-conflict
// error, or exhausts the retry budget.
func (s *Badger) retryConflicts(ctx context.Context, collection, id string, attempt func() error) error {
	backoff := atomicBackoffBase
	for i := 0; i < atomicMaxAttempts; i++ {
		err := attempt()
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return apperror.Conflict(collection, id)
}

func getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func applyNext(txn *badger.Txn, k Key, cur, next []byte, events *[]Event) error {
	switch {
	case next == nil && cur == nil:
		return nil
	case next == nil:
		*events = append(*events, Event{Collection: k.Collection, ID: k.ID, Deleted: true})
		return txn.Delete(docKey(k.Collection, k.ID))
	default:
		*events = append(*events, Event{Collection: k.Collection, ID: k.ID})
		return txn.Set(docKey(k.Collection, k.ID), next)
	}
}

// badgerLogger adapts slog to BadgerDB's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
