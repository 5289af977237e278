package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/flock/internal/apperror"
)

const notifyChannel = "entity_changes"

// Postgres is the server-backed EntityStore driver. Documents live in a
// single jsonb table; per-document atomicity comes from row locks, change
// events from LISTEN/NOTIFY so every process sees every commit.
type Postgres struct {
	pool   *pgxpool.Pool
	hub    *hub
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// OpenPostgres connects, ensures the schema, and starts the notification
// listener.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}
	config.MaxConns = 25
	config.MinConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Postgres{
		pool:   pool,
		hub:    newHub(),
		logger: logger,
		done:   make(chan struct{}),
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.listen(listenCtx)

	return s, nil
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, id)
		)
	`)
	if err != nil {
		return fmt.Errorf("ensuring documents table: %w", err)
	}
	return nil
}

// Get returns the document body, or apperror.ErrNotFound.
func (s *Postgres) Get(ctx context.Context, collection, id string) ([]byte, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound(collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// Put writes the document unconditionally and notifies subscribers.
func (s *Postgres) Put(ctx context.Context, collection, id string, doc []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (collection, id, doc, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, id) DO UPDATE SET
			doc = EXCLUDED.doc,
			updated_at = EXCLUDED.updated_at
	`, collection, id, doc)
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", collection, id, err)
	}
	return s.notify(ctx, Event{Collection: collection, ID: id})
}

// Delete removes the document. Deleting an absent document is a no-op.
func (s *Postgres) Delete(ctx context.Context, collection, id string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", collection, id, err)
	}
	return s.notify(ctx, Event{Collection: collection, ID: id, Deleted: true})
}

// RunAtomic applies fn to the document under a row lock.
func (s *Postgres) RunAtomic(ctx context.Context, collection, id string, fn AtomicFn) error {
	return s.retrySerialization(ctx, collection, id, func() error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			cur, err := lockRow(ctx, tx, collection, id)
			if err != nil {
				return err
			}

			next, err := fn(cur)
			if err != nil {
				return err
			}
			return s.applyInTx(ctx, tx, Key{collection, id}, cur, next)
		})
	})
}

// RunAtomic2 locks two rows in deterministic key order so concurrent pairs
// cannot deadlock, then applies fn.
func (s *Postgres) RunAtomic2(ctx context.Context, a, b Key, fn Atomic2Fn) error {
	first, second := a, b
	swapped := false
	if b.Collection < a.Collection || (b.Collection == a.Collection && b.ID < a.ID) {
		first, second = b, a
		swapped = true
	}

	return s.retrySerialization(ctx, a.Collection, a.ID, func() error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			curFirst, err := lockRow(ctx, tx, first.Collection, first.ID)
			if err != nil {
				return err
			}
			curSecond, err := lockRow(ctx, tx, second.Collection, second.ID)
			if err != nil {
				return err
			}

			curA, curB := curFirst, curSecond
			if swapped {
				curA, curB = curSecond, curFirst
			}

			nextA, nextB, err := fn(curA, curB)
			if err != nil {
				return err
			}

			if err := s.applyInTx(ctx, tx, a, curA, nextA); err != nil {
				return err
			}
			return s.applyInTx(ctx, tx, b, curB, nextB)
		})
	})
}

// List scans one collection ordered by id.
func (s *Postgres) List(ctx context.Context, collection string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, doc FROM documents WHERE collection = $1 ORDER BY id`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Doc); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", collection, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Subscribe delivers change events for one collection until ctx ends or the
// cancel function runs.
func (s *Postgres) Subscribe(ctx context.Context, collection string) (<-chan Event, func()) {
	return s.hub.subscribe(ctx, collection)
}

// Close stops the listener and closes the pool.
func (s *Postgres) Close() error {
	s.cancel()
	<-s.done
	s.hub.closeAll()
	s.pool.Close()
	return nil
}

func lockRow(ctx context.Context, tx pgx.Tx, collection, id string) ([]byte, error) {
	var doc []byte
	err := tx.QueryRow(ctx,
		`SELECT doc FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
		collection, id,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("locking %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (s *Postgres) applyInTx(ctx context.Context, tx pgx.Tx, k Key, cur, next []byte) error {
	switch {
	case next == nil && cur == nil:
		return nil
	case next == nil:
		if _, err := tx.Exec(ctx,
			`DELETE FROM documents WHERE collection = $1 AND id = $2`,
			k.Collection, k.ID,
		); err != nil {
			return fmt.Errorf("deleting %s/%s: %w", k.Collection, k.ID, err)
		}
		return notifyInTx(ctx, tx, Event{Collection: k.Collection, ID: k.ID, Deleted: true})
	case cur == nil:
		// No row existed, so SELECT FOR UPDATE locked nothing. A plain
		// INSERT lets a concurrent creation surface as a unique violation,
		// which retrySerialization turns into a re-run of fn against the
		// committed row. An upsert here would silently drop the winner.
		if _, err := tx.Exec(ctx, `
			INSERT INTO documents (collection, id, doc, updated_at)
			VALUES ($1, $2, $3, now())
		`, k.Collection, k.ID, next); err != nil {
			return fmt.Errorf("creating %s/%s: %w", k.Collection, k.ID, err)
		}
		return notifyInTx(ctx, tx, Event{Collection: k.Collection, ID: k.ID})
	default:
		if _, err := tx.Exec(ctx, `
			UPDATE documents SET doc = $3, updated_at = now()
			WHERE collection = $1 AND id = $2
		`, k.Collection, k.ID, next); err != nil {
			return fmt.Errorf("writing %s/%s: %w", k.Collection, k.ID, err)
		}
		return notifyInTx(ctx, tx, Event{Collection: k.Collection, ID: k.ID})
	}
}

// retrySerialization retries unique-violation and serialization failures,
// which is how creation races on an absent row surface.
func (s *Postgres) retrySerialization(ctx context.Context, collection, id string, attempt func() error) error {
	backoff := atomicBackoffBase
	for i := 0; i < atomicMaxAttempts; i++ {
		err := attempt()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
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

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "23505", "40001", "40P01": // unique violation, serialization failure, deadlock
		return true
	}
	return false
}

func (s *Postgres) notify(ctx context.Context, ev Event) error {
	_, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, encodeEvent(ev))
	if err != nil {
		return fmt.Errorf("notifying %s/%s: %w", ev.Collection, ev.ID, err)
	}
	return nil
}

func notifyInTx(ctx context.Context, tx pgx.Tx, ev Event) error {
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, encodeEvent(ev)); err != nil {
		return fmt.Errorf("notifying %s/%s: %w", ev.Collection, ev.ID, err)
	}
	return nil
}

func encodeEvent(ev Event) string {
	deleted := "0"
	if ev.Deleted {
		deleted = "1"
	}
	return ev.Collection + "|" + ev.ID + "|" + deleted
}

func decodeEvent(payload string) (Event, bool) {
	parts := strings.SplitN(payload, "|", 3)
	if len(parts) != 3 {
		return Event{}, false
	}
	return Event{Collection: parts[0], ID: parts[1], Deleted: parts[2] == "1"}, true
}

// listen holds a dedicated connection on LISTEN and fans notifications out
// to in-process subscribers. The connection is re-acquired on failure.
func (s *Postgres) listen(ctx context.Context) {
	defer close(s.done)

	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.listenOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("notification listener failed, reconnecting", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (s *Postgres) listenOnce(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `LISTEN `+notifyChannel); err != nil {
		return fmt.Errorf("listening on %s: %w", notifyChannel, err)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if ev, ok := decodeEvent(notification.Payload); ok {
			s.hub.publish(ev)
		}
	}
}
