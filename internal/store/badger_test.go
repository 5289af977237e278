package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/flock/internal/apperror"
)

func newTestStore(t *testing.T) *Badger {
	t.Helper()
	s, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetPut(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "posts", "missing")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	require.NoError(t, s.Put(ctx, "posts", "p1", []byte(`{"text":"hi"}`)))

	doc, err := s.Get(ctx, "posts", "p1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hi"}`, string(doc))
}

func TestRunAtomicCreatesWhenAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := false
	err := s.RunAtomic(ctx, "conversations", "a_b", func(cur []byte) ([]byte, error) {
		if cur == nil {
			created = true
			return []byte(`{"fresh":true}`), nil
		}
		return cur, nil
	})
	require.NoError(t, err)
	assert.True(t, created)

	// A second attempt sees the existing document.
	err = s.RunAtomic(ctx, "conversations", "a_b", func(cur []byte) ([]byte, error) {
		require.NotNil(t, cur)
		return cur, nil
	})
	require.NoError(t, err)
}

func TestRunAtomicDeleteAndAbort(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "posts", "p1", []byte(`{}`)))

	// fn errors abort without retry and leave the document untouched.
	boom := errors.New("boom")
	err := s.RunAtomic(ctx, "posts", "p1", func(cur []byte) ([]byte, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	_, err = s.Get(ctx, "posts", "p1")
	require.NoError(t, err)

	// Returning nil deletes.
	require.NoError(t, s.RunAtomic(ctx, "posts", "p1", func(cur []byte) ([]byte, error) {
		return nil, nil
	}))
	_, err = s.Get(ctx, "posts", "p1")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

type counterDoc struct {
	N int `json:"n"`
}

func TestRunAtomicConcurrentIncrements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const writers = 12
	const perWriter = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				err := s.RunAtomic(ctx, "counters", "c1", func(cur []byte) ([]byte, error) {
					var c counterDoc
					if cur != nil {
						if err := json.Unmarshal(cur, &c); err != nil {
							return nil, err
						}
					}
					c.N++
					return json.Marshal(c)
				})
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent increment failed: %v", err)
	}

	doc, err := s.Get(ctx, "counters", "c1")
	require.NoError(t, err)
	var c counterDoc
	require.NoError(t, json.Unmarshal(doc, &c))
	assert.Equal(t, writers*perWriter, c.N)
}

func TestRunAtomic2PairCommitsTogether(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "posts", "parent", []byte(`{"n":0}`)))

	err := s.RunAtomic2(ctx,
		Key{Collection: "posts", ID: "reply"},
		Key{Collection: "posts", ID: "parent"},
		func(reply, parent []byte) ([]byte, []byte, error) {
			var c counterDoc
			if err := json.Unmarshal(parent, &c); err != nil {
				return nil, nil, err
			}
			c.N++
			next, err := json.Marshal(c)
			if err != nil {
				return nil, nil, err
			}
			return []byte(`{"text":"reply"}`), next, nil
		})
	require.NoError(t, err)

	parent, err := s.Get(ctx, "posts", "parent")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(parent))
	_, err = s.Get(ctx, "posts", "reply")
	require.NoError(t, err)

	// An aborting fn writes neither document.
	err = s.RunAtomic2(ctx,
		Key{Collection: "posts", ID: "reply2"},
		Key{Collection: "posts", ID: "parent"},
		func(reply, parent []byte) ([]byte, []byte, error) {
			return nil, nil, errors.New("abort")
		})
	require.Error(t, err)
	_, err = s.Get(ctx, "posts", "reply2")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestListIsolatesCollections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "posts", "a", []byte(`{}`)))
	require.NoError(t, s.Put(ctx, "posts", "b", []byte(`{}`)))
	require.NoError(t, s.Put(ctx, "users", "a", []byte(`{}`)))

	records, err := s.List(ctx, "posts")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "b", records[1].ID)

	records, err = s.List(ctx, "messages")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSubscribeDeliversMatchingEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	events, cancel := s.Subscribe(ctx, "posts")
	defer cancel()

	require.NoError(t, s.Put(ctx, "users", "u1", []byte(`{}`)))
	require.NoError(t, s.Put(ctx, "posts", "p1", []byte(`{}`)))
	require.NoError(t, s.Delete(ctx, "posts", "p1"))

	ev := waitEvent(t, events)
	assert.Equal(t, Event{Collection: "posts", ID: "p1"}, ev)

	ev = waitEvent(t, events)
	assert.Equal(t, Event{Collection: "posts", ID: "p1", Deleted: true}, ev)
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	s := newTestStore(t)

	events, cancel := s.Subscribe(context.Background(), "posts")
	cancel()

	_, ok := <-events
	assert.False(t, ok)

	// A write after cancel must not panic or block.
	require.NoError(t, s.Put(context.Background(), "posts", "p1", []byte(`{}`)))
}

func waitEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event channel closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}
