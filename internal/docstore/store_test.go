package docstore_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"counsel/internal/docstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestPutGet(t *testing.T) {
	store := docstore.New()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, docstore.Document{
		ID:        "doc-1",
		SessionID: "s1",
		RawText:   "Agreement text",
		Mapping:   map[string]string{"<PERSON_1>": "Jane"},
	}))

	doc, ok := store.Get("doc-1")
	require.True(t, ok)
	assert.Equal(t, "Agreement text", doc.RawText)
	assert.Equal(t, uint64(1), doc.Version)
	assert.False(t, doc.ExpiresAt.IsZero())

	// returned snapshots are copies
	doc.Mapping["<PERSON_1>"] = "changed"
	again, _ := store.Get("doc-1")
	assert.Equal(t, "Jane", again.Mapping["<PERSON_1>"])

	_, ok = store.Get("missing")
	assert.False(t, ok)
}

func TestPutValidation(t *testing.T) {
	store := docstore.New()
	ctx := context.Background()

	err := store.Put(ctx, docstore.Document{ID: "x"})
	assert.ErrorIs(t, err, docstore.ErrInvalid)

	require.NoError(t, store.Put(ctx, docstore.Document{ID: "x", SessionID: "a"}))
	err = store.Put(ctx, docstore.Document{ID: "x", SessionID: "b"})
	assert.ErrorIs(t, err, docstore.ErrSessionMismatch)
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	store := docstore.New(docstore.WithLockTimeout(5 * time.Second))
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, docstore.Document{ID: "doc", SessionID: "s", Mapping: map[string]string{}}))

	const writers = 50
	var g errgroup.Group
	for i := range writers {
		g.Go(func() error {
			return store.Update(ctx, "doc", func(d *docstore.Document) error {
				d.Mapping[fmt.Sprintf("<TOKEN_%d>", i)] = "value"
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())

	doc, ok := store.Get("doc")
	require.True(t, ok)
	assert.Len(t, doc.Mapping, writers)
	assert.Equal(t, uint64(writers+1), doc.Version)
}

func TestDistinctDocumentsDoNotBlock(t *testing.T) {
	store := docstore.New(docstore.WithLockTimeout(50 * time.Millisecond))
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, docstore.Document{ID: "a", SessionID: "s1"}))
	require.NoError(t, store.Put(ctx, docstore.Document{ID: "b", SessionID: "s2"}))

	held := make(chan struct{})
	releaseHold := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.Update(ctx, "a", func(*docstore.Document) error {
			close(held)
			<-releaseHold
			return nil
		})
	}()
	<-held

	require.NoError(t, store.Update(ctx, "b", func(d *docstore.Document) error {
		d.Status = docstore.StatusAnonymized
		return nil
	}))
	_, ok := store.Get("a")
	assert.True(t, ok, "reads do not wait for a held section")

	close(releaseHold)
	require.NoError(t, <-done)
}

func TestBusySectionReturnsConcurrencyError(t *testing.T) {
	store := docstore.New(docstore.WithLockTimeout(20 * time.Millisecond))
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, docstore.Document{ID: "a", SessionID: "s"}))

	held := make(chan struct{})
	releaseHold := make(chan struct{})
	go func() {
		_ = store.Update(ctx, "a", func(*docstore.Document) error {
			close(held)
			<-releaseHold
			return nil
		})
	}()
	<-held
	defer close(releaseHold)

	err := store.Update(ctx, "a", func(*docstore.Document) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, docstore.ErrConcurrency)
	var cerr *docstore.ConcurrencyError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "a", cerr.ID)
	assert.Equal(t, "update", cerr.Operation)
}

func TestUpdateErrorLeavesDocumentUnchanged(t *testing.T) {
	store := docstore.New()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, docstore.Document{ID: "a", SessionID: "s", RawText: "before"}))

	boom := errors.New("boom")
	err := store.Update(ctx, "a", func(d *docstore.Document) error {
		d.RawText = "after"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	doc, _ := store.Get("a")
	assert.Equal(t, "before", doc.RawText)
	assert.Equal(t, uint64(1), doc.Version)

	assert.ErrorIs(t, store.Update(ctx, "missing", func(*docstore.Document) error { return nil }), docstore.ErrNotFound)
}

func TestDeleteThenPutRecreates(t *testing.T) {
	store := docstore.New()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, docstore.Document{ID: "a", SessionID: "s"}))
	require.NoError(t, store.Delete(ctx, "a"))
	require.NoError(t, store.Delete(ctx, "a"))

	_, ok := store.Get("a")
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, docstore.Document{ID: "a", SessionID: "other"}))
	doc, ok := store.Get("a")
	require.True(t, ok)
	assert.Equal(t, "other", doc.SessionID)
	assert.Equal(t, uint64(1), doc.Version)
}

func TestTTLExpiryAndPurge(t *testing.T) {
	clock := newFakeClock()
	store := docstore.New(docstore.WithTTL(time.Minute), docstore.WithClock(clock.Now))
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, docstore.Document{ID: "old", SessionID: "s"}))
	clock.Advance(30 * time.Second)
	require.NoError(t, store.Put(ctx, docstore.Document{ID: "new", SessionID: "s"}))

	clock.Advance(45 * time.Second)
	_, ok := store.Get("old")
	assert.False(t, ok, "expired documents are hidden before purge")
	assert.Equal(t, 1, store.Len())

	assert.Equal(t, 1, store.Purge(clock.Now()))
	assert.Equal(t, 0, store.Purge(clock.Now()))

	_, ok = store.Get("new")
	assert.True(t, ok)
	assert.ErrorIs(t, store.Update(ctx, "old", func(*docstore.Document) error { return nil }), docstore.ErrNotFound)
}

func TestPurgeConcurrentWithReaders(t *testing.T) {
	clock := newFakeClock()
	store := docstore.New(docstore.WithTTL(time.Minute), docstore.WithClock(clock.Now))
	ctx := context.Background()
	for i := range 100 {
		require.NoError(t, store.Put(ctx, docstore.Document{ID: fmt.Sprintf("d%d", i), SessionID: "s", RawText: "text"}))
	}
	clock.Advance(2 * time.Minute)

	var partial atomic.Int32
	var g errgroup.Group
	for r := range 8 {
		g.Go(func() error {
			for i := range 100 {
				doc, ok := store.Get(fmt.Sprintf("d%d", (i+r)%100))
				if ok && doc.RawText != "text" {
					partial.Add(1)
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		store.Purge(clock.Now())
		return nil
	})
	require.NoError(t, g.Wait())

	assert.Zero(t, partial.Load())
	assert.Zero(t, store.Len())
}

func TestScopeIsolation(t *testing.T) {
	store := docstore.New()
	ctx := context.Background()
	alice := store.Scope("alice")
	bob := store.Scope("bob")

	require.NoError(t, alice.Put(ctx, docstore.Document{ID: "a1", RawText: "alice text"}))
	require.NoError(t, bob.Put(ctx, docstore.Document{ID: "b1", RawText: "bob text"}))

	_, ok := bob.Get("a1")
	assert.False(t, ok)
	assert.ErrorIs(t, bob.Update(ctx, "a1", func(*docstore.Document) error { return nil }), docstore.ErrNotFound)
	require.NoError(t, bob.Delete(ctx, "a1"))
	_, ok = alice.Get("a1")
	assert.True(t, ok, "foreign delete is a no-op")

	assert.ErrorIs(t, bob.Put(ctx, docstore.Document{ID: "x", SessionID: "alice"}), docstore.ErrSessionMismatch)

	require.Len(t, alice.List(), 1)
	assert.Equal(t, "alice", alice.SessionID())
}

func TestDeleteSessionAndClear(t *testing.T) {
	store := docstore.New()
	ctx := context.Background()
	for i := range 3 {
		require.NoError(t, store.Put(ctx, docstore.Document{ID: fmt.Sprintf("a%d", i), SessionID: "a"}))
	}
	require.NoError(t, store.Put(ctx, docstore.Document{ID: "b0", SessionID: "b"}))

	n, err := store.DeleteSession(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, store.ListBySession("a"))
	assert.Len(t, store.ListBySession("b"), 1)

	assert.Equal(t, 1, store.Clear())
	assert.Zero(t, store.Len())
}

func TestListBySessionOrdersByCreation(t *testing.T) {
	clock := newFakeClock()
	store := docstore.New(docstore.WithClock(clock.Now))
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, store.Put(ctx, docstore.Document{ID: id, SessionID: "s"}))
		clock.Advance(time.Second)
	}
	docs := store.ListBySession("s")
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{docs[0].ID, docs[1].ID, docs[2].ID})
}

func TestRunPurgesUntilCancelled(t *testing.T) {
	store := docstore.New(docstore.WithTTL(10 * time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, store.Put(ctx, docstore.Document{ID: "a", SessionID: "s"}))

	done := make(chan struct{})
	go func() {
		store.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, ok := store.Get("a")
		return !ok && store.Len() == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
