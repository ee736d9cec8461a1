package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"counsel/internal/logging"
)

const (
	// DefaultTTL bounds how long a document may outlive its session.
	DefaultTTL = 30 * time.Minute
	// DefaultLockTimeout bounds the wait for a per-document exclusive section.
	DefaultLockTimeout = 2 * time.Second
)

type entry struct {
	sem     chan struct{}
	doc     atomic.Pointer[Document]
	deleted atomic.Bool
}

func newEntry() *entry {
	return &entry{sem: make(chan struct{}, 1)}
}

// Store is the ephemeral document store.
type Store struct {
	entries     sync.Map // id -> *entry
	ttl         time.Duration
	lockTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the document time-to-live. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl >= 0 {
			s.ttl = ttl
		}
	}
}

// WithLockTimeout bounds how long a mutation waits for its exclusive section.
func WithLockTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.lockTimeout = timeout
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logging.NewComponentLogger(logger, "docstore")
	}
}

// New constructs an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		ttl:         DefaultTTL,
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) acquire(ctx context.Context, e *entry, id, op string) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	default:
	}
	start := time.Now()
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return &ConcurrencyError{ID: id, Operation: op, Waited: time.Since(start)}
	}
}

func release(e *entry) {
	<-e.sem
}

// Put stores doc, replacing any existing snapshot with the same id. A document
// cannot be moved to a different session.
func (s *Store) Put(ctx context.Context, doc Document) error {
	if doc.ID == "" || doc.SessionID == "" {
		return fmt.Errorf("%w: id and session id are required", ErrInvalid)
	}
	for {
		value, _ := s.entries.LoadOrStore(doc.ID, newEntry())
		e := value.(*entry)
		if err := s.acquire(ctx, e, doc.ID, "put"); err != nil {
			return err
		}
		if e.deleted.Load() {
			// lost a race with Delete; the entry is gone from the map
			release(e)
			continue
		}

		now := s.now()
		next := doc.clone()
		if cur := e.doc.Load(); cur != nil {
			if cur.SessionID != doc.SessionID {
				release(e)
				return ErrSessionMismatch
			}
			next.Version = cur.Version + 1
			next.CreatedAt = cur.CreatedAt
		} else {
			next.Version = 1
			if next.CreatedAt.IsZero() {
				next.CreatedAt = now
			}
		}
		next.UpdatedAt = now
		if next.ExpiresAt.IsZero() && s.ttl > 0 {
			next.ExpiresAt = now.Add(s.ttl)
		}
		e.doc.Store(&next)
		release(e)
		return nil
	}
}

// Get returns a copy of the current snapshot. Expired documents are reported
// as absent even before the janitor removes them.
func (s *Store) Get(id string) (Document, bool) {
	value, ok := s.entries.Load(id)
	if !ok {
		return Document{}, false
	}
	cur := value.(*entry).doc.Load()
	if cur == nil || cur.Expired(s.now()) {
		return Document{}, false
	}
	return cur.clone(), true
}

// Update applies fn to a copy of the document inside its exclusive section
// and publishes the result. If fn returns an error nothing is changed.
func (s *Store) Update(ctx context.Context, id string, fn func(*Document) error) error {
	value, ok := s.entries.Load(id)
	if !ok {
		return ErrNotFound
	}
	e := value.(*entry)
	if err := s.acquire(ctx, e, id, "update"); err != nil {
		return err
	}
	defer release(e)

	cur := e.doc.Load()
	if e.deleted.Load() || cur == nil || cur.Expired(s.now()) {
		return ErrNotFound
	}
	next := cur.clone()
	if err := fn(&next); err != nil {
		return err
	}
	next.ID = cur.ID
	next.SessionID = cur.SessionID
	next.CreatedAt = cur.CreatedAt
	next.Version = cur.Version + 1
	next.UpdatedAt = s.now()
	e.doc.Store(&next)
	return nil
}

// Delete removes a document. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	value, ok := s.entries.Load(id)
	if !ok {
		return nil
	}
	e := value.(*entry)
	if err := s.acquire(ctx, e, id, "delete"); err != nil {
		return err
	}
	s.remove(id, e)
	release(e)
	return nil
}

// remove must be called with e's exclusive section held.
func (s *Store) remove(id string, e *entry) {
	e.deleted.Store(true)
	e.doc.Store(nil)
	s.entries.CompareAndDelete(id, e)
}

// ListBySession returns the session's live documents ordered by creation.
func (s *Store) ListBySession(sessionID string) []Document {
	now := s.now()
	var docs []Document
	s.entries.Range(func(_, value any) bool {
		cur := value.(*entry).doc.Load()
		if cur != nil && cur.SessionID == sessionID && !cur.Expired(now) {
			docs = append(docs, cur.clone())
		}
		return true
	})
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs
}

// DeleteSession removes every document of a session and returns how many
// were removed.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	var ids []string
	s.entries.Range(func(key, value any) bool {
		if cur := value.(*entry).doc.Load(); cur != nil && cur.SessionID == sessionID {
			ids = append(ids, key.(string))
		}
		return true
	})
	removed := 0
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Purge removes documents whose TTL elapsed at now. Documents whose exclusive
// section is busy are skipped and picked up by a later pass.
func (s *Store) Purge(now time.Time) int {
	purged := 0
	s.entries.Range(func(key, value any) bool {
		e := value.(*entry)
		cur := e.doc.Load()
		if cur == nil || !cur.Expired(now) {
			return true
		}
		select {
		case e.sem <- struct{}{}:
		default:
			return true
		}
		if cur := e.doc.Load(); cur != nil && cur.Expired(now) {
			s.remove(key.(string), e)
			purged++
		}
		release(e)
		return true
	})
	return purged
}

// Run purges expired documents every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Purge(s.now()); n > 0 {
				s.logger.Info("expired documents purged",
					logging.String(logging.FieldEventType, "documents_purged"),
					logging.Int("count", n),
				)
			}
		}
	}
}

// Clear drops every document. Used on shutdown.
func (s *Store) Clear() int {
	cleared := 0
	s.entries.Range(func(key, value any) bool {
		e := value.(*entry)
		e.sem <- struct{}{}
		if e.doc.Load() != nil {
			cleared++
		}
		s.remove(key.(string), e)
		release(e)
		return true
	})
	return cleared
}

// Len returns the number of live documents.
func (s *Store) Len() int {
	now := s.now()
	n := 0
	s.entries.Range(func(_, value any) bool {
		if cur := value.(*entry).doc.Load(); cur != nil && !cur.Expired(now) {
			n++
		}
		return true
	})
	return n
}

// Scope returns a view restricted to one session's documents.
func (s *Store) Scope(sessionID string) *Scope {
	return &Scope{store: s, sessionID: sessionID}
}
