package workflow

import (
	"context"
	"sync"
	"time"

	"counsel/internal/analysis"
	"counsel/internal/session"
	"counsel/internal/stream"
)

// sessionRun is the explicit per-session context threaded through every
// stage. Only the session goroutine advances state; readers take snapshots.
type sessionRun struct {
	id        string
	docID     string
	filename  string
	requestID string
	createdAt time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	publisher *stream.Publisher
	done      chan struct{}

	// turn serializes chat turns.
	turn sync.Mutex

	mu        sync.RWMutex
	state     session.State
	reason    session.Reason
	message   string
	progress  int
	updatedAt time.Time
	record    *analysis.Record
	brief     string
	chat      *session.Chat
	cached    bool
	detachGen uint64
	// detached is set when the consumer releases the stream before the
	// session finished, and cleared when a consumer attaches again.
	detached bool
}

type sessionSnapshot struct {
	state     session.State
	reason    session.Reason
	message   string
	progress  int
	updatedAt time.Time
	record    *analysis.Record
	brief     string
	chat      *session.Chat
	cached    bool
}

func (s *sessionRun) snapshot() sessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := sessionSnapshot{
		state:     s.state,
		reason:    s.reason,
		message:   s.message,
		progress:  s.progress,
		updatedAt: s.updatedAt,
		brief:     s.brief,
		chat:      s.chat,
		cached:    s.cached,
	}
	if s.record != nil {
		clone := s.record.Clone()
		snap.record = &clone
	}
	return snap
}

func (s *sessionRun) currentState() session.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// advance moves the session to next. It refuses transitions the state
// machine does not allow, which also stops anything after a terminal state.
func (s *sessionRun) advance(next session.State, progress int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !session.CanTransition(s.state, next) {
		return &session.TransitionError{From: s.state, To: next}
	}
	s.state = next
	if progress > s.progress {
		s.progress = progress
	}
	s.updatedAt = now
	return nil
}

func (s *sessionRun) setProgress(progress int, now time.Time) {
	s.mu.Lock()
	if progress > s.progress {
		s.progress = progress
	}
	s.updatedAt = now
	s.mu.Unlock()
}

// markReady stores the analysis and moves to ChatReady in one step so a
// reader never sees ChatReady without a record.
func (s *sessionRun) markReady(record analysis.Record, brief string, cached bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !session.CanTransition(s.state, session.StateChatReady) {
		return &session.TransitionError{From: s.state, To: session.StateChatReady}
	}
	s.state = session.StateChatReady
	s.progress = session.StateChatReady.Progress()
	s.record = &record
	s.brief = brief
	s.chat = session.NewChat(s.id, brief)
	s.cached = cached
	s.updatedAt = now
	return nil
}

// markFailed records the failure unless the session already finished. It
// reports whether this call performed the transition.
func (s *sessionRun) markFailed(reason session.Reason, message string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = session.StateFailed
	s.reason = reason
	s.message = message
	s.updatedAt = now
	return true
}

func (s *sessionRun) touch(now time.Time) {
	s.mu.Lock()
	s.updatedAt = now
	s.mu.Unlock()
}

func (s *sessionRun) nextDetach() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachGen++
	s.detached = false
	return s.detachGen
}

func (s *sessionRun) markDetached(gen uint64) {
	s.mu.Lock()
	if s.detachGen == gen {
		s.detached = true
	}
	s.mu.Unlock()
}

// abandoned reports whether the last consumer left and none has reattached.
func (s *sessionRun) abandoned() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detached
}

func (s *sessionRun) detachCurrent(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detachGen == gen
}

func (s *sessionRun) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
