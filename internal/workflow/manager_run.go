package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"counsel/internal/logging"
	"counsel/internal/services"
	"counsel/internal/session"
	"counsel/internal/stream"
	"counsel/internal/textutil"
)

// Submit registers a new session for sub and starts its pipeline. The
// returned id is valid immediately; progress is observed through Stream,
// Result or Await. Problems with the document itself surface as a Failed
// session, not as an error here.
func (m *Manager) Submit(ctx context.Context, sub Submission) (string, error) {
	id := uuid.NewString()
	requestID := strings.TrimSpace(sub.RequestID)
	if requestID == "" {
		if rid, ok := services.RequestIDFromContext(ctx); ok {
			requestID = rid
		} else {
			requestID = uuid.NewString()
		}
	}

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return "", ErrShuttingDown
	}
	if m.cfg.MaxSessions > 0 && m.activeLocked() >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return "", ErrBusy
	}
	publisher, err := m.streams.Open(id)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}

	sessCtx := services.WithSessionID(m.baseCtx, id)
	sessCtx = services.WithRequestID(sessCtx, requestID)
	sessCtx, cancel := context.WithCancel(sessCtx)
	now := m.now()
	s := &sessionRun{
		id:        id,
		docID:     uuid.NewString(),
		filename:  textutil.DisplayName(sub.Filename),
		requestID: requestID,
		createdAt: now,
		ctx:       sessCtx,
		cancel:    cancel,
		publisher: publisher,
		done:      make(chan struct{}),
		state:     session.StateReceived,
		progress:  session.StateReceived.Progress(),
		updatedAt: now,
	}
	m.sessions[id] = s
	m.wg.Add(1)
	m.mu.Unlock()

	m.sessionLogger(sessCtx).Info("session submitted",
		logging.String(logging.FieldEventType, "session_submitted"),
		logging.String("filename", s.filename),
		logging.Int("bytes", len(sub.Data)),
	)
	go m.run(s, sub.Data)
	return id, nil
}

// activeLocked counts sessions whose pipeline is still running. m.mu must be held.
func (m *Manager) activeLocked() int {
	var n int
	for _, s := range m.sessions {
		if !s.finished() {
			n++
		}
	}
	return n
}

// Stream attaches the single consumer of a session's events. The release
// function detaches; if the session has not finished and the client does not
// reattach within the configured grace period, the session is cancelled. A
// session that reaches inference dispatch while detached is cancelled at once.
func (m *Manager) Stream(sessionID string) (<-chan stream.Event, func(), error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, nil, err
	}
	events, detach, err := m.streams.Attach(sessionID)
	if err != nil {
		if errors.Is(err, stream.ErrNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, err
	}
	gen := s.nextDetach()
	release := func() {
		detach()
		if s.finished() || s.currentState().Terminal() {
			return
		}
		s.markDetached(gen)
		abandon := func() {
			if !s.detachCurrent(gen) || m.streams.Attached(s.id) {
				return
			}
			m.cancelSession(s, "client disconnected")
		}
		if m.cfg.DisconnectGrace <= 0 {
			abandon()
			return
		}
		time.AfterFunc(m.cfg.DisconnectGrace, abandon)
	}
	return events, release, nil
}

// End cancels a session if it is still running and forgets it, removing its
// documents and retrieval index.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	m.cancelSession(s, "session ended")
	m.streams.Remove(sessionID)
	m.deps.Retriever.Drop(sessionID)
	removed, err := m.deps.Store.DeleteSession(ctx, sessionID)
	if err != nil {
		return err
	}
	m.sessionLogger(s.ctx).Info("session ended",
		logging.String(logging.FieldEventType, "session_ended"),
		logging.Int("documents_removed", removed),
	)
	return nil
}

// cancelSession signals the session goroutine to stop at its next transition
// boundary and stops its stream.
func (m *Manager) cancelSession(s *sessionRun, why string) {
	if s.ctx.Err() != nil {
		return
	}
	s.cancel()
	s.publisher.Cancel()
	if !s.finished() {
		m.sessionLogger(s.ctx).Info("session cancelled",
			logging.String(logging.FieldEventType, "session_cancelled"),
			logging.String("cause", why),
			logging.String("state", string(s.currentState())),
		)
	}
}

func (m *Manager) run(s *sessionRun, data []byte) {
	defer m.wg.Done()
	defer close(s.done)

	start := m.now()
	logger := m.sessionLogger(s.ctx)
	err := m.pipeline(s, data)
	if err != nil {
		m.fail(s, err)
		return
	}
	logger.Info("session ready",
		logging.String(logging.FieldEventType, "session_ready"),
		logging.Duration("duration", m.now().Sub(start)),
	)
}

// pipeline runs Received -> Anonymizing -> Analyzing -> Deserializing ->
// ChatReady. Every external call is a suspension point; every transition is
// a cancellation checkpoint.
func (m *Manager) pipeline(s *sessionRun, data []byte) error {
	if err := m.emitProgress(s, session.StateReceived, session.StateReceived.Progress(), "Document received"); err != nil {
		return err
	}

	text, err := m.parseStage(s, data)
	if err != nil {
		return err
	}

	if err := m.transition(s, session.StateAnonymizing, "Removing personal information"); err != nil {
		return err
	}
	anonymized, err := m.anonymizeStage(s, text)
	if err != nil {
		return err
	}

	if err := m.transition(s, session.StateAnalyzing, "Analyzing document"); err != nil {
		return err
	}
	raw, cached, err := m.analyzeStage(s, anonymized)
	if err != nil {
		return err
	}

	if err := m.transition(s, session.StateDeserializing, "Preparing your brief"); err != nil {
		return err
	}
	return m.deserializeStage(s, anonymized, raw, cached)
}

// transition is the cancellation checkpoint between stages.
func (m *Manager) transition(s *sessionRun, next session.State, message string) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	if err := s.advance(next, next.Progress(), m.now()); err != nil {
		return err
	}
	return m.emitProgress(s, next, next.Progress(), message)
}

func (m *Manager) emitProgress(s *sessionRun, state session.State, percent int, message string) error {
	err := s.publisher.Progress(s.ctx, stream.ProgressPayload{
		State:   string(state),
		Percent: percent,
		Message: message,
	})
	return publishErr(err)
}

// publishErr folds stream cancellation into context cancellation so the
// pipeline treats a stopped stream like any other cancellation.
func publishErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, stream.ErrCancelled) {
		return context.Canceled
	}
	return err
}
