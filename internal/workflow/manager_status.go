package workflow

import (
	"context"
	"sort"
	"time"

	"counsel/internal/logging"
	"counsel/internal/session"
)

// Result returns the client-facing view of a session.
func (m *Manager) Result(sessionID string) (Result, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return Result{}, err
	}
	return m.result(s), nil
}

func (m *Manager) result(s *sessionRun) Result {
	snap := s.snapshot()
	out := Result{
		SessionID: s.id,
		Filename:  s.filename,
		State:     snap.state,
		Reason:    snap.reason,
		Retryable: snap.reason.Retryable(),
		Message:   snap.message,
		Progress:  snap.progress,
		Cached:    snap.cached,
		CreatedAt: s.createdAt,
		UpdatedAt: snap.updatedAt,
	}
	if snap.record != nil {
		tokens := m.documentMap(s)
		record := snap.record.MapText(tokens.Restore)
		out.Record = &record
		out.Brief = tokens.Restore(snap.brief)
	}
	return out
}

// Await blocks until the session's pipeline has finished or ctx is done.
func (m *Manager) Await(ctx context.Context, sessionID string) (Result, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return Result{}, err
	}
	select {
	case <-s.done:
		return m.result(s), nil
	case <-ctx.Done():
		return m.result(s), ctx.Err()
	}
}

// StatusSummary represents lightweight orchestrator diagnostics.
type StatusSummary struct {
	Sessions  map[session.State]int
	Active    int
	Documents int
	Indexed   int
	LastError string
}

// Status returns session counts by state and store occupancy.
func (m *Manager) Status() StatusSummary {
	m.mu.RLock()
	runs := make([]*sessionRun, 0, len(m.sessions))
	for _, s := range m.sessions {
		runs = append(runs, s)
	}
	lastErr := m.lastErr
	m.mu.RUnlock()

	summary := StatusSummary{
		Sessions:  make(map[session.State]int, len(session.AllStates())),
		Documents: m.deps.Store.Len(),
		Indexed:   m.deps.Retriever.Len(),
	}
	for _, s := range runs {
		summary.Sessions[s.currentState()]++
		if !s.finished() {
			summary.Active++
		}
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	return summary
}

// Sessions lists every known session, newest first.
func (m *Manager) Sessions() []Result {
	m.mu.RLock()
	runs := make([]*sessionRun, 0, len(m.sessions))
	for _, s := range m.sessions {
		runs = append(runs, s)
	}
	m.mu.RUnlock()

	out := make([]Result, 0, len(runs))
	for _, s := range runs {
		res := m.result(s)
		res.Record = nil
		res.Brief = ""
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// Expire ends every session idle for longer than the session TTL and returns
// how many were removed.
func (m *Manager) Expire(ctx context.Context) int {
	cutoff := m.now().Add(-m.cfg.SessionTTL)
	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		if s.snapshot().updatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	var removed int
	for _, id := range stale {
		if err := m.End(ctx, id); err != nil {
			m.logger.Debug("expire session", logging.String(logging.FieldSessionID, id), logging.Error(err))
			continue
		}
		removed++
	}
	return removed
}

// Run expires idle sessions every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
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
			if n := m.Expire(ctx); n > 0 {
				m.logger.Info("expired idle sessions",
					logging.String(logging.FieldEventType, "sessions_expired"),
					logging.Int("count", n),
				)
			}
		}
	}
}
