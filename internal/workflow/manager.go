package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"counsel/internal/analysis"
	"counsel/internal/docstore"
	"counsel/internal/extract"
	"counsel/internal/logging"
	"counsel/internal/retrieval"
	"counsel/internal/stream"
)

// Defaults applied by NewManager to zero-valued Config fields.
const (
	DefaultParseTimeout     = 60 * time.Second
	DefaultPrivacyTimeout   = 30 * time.Second
	DefaultInferenceTimeout = 120 * time.Second
	DefaultChatTimeout      = 60 * time.Second
	DefaultChatAttempts     = 2
	DefaultChatHistory      = 12
	DefaultSessionTTL       = 30 * time.Minute
	DefaultPromptVersion    = "v1"
)

var (
	// ErrSessionNotFound is returned for unknown or expired session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrChatNotReady is returned when a chat turn targets a session that has
	// not reached ChatReady.
	ErrChatNotReady = errors.New("session is not ready for chat")
	// ErrEmptyMessage rejects blank chat turns.
	ErrEmptyMessage = errors.New("chat message is empty")
	// ErrBusy is returned when the configured session limit is reached.
	ErrBusy = errors.New("too many active sessions")
	// ErrShuttingDown is returned by Submit after Shutdown started.
	ErrShuttingDown = errors.New("workflow manager is shutting down")
)

// Config tunes the orchestrator.
type Config struct {
	ParseTimeout     time.Duration
	PrivacyTimeout   time.Duration
	InferenceTimeout time.Duration
	ChatTimeout      time.Duration
	// MaxInputChars caps the anonymized text sent for analysis.
	MaxInputChars int
	// ChatAttempts bounds retries when a chat reply contains tool-call markup.
	ChatAttempts int
	// ChatHistory is how many prior turns are replayed to the chat model.
	ChatHistory   int
	EventCapacity int
	// SessionTTL expires sessions (and their documents) after inactivity.
	SessionTTL time.Duration
	// MaxSessions limits concurrently running pipelines; zero is unlimited.
	MaxSessions   int
	PromptVersion string
	// DisconnectGrace is how long a detached, unfinished session waits for
	// its client to reconnect before it is cancelled.
	DisconnectGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.ParseTimeout <= 0 {
		c.ParseTimeout = DefaultParseTimeout
	}
	if c.PrivacyTimeout <= 0 {
		c.PrivacyTimeout = DefaultPrivacyTimeout
	}
	if c.InferenceTimeout <= 0 {
		c.InferenceTimeout = DefaultInferenceTimeout
	}
	if c.ChatTimeout <= 0 {
		c.ChatTimeout = DefaultChatTimeout
	}
	if c.MaxInputChars <= 0 {
		c.MaxInputChars = analysis.DefaultMaxInputChars
	}
	if c.ChatAttempts <= 0 {
		c.ChatAttempts = DefaultChatAttempts
	}
	if c.ChatHistory <= 0 {
		c.ChatHistory = DefaultChatHistory
	}
	if c.EventCapacity <= 0 {
		c.EventCapacity = stream.DefaultCapacity
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.PromptVersion == "" {
		c.PromptVersion = DefaultPromptVersion
	}
	return c
}

// Dependencies are the collaborators a Manager drives. Parser, Privacy,
// Inference and Store are required.
type Dependencies struct {
	Parser     DocumentParser
	Privacy    PrivacyEngine
	Inference  InferenceProvider
	Store      *docstore.Store
	Normalizer *extract.Normalizer
	Retriever  *retrieval.Retriever
	Cache      AnalysisCache
	// Probes are extra health checks reported by Health.
	Probes map[string]HealthChecker
	Clock  func() time.Time
}

// Manager owns every live analysis session.
type Manager struct {
	cfg     Config
	deps    Dependencies
	logger  *slog.Logger
	streams *stream.Registry
	now     func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*sessionRun
	closing  bool
	lastErr  error
}

// NewManager validates deps and constructs a manager.
func NewManager(cfg Config, deps Dependencies, logger *slog.Logger) (*Manager, error) {
	switch {
	case deps.Parser == nil:
		return nil, fmt.Errorf("workflow: document parser is required")
	case deps.Privacy == nil:
		return nil, fmt.Errorf("workflow: privacy engine is required")
	case deps.Inference == nil:
		return nil, fmt.Errorf("workflow: inference provider is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("workflow: document store is required")
	}
	cfg = cfg.withDefaults()
	logger = logging.NewComponentLogger(logger, "workflow")
	if deps.Normalizer == nil {
		deps.Normalizer = extract.NewNormalizer(extract.WithLogger(logger))
	}
	if deps.Retriever == nil {
		deps.Retriever = retrieval.NewRetriever(retrieval.DefaultChunkSize, retrieval.DefaultChunkOverlap, retrieval.DefaultTopK)
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		streams:  stream.NewRegistry(cfg.EventCapacity),
		now:      now,
		baseCtx:  baseCtx,
		cancel:   cancel,
		sessions: make(map[string]*sessionRun),
	}, nil
}

// Shutdown cancels every running session, waits for their goroutines (or
// ctx), and clears the document store.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}
	m.closing = true
	runs := make([]*sessionRun, 0, len(m.sessions))
	for _, s := range m.sessions {
		runs = append(runs, s)
	}
	m.mu.Unlock()

	m.cancel()
	for _, s := range runs {
		m.streams.Remove(s.id)
	}

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		m.logger.Warn("shutdown deadline reached with sessions still running",
			logging.String(logging.FieldEventType, "shutdown_timeout"),
			logging.String(logging.FieldErrorHint, "an external call did not return within its timeout"),
		)
	}

	for _, s := range runs {
		m.deps.Retriever.Drop(s.id)
	}
	cleared := m.deps.Store.Clear()
	m.logger.Info("workflow stopped",
		logging.String(logging.FieldEventType, "workflow_stopped"),
		logging.Int("sessions", len(runs)),
		logging.Int("documents_cleared", cleared),
	)
}

func (m *Manager) lookup(id string) (*sessionRun, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
