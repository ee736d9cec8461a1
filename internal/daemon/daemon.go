package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"counsel/internal/cache"
	"counsel/internal/config"
	"counsel/internal/logging"
	"counsel/internal/session"
	"counsel/internal/stream"
	"counsel/internal/workflow"
)

// Orchestrator is the slice of the workflow manager the daemon serves.
type Orchestrator interface {
	Submit(ctx context.Context, sub workflow.Submission) (string, error)
	Stream(sessionID string) (<-chan stream.Event, func(), error)
	Result(sessionID string) (workflow.Result, error)
	Chat(ctx context.Context, sessionID, message string) (string, error)
	ChatHistory(sessionID string) ([]session.Message, error)
	End(ctx context.Context, sessionID string) error
	Status() workflow.StatusSummary
	Sessions() []workflow.Result
	Health(ctx context.Context) []workflow.CollaboratorHealth
}

// Daemon owns the HTTP surface and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	workflow Orchestrator
	cache    *cache.Cache

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	api       *apiServer
	startedAt time.Time
	running   atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	StartedAt    time.Time
	LockFilePath string
	APIBind      string
	Workflow     workflow.StatusSummary
	CachePath    string
	Cache        *cache.Stats
	Health       []workflow.CollaboratorHealth
}

// New constructs a daemon. The cache is optional.
func New(cfg *config.Config, wf Orchestrator, analysisCache *cache.Cache, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || wf == nil {
		return nil, errors.New("daemon requires config and workflow manager")
	}
	if strings.TrimSpace(cfg.Paths.LogDir) == "" {
		return nil, errors.New("daemon requires a log directory for its lock file")
	}
	lockPath := filepath.Join(cfg.Paths.LogDir, "counseld.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		workflow: wf,
		cache:    analysisCache,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and begins serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("ensure lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another counsel daemon instance is already running")
	}

	srv, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		_ = d.lock.Unlock()
		return err
	}
	if err := srv.start(ctx); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	d.api = srv
	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("counsel daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("address", srv.addr()),
	)
	return nil
}

// Stop stops serving and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.api.stop()
	d.api = nil
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("counsel daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon. The cache belongs to the
// caller.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Addr returns the address the API listens on, or "" when stopped.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// Status returns the current daemon status, probing collaborator health.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.Lock()
	startedAt := d.startedAt
	d.mu.Unlock()

	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		APIBind:      d.cfg.Paths.APIBind,
		Workflow:     d.workflow.Status(),
		Health:       d.workflow.Health(ctx),
	}
	if status.Running {
		status.StartedAt = startedAt
	}
	if d.cache != nil {
		status.CachePath = d.cache.Path()
		if stats, err := d.cache.Stats(ctx); err == nil {
			status.Cache = &stats
		} else {
			d.logger.Warn("cache stats unavailable", logging.Error(err))
		}
	}
	return status
}
