package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"counsel/internal/fileutil"
	"counsel/internal/logging"
	"counsel/internal/notifications"
	"counsel/internal/session"
	"counsel/internal/workflow"
)

const (
	defaultSettle     = 2 * time.Second
	defaultWorkers    = 2
	defaultBusyRetry  = 15 * time.Second
	processedDirName  = "processed"
	endSessionTimeout = 5 * time.Second
)

// DefaultExtensions lists the upload formats the parser accepts.
var DefaultExtensions = []string{".txt", ".md", ".markdown", ".docx", ".pdf"}

// Analyzer is the orchestrator surface the inbox needs.
type Analyzer interface {
	Submit(ctx context.Context, sub workflow.Submission) (string, error)
	Await(ctx context.Context, sessionID string) (workflow.Result, error)
	End(ctx context.Context, sessionID string) error
}

// Config locates the inbox and tunes ingestion.
type Config struct {
	Dir        string
	OutboxDir  string
	Extensions []string
	// Settle is how long a file must stay unmodified before it is read.
	Settle    time.Duration
	Workers   int
	BusyRetry time.Duration
	// Notifier is told about every finished file. Nil disables alerts.
	Notifier notifications.Service
}

// Watcher submits files that appear in the inbox directory.
type Watcher struct {
	cfg      Config
	analyzer Analyzer
	logger   *slog.Logger
	now      func() time.Time

	queue chan string

	mu       sync.Mutex
	timers   map[string]*time.Timer
	inflight map[string]struct{}
}

// New validates cfg and constructs a watcher.
func New(cfg Config, analyzer Analyzer, logger *slog.Logger) (*Watcher, error) {
	if analyzer == nil {
		return nil, errors.New("inbox: analyzer is required")
	}
	if strings.TrimSpace(cfg.Dir) == "" || strings.TrimSpace(cfg.OutboxDir) == "" {
		return nil, errors.New("inbox: dir and outbox dir are required")
	}
	if filepath.Clean(cfg.Dir) == filepath.Clean(cfg.OutboxDir) {
		return nil, errors.New("inbox: outbox dir must differ from inbox dir")
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	if cfg.Settle <= 0 {
		cfg.Settle = defaultSettle
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.BusyRetry <= 0 {
		cfg.BusyRetry = defaultBusyRetry
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Watcher{
		cfg:      cfg,
		analyzer: analyzer,
		logger:   logging.NewComponentLogger(logger, "inbox"),
		now:      time.Now,
		queue:    make(chan string, 64),
		timers:   make(map[string]*time.Timer),
		inflight: make(map[string]struct{}),
	}, nil
}

// Run watches the inbox until ctx is cancelled. Files already present when
// Run starts are processed first.
func (w *Watcher) Run(ctx context.Context) error {
	for _, dir := range []string{w.cfg.Dir, w.cfg.OutboxDir, w.processedDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("inbox: create %s: %w", dir, err)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: create watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", w.cfg.Dir, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Workers; i++ {
		g.Go(func() error {
			w.work(gctx)
			return nil
		})
	}
	g.Go(func() error {
		defer w.stopTimers()
		return w.watch(gctx, fsw)
	})

	w.scan(gctx)
	w.logger.Info("inbox watching",
		logging.String(logging.FieldEventType, "inbox_started"),
		logging.String("dir", w.cfg.Dir),
		logging.String("outbox", w.cfg.OutboxDir),
	)
	return g.Wait()
}

func (w *Watcher) watch(ctx context.Context, fsw *fsnotify.Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !w.accepts(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name, w.cfg.Settle)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(w.logger, "inbox watcher error", "inbox_watch_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check inbox directory permissions"),
				logging.String(logging.FieldImpact, "new files may be missed until the next restart"),
			)
		}
	}
}

// scan queues files that were dropped while the daemon was down.
func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		w.logger.Warn("inbox scan failed", logging.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.cfg.Dir, entry.Name())
		if w.accepts(path) {
			w.schedule(ctx, path, 0)
		}
	}
}

// schedule (re)starts the settle timer for path.
func (w *Watcher) schedule(ctx context.Context, path string, delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.timers[path]; ok {
		timer.Reset(delay)
		return
	}
	w.timers[path] = time.AfterFunc(delay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case w.queue <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.queue:
			if !w.claim(path) {
				continue
			}
			err := w.Process(ctx, path)
			w.release(path)
			switch {
			case err == nil:
			case errors.Is(err, workflow.ErrBusy):
				w.logger.Info("orchestrator busy; inbox file deferred",
					logging.String(logging.FieldEventType, "inbox_deferred"),
					logging.String("file", filepath.Base(path)),
				)
				w.schedule(ctx, path, w.cfg.BusyRetry)
			case ctx.Err() != nil:
				return
			default:
				logging.WarnWithContext(w.logger, "inbox file not processed", "inbox_failed",
					logging.String("file", filepath.Base(path)),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check the file is readable and the outbox is writable"),
					logging.String(logging.FieldImpact, "file stays in the inbox until it changes or the daemon restarts"),
				)
			}
		}
	}
}

func (w *Watcher) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[path]; busy {
		return false
	}
	w.inflight[path] = struct{}{}
	return true
}

func (w *Watcher) release(path string) {
	w.mu.Lock()
	delete(w.inflight, path)
	w.mu.Unlock()
}

// Process analyzes one file, writes its report and moves the source into
// the processed directory. Files that vanished in the meantime are ignored.
func (w *Watcher) Process(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	name := filepath.Base(path)
	sessionID, err := w.analyzer.Submit(ctx, workflow.Submission{Filename: name, Data: data})
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	defer w.endSession(ctx, sessionID)

	res, err := w.analyzer.Await(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("await: %w", err)
	}

	encoded, err := newReport(res, w.now()).encode()
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	reportPath := filepath.Join(w.cfg.OutboxDir, name+ReportSuffix)
	if err := fileutil.WriteFileAtomic(reportPath, encoded, 0o600); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := fileutil.MoveFile(path, filepath.Join(w.processedDir(), name)); err != nil {
		return fmt.Errorf("archive source: %w", err)
	}

	w.logger.Info("inbox file analyzed",
		logging.String(logging.FieldEventType, "inbox_processed"),
		logging.String(logging.FieldSessionID, sessionID),
		logging.String("file", name),
		logging.String("state", string(res.State)),
		logging.String(logging.FieldReasonCode, string(res.Reason)),
		logging.String("report", reportPath),
	)
	w.notify(ctx, name, res)
	return nil
}

func (w *Watcher) notify(ctx context.Context, name string, res workflow.Result) {
	if w.cfg.Notifier == nil {
		return
	}
	event := notifications.EventAnalysisReady
	payload := notifications.Payload{"filename": name}
	if res.State == session.StateFailed || res.Record == nil {
		event = notifications.EventAnalysisFailed
		payload["reason"] = string(res.Reason)
		payload["message"] = res.Message
	} else {
		payload["documentType"] = res.Record.DocumentType
		payload["riskLevel"] = res.Record.RiskLevel
		payload["verdict"] = res.Record.Verdict
	}
	if err := w.cfg.Notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(w.logger, "inbox notification failed", "inbox_notify_failed",
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.String("file", name),
			logging.Error(err),
		)
	}
}

func (w *Watcher) endSession(ctx context.Context, sessionID string) {
	endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), endSessionTimeout)
	defer cancel()
	if err := w.analyzer.End(endCtx, sessionID); err != nil && !errors.Is(err, workflow.ErrSessionNotFound) {
		w.logger.Debug("inbox session not ended", logging.String(logging.FieldSessionID, sessionID), logging.Error(err))
	}
}

func (w *Watcher) accepts(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range w.cfg.Extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func (w *Watcher) processedDir() string {
	return filepath.Join(w.cfg.OutboxDir, processedDirName)
}
