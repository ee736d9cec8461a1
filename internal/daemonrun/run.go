package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"counsel/internal/config"
	"counsel/internal/daemon"
	"counsel/internal/inbox"
	"counsel/internal/logging"
	"counsel/internal/notifications"
	"counsel/internal/preflight"
)

const shutdownTimeout = 10 * time.Second

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// SkipPreflight suppresses the startup readiness report.
	SkipPreflight bool
}

// Run starts the counsel daemon and blocks until ctx ends or a signal
// arrives, then drains sessions and releases every resource.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.Development {
		cfg.Logging.Development = true
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "counseld.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	logConfigSnapshot(logger, cfg)
	if !opts.SkipPreflight {
		logPreflight(signalCtx, logger, cfg)
	}

	rt, err := Build(signalCtx, cfg, logger, BuildOptions{})
	if err != nil {
		logger.Error("build runtime", logging.Error(err))
		return err
	}
	defer rt.Close()

	d, err := daemon.New(cfg, rt.Manager, rt.Cache, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check api_bind and that no other counsel daemon is running"),
		)
		drain(rt, logger)
		return err
	}

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		rt.Store.Run(groupCtx, cfg.PurgeInterval())
		return nil
	})
	group.Go(func() error {
		rt.Manager.Run(groupCtx, cfg.PurgeInterval())
		return nil
	})
	if rt.Cache != nil {
		group.Go(func() error {
			purgeCache(groupCtx, rt.Cache, cfg.CacheTTL()/24, logger)
			return nil
		})
	}
	if cfg.Inbox.Enabled {
		watcher, err := inbox.New(inbox.Config{
			Dir:       cfg.Inbox.Dir,
			OutboxDir: cfg.Inbox.OutboxDir,
			Notifier:  notifications.NewService(cfg),
		}, rt.Manager, logger)
		if err != nil {
			drain(rt, logger)
			return fmt.Errorf("create inbox watcher: %w", err)
		}
		group.Go(func() error {
			return watcher.Run(groupCtx)
		})
	}

	err = group.Wait()
	logger.Info("counsel daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	d.Stop()
	drain(rt, logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func drain(rt *Runtime, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	rt.Manager.Shutdown(ctx)
	if ctx.Err() != nil {
		logger.Warn("sessions did not drain before shutdown timeout", logging.Duration("timeout", shutdownTimeout))
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	provider := cfg.LLM.Provider
	model := cfg.LLM.Model
	if cfg.UsesVertex() {
		model = cfg.Vertex.Model
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("inference_provider", provider),
		logging.String("model", model),
		logging.String("privacy_engine", cfg.Privacy.Engine),
		logging.Bool("parser_sidecar", cfg.Parser.URL != ""),
		logging.Bool("cache_enabled", cfg.Cache.Enabled),
		logging.Bool("inbox_enabled", cfg.Inbox.Enabled),
		logging.Bool("api_token_set", cfg.Paths.APIToken != ""),
		logging.String("api_bind", cfg.Paths.APIBind),
	)
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, result := range preflight.RunAll(ctx, cfg) {
		if result.Passed {
			logger.Info("preflight check passed",
				logging.String(logging.FieldEventType, "preflight"),
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "sessions depending on this collaborator will fail"),
		)
	}
}
