package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"counsel/internal/cache"
	"counsel/internal/config"
	"counsel/internal/docstore"
	"counsel/internal/extract"
	"counsel/internal/logging"
	"counsel/internal/privacy"
	"counsel/internal/retrieval"
	"counsel/internal/services/docparse"
	"counsel/internal/services/llm"
	"counsel/internal/services/presidio"
	"counsel/internal/services/vertex"
	"counsel/internal/workflow"
)

// Runtime bundles the collaborators built from a config. The CLI builds one
// for in-process analysis; the daemon builds one and serves it.
type Runtime struct {
	Manager *workflow.Manager
	Store   *docstore.Store
	Cache   *cache.Cache

	closers []func() error
}

// Close releases the cache and provider connections. Call Manager.Shutdown
// first.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildOptions tune Build for non-daemon callers.
type BuildOptions struct {
	// DisableCache skips opening the analysis cache even when enabled.
	DisableCache bool
}

// Build wires the configured parser, privacy engine, inference provider,
// document store, normalizer and cache into a workflow manager.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts BuildOptions) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	rt := &Runtime{}
	fail := func(err error) (*Runtime, error) {
		_ = rt.Close()
		return nil, err
	}

	probes := make(map[string]workflow.HealthChecker)
	inference, err := buildInference(ctx, cfg, rt)
	if err != nil {
		return fail(err)
	}
	privacyEngine, err := buildPrivacy(cfg, logger, probes)
	if err != nil {
		return fail(err)
	}
	parser := buildParser(cfg, logger, probes)

	normalizer, err := buildNormalizer(cfg, logger)
	if err != nil {
		return fail(err)
	}

	rt.Store = docstore.New(
		docstore.WithTTL(cfg.DocumentTTL()),
		docstore.WithLockTimeout(cfg.LockTimeout()),
		docstore.WithLogger(logger),
	)

	deps := workflow.Dependencies{
		Parser:     parser,
		Privacy:    privacyEngine,
		Inference:  inference,
		Store:      rt.Store,
		Normalizer: normalizer,
		Retriever:  retrieval.NewRetriever(retrieval.DefaultChunkSize, retrieval.DefaultChunkOverlap, retrieval.DefaultTopK),
		Probes:     probes,
	}
	if cfg.Cache.Enabled && !opts.DisableCache {
		analysisCache, err := cache.Open(cfg.Cache.Path, cache.WithTTL(cfg.CacheTTL()))
		if err != nil {
			return fail(fmt.Errorf("open analysis cache: %w", err))
		}
		rt.Cache = analysisCache
		rt.closers = append(rt.closers, analysisCache.Close)
		deps.Cache = analysisCache
	}

	rt.Manager, err = workflow.NewManager(ManagerConfig(cfg), deps, logger)
	if err != nil {
		return fail(err)
	}
	return rt, nil
}

// ManagerConfig maps the [analysis] and timeout settings onto the
// orchestrator.
func ManagerConfig(cfg *config.Config) workflow.Config {
	return workflow.Config{
		ParseTimeout:     cfg.ParserTimeout(),
		PrivacyTimeout:   cfg.PrivacyTimeout(),
		InferenceTimeout: cfg.InferenceTimeout(),
		ChatTimeout:      cfg.ChatTimeout(),
		MaxInputChars:    cfg.Analysis.MaxInputChars,
		ChatAttempts:     cfg.Analysis.ChatAttempts,
		ChatHistory:      cfg.Analysis.ChatHistory,
		SessionTTL:       cfg.SessionTTL(),
		MaxSessions:      cfg.Analysis.MaxSessions,
		PromptVersion:    cfg.Analysis.PromptVersion,
		DisconnectGrace:  cfg.DisconnectGrace(),
	}
}

func buildInference(ctx context.Context, cfg *config.Config, rt *Runtime) (workflow.InferenceProvider, error) {
	if cfg.UsesVertex() {
		provider, err := vertex.New(ctx, vertex.Config{
			Project:         cfg.Vertex.Project,
			Region:          cfg.Vertex.Region,
			Model:           cfg.Vertex.Model,
			ChatTemperature: float32(cfg.LLM.ChatTemperature),
		})
		if err != nil {
			return nil, fmt.Errorf("connect vertex ai: %w", err)
		}
		rt.closers = append(rt.closers, provider.Close)
		return provider, nil
	}
	settings := cfg.GetLLM()
	return llm.NewClient(llm.Config{
		APIKey:          settings.APIKey,
		BaseURL:         settings.BaseURL,
		Model:           settings.Model,
		Referer:         settings.Referer,
		Title:           settings.Title,
		TimeoutSeconds:  settings.TimeoutSeconds,
		JSONMode:        settings.JSONMode,
		ChatTemperature: settings.ChatTemperature,
	}, llm.WithRequestsPerMinute(settings.RequestsPerMinute)), nil
}

func buildPrivacy(cfg *config.Config, logger *slog.Logger, probes map[string]workflow.HealthChecker) (*privacy.Anonymizer, error) {
	opts := []privacy.Option{
		privacy.WithMinScore(cfg.Privacy.ScoreThreshold),
		privacy.WithLogger(logger),
	}
	switch cfg.Privacy.Engine {
	case config.EnginePresidio:
		client := presidio.NewClient(presidio.Config{
			BaseURL:        cfg.Privacy.URL,
			Language:       cfg.Privacy.Language,
			Entities:       cfg.Privacy.Entities,
			ScoreThreshold: cfg.Privacy.ScoreThreshold,
			TimeoutSeconds: cfg.Privacy.TimeoutSeconds,
		})
		probes["privacy"] = client
		return privacy.NewAnonymizer(client, opts...), nil
	case config.EnginePatterns:
		return privacy.NewAnonymizer(privacy.NewPatternDetector(cfg.Privacy.Entities...), opts...), nil
	case config.EnginePassthrough:
		logger.Warn("privacy engine disabled",
			logging.String(logging.FieldEventType, "privacy_passthrough"),
			logging.String(logging.FieldImpact, "documents reach the inference provider unredacted"),
		)
		return privacy.NewAnonymizer(nil, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported privacy engine %q", cfg.Privacy.Engine)
	}
}

func buildParser(cfg *config.Config, logger *slog.Logger, probes map[string]workflow.HealthChecker) *docparse.Parser {
	opts := []docparse.Option{
		docparse.WithMaxBytes(cfg.Parser.MaxBytes),
		docparse.WithMaxPages(cfg.Parser.MaxPages),
		docparse.WithPDFValidation(cfg.Parser.ValidatePDF),
		docparse.WithLogger(logger),
	}
	if cfg.Parser.URL != "" {
		sidecar := docparse.NewSidecar(docparse.SidecarConfig{
			BaseURL:        cfg.Parser.URL,
			APIKey:         cfg.Parser.APIKey,
			TimeoutSeconds: cfg.Parser.TimeoutSeconds,
		}, nil)
		probes["parser"] = sidecar
		opts = append(opts, docparse.WithSidecar(sidecar))
	}
	return docparse.New(opts...)
}

func buildNormalizer(cfg *config.Config, logger *slog.Logger) (*extract.Normalizer, error) {
	opts, err := NormalizerOptions(cfg, logger)
	if err != nil {
		return nil, err
	}
	return extract.NewNormalizer(opts...), nil
}

// NormalizerOptions translates the [extract] section into normalizer options.
func NormalizerOptions(cfg *config.Config, logger *slog.Logger) ([]extract.Option, error) {
	similarity, err := extract.ParseSimilarity(cfg.Extract.Similarity)
	if err != nil {
		return nil, err
	}
	policy, err := extract.ParseConflictPolicy(cfg.Extract.Conflict)
	if err != nil {
		return nil, err
	}
	opts := []extract.Option{
		extract.WithThreshold(cfg.Extract.Threshold),
		extract.WithSimilarity(similarity),
		extract.WithConflictPolicy(policy),
	}
	if logger != nil {
		opts = append(opts, extract.WithLogger(logger))
	}
	if cfg.Extract.LabelsFile != "" {
		labels, err := extract.LoadLabels(cfg.Extract.LabelsFile)
		if err != nil {
			return nil, fmt.Errorf("load extraction labels: %w", err)
		}
		opts = append(opts, extract.WithLabels(labels))
	}
	return opts, nil
}

// purgeCache drops expired cache entries every interval until ctx ends.
func purgeCache(ctx context.Context, c *cache.Cache, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := c.Purge(ctx)
			if err != nil {
				logger.Warn("cache purge failed", logging.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("purged expired cache entries",
					logging.String(logging.FieldEventType, "cache_purged"),
					logging.Int("count", removed),
				)
			}
		}
	}
}
