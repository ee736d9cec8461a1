package preflight

import (
	"context"

	"counsel/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Log directory (always checked)
	results = append(results, CheckCreatableDirectory("Log directory", cfg.Paths.LogDir))

	if cfg.Inbox.Enabled {
		results = append(results,
			CheckCreatableDirectory("Inbox directory", cfg.Inbox.Dir),
			CheckCreatableDirectory("Outbox directory", cfg.Inbox.OutboxDir),
		)
	}

	if cfg.Cache.Enabled {
		results = append(results, CheckCache(ctx, cfg.Cache.Path))
	}

	results = append(results, CheckInferenceFromConfig(ctx, cfg))
	results = append(results, CheckPrivacyFromConfig(ctx, cfg))
	results = append(results, CheckParser(ctx, cfg.Parser.URL, cfg.Parser.APIKey))

	return results
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}
