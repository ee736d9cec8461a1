package preflight

import (
	"context"
	"fmt"
	"path/filepath"

	"counsel/internal/cache"
	"counsel/internal/config"
)

// CheckInferenceFromConfig evaluates the configured inference provider.
// Vertex AI is only checked for a project because credentials are resolved
// lazily by the SDK.
func CheckInferenceFromConfig(ctx context.Context, cfg *config.Config) Result {
	const name = "Inference"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if cfg.UsesVertex() {
		if cfg.Vertex.Project == "" {
			return Result{Name: name, Detail: "Vertex AI project missing"}
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("Vertex AI %s in %s/%s", cfg.Vertex.Model, cfg.Vertex.Project, cfg.Vertex.Region)}
	}
	check := CheckLLM(ctx, name, cfg.GetLLM())
	return Result{Name: name, Passed: check.Passed, Detail: check.Detail}
}

// CheckPrivacyFromConfig evaluates the configured PII engine.
func CheckPrivacyFromConfig(ctx context.Context, cfg *config.Config) Result {
	const name = "Privacy engine"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	switch cfg.Privacy.Engine {
	case config.EnginePatterns:
		return Result{Name: name, Passed: true, Detail: "Built-in patterns"}
	case config.EnginePassthrough:
		return Result{Name: name, Detail: "Passthrough (documents reach inference unredacted)"}
	default:
		return CheckPresidio(ctx, cfg.Privacy.URL)
	}
}

// CheckCache opens the analysis cache and reports its occupancy.
func CheckCache(ctx context.Context, path string) Result {
	const name = "Analysis cache"

	dir := CheckCreatableDirectory(name, filepath.Dir(path))
	if !dir.Passed {
		return dir
	}
	store, err := cache.Open(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	defer store.Close()

	stats, err := store.Stats(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d entries)", path, stats.Entries)}
}
