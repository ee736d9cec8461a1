package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validatePrivacy(); err != nil {
		return err
	}
	if err := c.validateTimeouts(); err != nil {
		return err
	}
	if err := c.validateExtract(); err != nil {
		return err
	}
	if err := c.validateInbox(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLLM() error {
	switch c.LLM.Provider {
	case ProviderOpenRouter:
		if c.LLM.APIKey == "" {
			defaultPath, err := DefaultConfigPath()
			if err != nil {
				defaultPath = defaultConfigPath
			}
			return fmt.Errorf("llm.api_key is required. Set COUNSEL_LLM_API_KEY or OPENROUTER_API_KEY, or edit %s (create with 'counsel config init')", defaultPath)
		}
	case ProviderVertex:
		if c.Vertex.Project == "" {
			return errors.New("vertex.project must be set when llm.provider is vertex (or set GOOGLE_CLOUD_PROJECT)")
		}
	default:
		return fmt.Errorf("llm.provider %q is not supported (want openrouter or vertex)", c.LLM.Provider)
	}
	if c.LLM.ChatTemperature > 2 {
		return errors.New("llm.chat_temperature must be between 0 and 2")
	}
	return nil
}

func (c *Config) validatePrivacy() error {
	switch c.Privacy.Engine {
	case EnginePresidio:
		if c.Privacy.URL == "" {
			return errors.New("privacy.url must be set when privacy.engine is presidio (or set PRESIDIO_URL)")
		}
	case EnginePatterns, EnginePassthrough:
	default:
		return fmt.Errorf("privacy.engine %q is not supported (want presidio, patterns, or passthrough)", c.Privacy.Engine)
	}
	if c.Privacy.ScoreThreshold < 0 || c.Privacy.ScoreThreshold > 1 {
		return errors.New("privacy.score_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateTimeouts() error {
	if err := ensurePositiveMap(map[string]int{
		"inference.timeout_seconds":      c.Inference.TimeoutSeconds,
		"inference.chat_timeout_seconds": c.Inference.ChatTimeoutSeconds,
		"analysis.max_sessions":          c.Analysis.MaxSessions,
		"analysis.session_ttl_minutes":   c.Analysis.SessionTTLMinutes,
		"store.ttl_minutes":              c.Store.TTLMinutes,
		"store.lock_timeout_seconds":     c.Store.LockTimeoutSeconds,
		"store.purge_interval_seconds":   c.Store.PurgeIntervalSeconds,
		"parser.timeout_seconds":         c.Parser.TimeoutSeconds,
		"privacy.timeout_seconds":        c.Privacy.TimeoutSeconds,
		"analysis.max_input_chars":       c.Analysis.MaxInputChars,
		"analysis.chat_attempts":         c.Analysis.ChatAttempts,
		"analysis.chat_history":          c.Analysis.ChatHistory,
		"llm.timeout_seconds":            c.LLM.TimeoutSeconds,
		"cache.ttl_hours":                c.Cache.TTLHours,
	}); err != nil {
		return err
	}
	if c.Store.TTLMinutes < c.Analysis.SessionTTLMinutes {
		return errors.New("store.ttl_minutes must be at least analysis.session_ttl_minutes")
	}
	return nil
}

func (c *Config) validateExtract() error {
	if c.Extract.Threshold <= 0 || c.Extract.Threshold > 1 {
		return errors.New("extract.threshold must be greater than 0 and at most 1")
	}
	switch c.Extract.Similarity {
	case "edit", "levenshtein", "token", "cosine", "hybrid":
	default:
		return fmt.Errorf("extract.similarity %q is not supported (want edit, token, or hybrid)", c.Extract.Similarity)
	}
	switch c.Extract.Conflict {
	case "first", "last", "merge":
	default:
		return fmt.Errorf("extract.conflict %q is not supported (want first, last, or merge)", c.Extract.Conflict)
	}
	return nil
}

func (c *Config) validateInbox() error {
	if !c.Inbox.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Inbox.Dir) == "" || strings.TrimSpace(c.Inbox.OutboxDir) == "" {
		return errors.New("inbox.dir and inbox.outbox_dir must be set when inbox.enabled is true")
	}
	if c.Inbox.Dir == c.Inbox.OutboxDir {
		return errors.New("inbox.outbox_dir must differ from inbox.dir")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
