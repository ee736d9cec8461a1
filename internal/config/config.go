package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// LLM contains the inference provider connection settings.
type LLM struct {
	// Provider selects the backend: "openrouter" (any OpenAI-compatible
	// endpoint) or "vertex". Default: openrouter
	Provider          string  `toml:"provider"`
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	Model             string  `toml:"model"`
	Referer           string  `toml:"referer"`
	Title             string  `toml:"title"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerMinute int     `toml:"requests_per_minute"`
	JSONMode          bool    `toml:"json_mode"`
	ChatTemperature   float64 `toml:"chat_temperature"`
}

// Vertex contains Vertex AI settings used when llm.provider is "vertex".
type Vertex struct {
	Project string `toml:"project"`
	Region  string `toml:"region"`
	Model   string `toml:"model"`
}

// Inference bounds the time the orchestrator waits for the model.
type Inference struct {
	TimeoutSeconds     int `toml:"timeout_seconds"`
	ChatTimeoutSeconds int `toml:"chat_timeout_seconds"`
}

// Privacy selects and configures the PII detector.
type Privacy struct {
	// Engine is "presidio", "patterns" (built-in regular expressions) or
	// "passthrough" (no anonymization, development only).
	Engine         string   `toml:"engine"`
	URL            string   `toml:"url"`
	Language       string   `toml:"language"`
	Entities       []string `toml:"entities"`
	ScoreThreshold float64  `toml:"score_threshold"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Parser configures text extraction from uploads.
type Parser struct {
	// URL of a docling-serve instance. PDF and DOCX-with-images uploads
	// are rejected when empty.
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	MaxBytes       int64  `toml:"max_bytes"`
	MaxPages       int    `toml:"max_pages"`
	ValidatePDF    bool   `toml:"validate_pdf"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Analysis configures the orchestrator.
type Analysis struct {
	MaxInputChars          int    `toml:"max_input_chars"`
	PromptVersion          string `toml:"prompt_version"`
	ChatAttempts           int    `toml:"chat_attempts"`
	ChatHistory            int    `toml:"chat_history"`
	MaxSessions            int    `toml:"max_sessions"`
	SessionTTLMinutes      int    `toml:"session_ttl_minutes"`
	DisconnectGraceSeconds int    `toml:"disconnect_grace_seconds"`
}

// Extract configures the extraction normalizer.
type Extract struct {
	// Threshold is the minimum similarity for a fuzzy key match. Default: 0.8
	Threshold float64 `toml:"threshold"`
	// Similarity is "edit", "token" or "hybrid". Default: edit
	Similarity string `toml:"similarity"`
	// Conflict decides which value wins when a field is labelled twice:
	// "first", "last" or "merge". Default: first
	Conflict   string `toml:"conflict"`
	LabelsFile string `toml:"labels_file"`
}

// Store configures the in-memory document store.
type Store struct {
	TTLMinutes           int `toml:"ttl_minutes"`
	LockTimeoutSeconds   int `toml:"lock_timeout_seconds"`
	PurgeIntervalSeconds int `toml:"purge_interval_seconds"`
}

// Cache configures the analysis idempotency cache.
type Cache struct {
	Enabled  bool   `toml:"enabled"`
	Path     string `toml:"path"`
	TTLHours int    `toml:"ttl_hours"`
}

// Inbox configures watch-folder ingestion.
type Inbox struct {
	Enabled   bool   `toml:"enabled"`
	Dir       string `toml:"dir"`
	OutboxDir string `toml:"outbox_dir"`
}

// Notifications configures ntfy alerts for unattended inbox analyses.
type Notifications struct {
	// NtfyTopic is the full topic URL, e.g. https://ntfy.sh/my-counsel.
	// Empty disables notifications.
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains log output settings.
type Logging struct {
	Format      string `toml:"format"`
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Config encapsulates all configuration values for counsel.
//
// Configuration sections by subsystem:
//   - Paths: log directory and API bind address
//   - LLM and Vertex: inference provider connection
//   - Inference: analysis and chat timeouts
//   - Privacy: PII detection engine
//   - Parser: upload limits and the PDF conversion sidecar
//   - Analysis: orchestrator limits and chat behaviour
//   - Extract: normalizer tuning
//   - Store: document TTL and lock timeout
//   - Cache: analysis cache location and retention
//   - Inbox: watch-folder ingestion
//   - Notifications: ntfy alerts for inbox results
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	LLM           LLM           `toml:"llm"`
	Vertex        Vertex        `toml:"vertex"`
	Inference     Inference     `toml:"inference"`
	Privacy       Privacy       `toml:"privacy"`
	Parser        Parser        `toml:"parser"`
	Analysis      Analysis      `toml:"analysis"`
	Extract       Extract       `toml:"extract"`
	Store         Store         `toml:"store"`
	Cache         Cache         `toml:"cache"`
	Inbox         Inbox         `toml:"inbox"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				keys := make([]string, 0, len(strict.Errors))
				for _, keyErr := range strict.Errors {
					keys = append(keys, strings.Join(keyErr.Key(), "."))
				}
				return nil, "", false, fmt.Errorf("parse config: unknown keys %s", strings.Join(keys, ", "))
			}
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("counsel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.LogDir}
	if c.Cache.Enabled && strings.TrimSpace(c.Cache.Path) != "" {
		dirs = append(dirs, filepath.Dir(c.Cache.Path))
	}
	if c.Inbox.Enabled {
		dirs = append(dirs, c.Inbox.Dir, c.Inbox.OutboxDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultCachePath() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "counsel", "analysis.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.cache/counsel/analysis.db"
	}
	return filepath.Join(home, ".cache", "counsel", "analysis.db")
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains the OpenAI-compatible connection settings.
type LLMConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Referer           string
	Title             string
	TimeoutSeconds    int
	RequestsPerMinute int
	JSONMode          bool
	ChatTemperature   float64
}

// GetLLM returns the trimmed [llm] settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		APIKey:            strings.TrimSpace(c.LLM.APIKey),
		BaseURL:           strings.TrimSpace(c.LLM.BaseURL),
		Model:             strings.TrimSpace(c.LLM.Model),
		Referer:           strings.TrimSpace(c.LLM.Referer),
		Title:             strings.TrimSpace(c.LLM.Title),
		TimeoutSeconds:    c.LLM.TimeoutSeconds,
		RequestsPerMinute: c.LLM.RequestsPerMinute,
		JSONMode:          c.LLM.JSONMode,
		ChatTemperature:   c.LLM.ChatTemperature,
	}
}

// UsesVertex reports whether inference goes through Vertex AI.
func (c *Config) UsesVertex() bool {
	return c.LLM.Provider == ProviderVertex
}

// InferenceTimeout returns the analysis call timeout.
func (c *Config) InferenceTimeout() time.Duration {
	return seconds(c.Inference.TimeoutSeconds)
}

// ChatTimeout returns the per-attempt chat call timeout.
func (c *Config) ChatTimeout() time.Duration {
	return seconds(c.Inference.ChatTimeoutSeconds)
}

// PrivacyTimeout returns the anonymization call timeout.
func (c *Config) PrivacyTimeout() time.Duration {
	return seconds(c.Privacy.TimeoutSeconds)
}

// ParserTimeout returns the text extraction timeout.
func (c *Config) ParserTimeout() time.Duration {
	return seconds(c.Parser.TimeoutSeconds)
}

// SessionTTL returns how long an idle session survives.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Analysis.SessionTTLMinutes) * time.Minute
}

// DisconnectGrace returns how long a session waits for a stream consumer to
// reattach before it is cancelled.
func (c *Config) DisconnectGrace() time.Duration {
	return seconds(c.Analysis.DisconnectGraceSeconds)
}

// DocumentTTL returns the document store retention.
func (c *Config) DocumentTTL() time.Duration {
	return time.Duration(c.Store.TTLMinutes) * time.Minute
}

// LockTimeout returns the document store exclusive section timeout.
func (c *Config) LockTimeout() time.Duration {
	return seconds(c.Store.LockTimeoutSeconds)
}

// NotificationTimeout bounds one ntfy request.
func (c *Config) NotificationTimeout() time.Duration {
	return seconds(c.Notifications.RequestTimeoutSeconds)
}

// PurgeInterval returns how often expired documents are swept.
func (c *Config) PurgeInterval() time.Duration {
	return seconds(c.Store.PurgeIntervalSeconds)
}

// CacheTTL returns the analysis cache retention.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLHours) * time.Hour
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
