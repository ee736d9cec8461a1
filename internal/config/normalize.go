package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLLM()
	c.normalizeVertex()
	c.normalizePrivacy()
	c.normalizeParser()
	c.normalizeAnalysis()
	if err := c.normalizeExtract(); err != nil {
		return err
	}
	if err := c.normalizeCache(); err != nil {
		return err
	}
	if err := c.normalizeInbox(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		c.Notifications.NtfyTopic = strings.TrimSpace(os.Getenv("COUNSEL_NTFY_TOPIC"))
	}
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNotifyTimeout
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = DefaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		c.Paths.APIToken = envValue("COUNSEL_API_TOKEN")
	}
	return nil
}

func (c *Config) normalizeLLM() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderOpenRouter
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.Title == "" {
		c.LLM.Title = defaultLLMTitle
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if c.LLM.RequestsPerMinute < 0 {
		c.LLM.RequestsPerMinute = 0
	}
	if c.LLM.ChatTemperature <= 0 {
		c.LLM.ChatTemperature = defaultChatTemperature
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = envValue("COUNSEL_LLM_API_KEY", "OPENROUTER_API_KEY")
	}
}

func (c *Config) normalizeVertex() {
	c.Vertex.Project = strings.TrimSpace(c.Vertex.Project)
	if c.Vertex.Project == "" {
		c.Vertex.Project = envValue("GOOGLE_CLOUD_PROJECT")
	}
	c.Vertex.Region = strings.TrimSpace(c.Vertex.Region)
	if c.Vertex.Region == "" {
		c.Vertex.Region = defaultVertexRegion
	}
	c.Vertex.Model = strings.TrimSpace(c.Vertex.Model)
	if c.Vertex.Model == "" {
		c.Vertex.Model = defaultVertexModel
	}
}

func (c *Config) normalizePrivacy() {
	c.Privacy.Engine = strings.ToLower(strings.TrimSpace(c.Privacy.Engine))
	if c.Privacy.Engine == "" {
		c.Privacy.Engine = EnginePresidio
	}
	if value := envValue("PRESIDIO_URL"); value != "" && (c.Privacy.URL == "" || c.Privacy.URL == defaultPresidioURL) {
		c.Privacy.URL = value
	}
	c.Privacy.URL = strings.TrimRight(strings.TrimSpace(c.Privacy.URL), "/")
	c.Privacy.Language = strings.ToLower(strings.TrimSpace(c.Privacy.Language))
	if c.Privacy.Language == "" {
		c.Privacy.Language = defaultPrivacyLanguage
	}
	entities := make([]string, 0, len(c.Privacy.Entities))
	seen := make(map[string]struct{}, len(c.Privacy.Entities))
	for _, entity := range c.Privacy.Entities {
		normalized := strings.ToUpper(strings.TrimSpace(entity))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		entities = append(entities, normalized)
	}
	if len(entities) == 0 {
		entities = append(entities, defaultPrivacyEntities...)
	}
	c.Privacy.Entities = entities
	if c.Privacy.TimeoutSeconds <= 0 {
		c.Privacy.TimeoutSeconds = defaultPrivacyTimeout
	}
}

func (c *Config) normalizeParser() {
	c.Parser.URL = strings.TrimRight(strings.TrimSpace(c.Parser.URL), "/")
	c.Parser.APIKey = strings.TrimSpace(c.Parser.APIKey)
	if c.Parser.MaxBytes <= 0 {
		c.Parser.MaxBytes = defaultParserMaxBytes
	}
	if c.Parser.MaxPages < 0 {
		c.Parser.MaxPages = 0
	}
	if c.Parser.TimeoutSeconds <= 0 {
		c.Parser.TimeoutSeconds = defaultParserTimeout
	}
}

func (c *Config) normalizeAnalysis() {
	if c.Analysis.MaxInputChars <= 0 {
		c.Analysis.MaxInputChars = defaultMaxInputChars
	}
	c.Analysis.PromptVersion = strings.TrimSpace(c.Analysis.PromptVersion)
	if c.Analysis.PromptVersion == "" {
		c.Analysis.PromptVersion = defaultPromptVersion
	}
	if c.Analysis.ChatAttempts <= 0 {
		c.Analysis.ChatAttempts = defaultChatAttempts
	}
	if c.Analysis.ChatHistory <= 0 {
		c.Analysis.ChatHistory = defaultChatHistory
	}
	if c.Analysis.DisconnectGraceSeconds < 0 {
		c.Analysis.DisconnectGraceSeconds = 0
	}
	if c.Inference.TimeoutSeconds <= 0 {
		c.Inference.TimeoutSeconds = defaultInferenceTimeout
	}
	if c.Inference.ChatTimeoutSeconds <= 0 {
		c.Inference.ChatTimeoutSeconds = defaultChatTimeout
	}
}

func (c *Config) normalizeExtract() error {
	c.Extract.Similarity = strings.ToLower(strings.TrimSpace(c.Extract.Similarity))
	if c.Extract.Similarity == "" {
		c.Extract.Similarity = defaultExtractSimilarity
	}
	c.Extract.Conflict = strings.ToLower(strings.TrimSpace(c.Extract.Conflict))
	if c.Extract.Conflict == "" {
		c.Extract.Conflict = defaultExtractConflict
	}
	if strings.TrimSpace(c.Extract.LabelsFile) == "" {
		c.Extract.LabelsFile = ""
		return nil
	}
	var err error
	if c.Extract.LabelsFile, err = expandPath(strings.TrimSpace(c.Extract.LabelsFile)); err != nil {
		return fmt.Errorf("extract.labels_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeCache() error {
	var err error
	if strings.TrimSpace(c.Cache.Path) == "" {
		c.Cache.Path = defaultCachePath()
	}
	if c.Cache.Path, err = expandPath(c.Cache.Path); err != nil {
		return fmt.Errorf("cache.path: %w", err)
	}
	if c.Cache.TTLHours <= 0 {
		c.Cache.TTLHours = defaultCacheTTLHours
	}
	return nil
}

func (c *Config) normalizeInbox() error {
	var err error
	if strings.TrimSpace(c.Inbox.Dir) == "" {
		c.Inbox.Dir = defaultInboxDir
	}
	if c.Inbox.Dir, err = expandPath(c.Inbox.Dir); err != nil {
		return fmt.Errorf("inbox.dir: %w", err)
	}
	if strings.TrimSpace(c.Inbox.OutboxDir) == "" {
		c.Inbox.OutboxDir = defaultOutboxDir
	}
	if c.Inbox.OutboxDir, err = expandPath(c.Inbox.OutboxDir); err != nil {
		return fmt.Errorf("inbox.outbox_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// envValue returns the first non-empty environment variable among keys.
func envValue(keys ...string) string {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
