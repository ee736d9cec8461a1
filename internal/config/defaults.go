package config

// Provider names accepted by llm.provider.
const (
	ProviderOpenRouter = "openrouter"
	ProviderVertex     = "vertex"
)

// Privacy engines accepted by privacy.engine.
const (
	EnginePresidio    = "presidio"
	EnginePatterns    = "patterns"
	EnginePassthrough = "passthrough"
)

const (
	defaultConfigPath             = "~/.config/counsel/config.toml"
	defaultLogDir                 = "~/.local/share/counsel/logs"
	DefaultAPIBind                = "127.0.0.1:7495"
	defaultLLMBaseURL             = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel               = "google/gemini-2.5-flash"
	defaultLLMTitle               = "Counsel"
	defaultLLMTimeoutSeconds      = 120
	defaultLLMRequestsPerMinute   = 60
	defaultChatTemperature        = 0.3
	defaultVertexRegion           = "us-central1"
	defaultVertexModel            = "gemini-1.5-pro"
	defaultInferenceTimeout       = 120
	defaultChatTimeout            = 60
	defaultPresidioURL            = "http://127.0.0.1:5002"
	defaultPrivacyLanguage        = "en"
	defaultPrivacyScoreThreshold  = 0.5
	defaultPrivacyTimeout         = 30
	defaultParserMaxBytes         = 20 << 20
	defaultParserMaxPages         = 200
	defaultParserTimeout          = 60
	defaultMaxInputChars          = 15000
	defaultPromptVersion          = "v1"
	defaultChatAttempts           = 2
	defaultChatHistory            = 12
	defaultMaxSessions            = 64
	defaultSessionTTLMinutes      = 30
	defaultDisconnectGraceSeconds = 5
	defaultExtractThreshold       = 0.8
	defaultExtractSimilarity      = "edit"
	defaultExtractConflict        = "first"
	defaultStoreTTLMinutes        = 60
	defaultStoreLockTimeout       = 5
	defaultStorePurgeInterval     = 60
	defaultCacheTTLHours          = 24 * 7
	defaultInboxDir               = "~/counsel/inbox"
	defaultOutboxDir              = "~/counsel/outbox"
	defaultNotifyTimeout          = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

var defaultPrivacyEntities = []string{"PERSON", "PHONE_NUMBER", "EMAIL_ADDRESS", "LOCATION"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:  defaultLogDir,
			APIBind: DefaultAPIBind,
		},
		LLM: LLM{
			Provider:          ProviderOpenRouter,
			BaseURL:           defaultLLMBaseURL,
			Model:             defaultLLMModel,
			Title:             defaultLLMTitle,
			TimeoutSeconds:    defaultLLMTimeoutSeconds,
			RequestsPerMinute: defaultLLMRequestsPerMinute,
			JSONMode:          true,
			ChatTemperature:   defaultChatTemperature,
		},
		Vertex: Vertex{
			Region: defaultVertexRegion,
			Model:  defaultVertexModel,
		},
		Inference: Inference{
			TimeoutSeconds:     defaultInferenceTimeout,
			ChatTimeoutSeconds: defaultChatTimeout,
		},
		Privacy: Privacy{
			Engine:         EnginePresidio,
			URL:            defaultPresidioURL,
			Language:       defaultPrivacyLanguage,
			Entities:       append([]string(nil), defaultPrivacyEntities...),
			ScoreThreshold: defaultPrivacyScoreThreshold,
			TimeoutSeconds: defaultPrivacyTimeout,
		},
		Parser: Parser{
			MaxBytes:       defaultParserMaxBytes,
			MaxPages:       defaultParserMaxPages,
			ValidatePDF:    true,
			TimeoutSeconds: defaultParserTimeout,
		},
		Analysis: Analysis{
			MaxInputChars:          defaultMaxInputChars,
			PromptVersion:          defaultPromptVersion,
			ChatAttempts:           defaultChatAttempts,
			ChatHistory:            defaultChatHistory,
			MaxSessions:            defaultMaxSessions,
			SessionTTLMinutes:      defaultSessionTTLMinutes,
			DisconnectGraceSeconds: defaultDisconnectGraceSeconds,
		},
		Extract: Extract{
			Threshold:  defaultExtractThreshold,
			Similarity: defaultExtractSimilarity,
			Conflict:   defaultExtractConflict,
		},
		Store: Store{
			TTLMinutes:           defaultStoreTTLMinutes,
			LockTimeoutSeconds:   defaultStoreLockTimeout,
			PurgeIntervalSeconds: defaultStorePurgeInterval,
		},
		Cache: Cache{
			Enabled:  true,
			Path:     defaultCachePath(),
			TTLHours: defaultCacheTTLHours,
		},
		Inbox: Inbox{
			Dir:       defaultInboxDir,
			OutboxDir: defaultOutboxDir,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
