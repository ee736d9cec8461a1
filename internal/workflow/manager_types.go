package workflow

import (
	"context"
	"time"

	"counsel/internal/analysis"
	"counsel/internal/cache"
	"counsel/internal/privacy"
	"counsel/internal/services/docparse"
	"counsel/internal/services/llm"
	"counsel/internal/session"
)

// DocumentParser turns uploaded bytes into layout-aware text.
type DocumentParser interface {
	Parse(ctx context.Context, filename string, data []byte) (docparse.Parsed, error)
}

// PrivacyEngine produces anonymized text and the map that reverses it.
type PrivacyEngine interface {
	Anonymize(ctx context.Context, text string) (privacy.Result, error)
}

// InferenceProvider runs the single analysis pass and chat turns.
type InferenceProvider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Chat(ctx context.Context, messages []llm.Message) (string, error)
	Model() string
}

// AnalysisCache stores raw inference output keyed by the anonymized input.
type AnalysisCache interface {
	Get(ctx context.Context, key string) (cache.Entry, bool, error)
	Put(ctx context.Context, entry cache.Entry) error
}

// Submission is one uploaded document.
type Submission struct {
	Filename string
	Data     []byte
	// RequestID correlates the session with the inbound request in logs.
	RequestID string
}

// Result is the client-facing view of a session. Record and Brief are
// de-anonymized.
type Result struct {
	SessionID string
	Filename  string
	State     session.State
	Reason    session.Reason
	Retryable bool
	Message   string
	Progress  int
	Record    *analysis.Record
	Brief     string
	Cached    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the session can no longer change state.
func (r Result) Terminal() bool { return r.State.Terminal() }
