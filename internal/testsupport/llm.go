package testsupport

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"counsel/internal/analysis"
	"counsel/internal/services/llm"
)

// ChatReply is what the stub model answers to chat turns.
const ChatReply = "Clause 1 stops you working for a competitor for two years."

// SampleRecord is the analysis the stub model returns.
func SampleRecord() analysis.Record {
	return analysis.Record{
		DocumentType: "Employment Agreement",
		RiskLevel:    analysis.RiskHigh,
		Risks: []analysis.RiskItem{{
			Category:        "Non-compete",
			Severity:        analysis.RiskHigh,
			ClauseReference: "Clause 1",
			Explanation:     "Restricts work for 24 months.",
			Suggestion:      "Ask for 6 months.",
		}},
		Recommendations: []string{"Negotiate the non-compete term"},
		Confidence:      0.85,
		Verdict:         analysis.VerdictNegotiate,
	}
}

// LLMServer is an OpenAI-compatible chat completions stub.
type LLMServer struct {
	*httptest.Server
	calls atomic.Int64
}

// Calls returns how many completions were served.
func (s *LLMServer) Calls() int64 { return s.calls.Load() }

// NewLLMServer answers health pings with {"ok":true}, JSON-mode analysis
// requests with record and chat turns with ChatReply.
func NewLLMServer(t testing.TB, record analysis.Record) *LLMServer {
	t.Helper()
	analysisContent := record.Serialize()
	srv := &LLMServer{}
	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Messages       []llm.Message     `json:"messages"`
			ResponseFormat map[string]string `json:"response_format"`
		}
		_ = json.Unmarshal(body, &req)

		content := ChatReply
		switch {
		case isHealthPing(req.Messages):
			content = `{"ok":true}`
		case req.ResponseFormat != nil:
			content = analysisContent
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"finish_reason": "stop",
					"message":       map[string]any{"content": content},
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func isHealthPing(messages []llm.Message) bool {
	for _, msg := range messages {
		if msg.Role == llm.RoleUser && strings.TrimSpace(msg.Content) == llm.HealthPrompt {
			return true
		}
	}
	return false
}
