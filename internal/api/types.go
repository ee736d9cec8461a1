package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Session describes an analysis session in a transport-friendly format.
type Session struct {
	ID        string          `json:"session_id"`
	Filename  string          `json:"filename"`
	State     string          `json:"state"`
	Progress  int             `json:"progress"`
	Reason    string          `json:"reason,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
	Message   string          `json:"message,omitempty"`
	Cached    bool            `json:"cached,omitempty"`
	Record    json.RawMessage `json:"record,omitempty"`
	Brief     string          `json:"brief,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`
	UpdatedAt string          `json:"updated_at,omitempty"`
}

// SessionListResponse wraps every known session, newest first.
type SessionListResponse struct {
	Sessions []Session `json:"sessions"`
}

// SubmitResponse acknowledges an accepted upload.
type SubmitResponse struct {
	SessionID string `json:"session_id"`
}

// ChatRequest carries one user turn.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse carries the assistant reply to one turn.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// ChatMessage is one turn of a chat transcript.
type ChatMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
	At   string `json:"at,omitempty"`
}

// ChatHistoryResponse wraps a chat transcript, oldest first.
type ChatHistoryResponse struct {
	Messages []ChatMessage `json:"messages"`
}

// Event mirrors one published stream event as delivered over SSE.
type Event struct {
	SessionID string          `json:"session_id"`
	Sequence  uint64          `json:"sequence"`
	Kind      string          `json:"kind"`
	At        string          `json:"at,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Terminal reports whether the event ends its stream.
func (e Event) Terminal() bool {
	return e.Kind == "complete" || e.Kind == "error"
}

// WorkflowStatus summarizes orchestrator state.
type WorkflowStatus struct {
	Sessions  map[string]int `json:"sessions"`
	Active    int            `json:"active"`
	Documents int            `json:"documents"`
	Indexed   int            `json:"indexed"`
	LastError string         `json:"last_error,omitempty"`
}

// CollaboratorHealth mirrors readiness reporting for external collaborators.
type CollaboratorHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// CacheStatus reports analysis cache occupancy.
type CacheStatus struct {
	Path    string `json:"path"`
	Entries int    `json:"entries"`
	Hits    int    `json:"hits"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool                 `json:"running"`
	PID          int                  `json:"pid"`
	StartedAt    string               `json:"started_at,omitempty"`
	LockFilePath string               `json:"lock_file_path"`
	APIBind      string               `json:"api_bind"`
	Workflow     WorkflowStatus       `json:"workflow"`
	Cache        *CacheStatus         `json:"cache,omitempty"`
	Health       []CollaboratorHealth `json:"health"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
