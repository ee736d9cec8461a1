package stream

import "time"

// Kind classifies a stream event.
type Kind string

const (
	KindProgress Kind = "progress"
	KindPartial  Kind = "partial"
	KindComplete Kind = "complete"
	KindError    Kind = "error"
)

// Terminal reports whether the kind ends a stream.
func (k Kind) Terminal() bool {
	return k == KindComplete || k == KindError
}

// Event is one immutable stream element.
type Event struct {
	SessionID string    `json:"session_id"`
	Sequence  uint64    `json:"sequence"`
	Kind      Kind      `json:"kind"`
	At        time.Time `json:"at"`
	Payload   any       `json:"payload,omitempty"`
}

// ProgressPayload accompanies progress events.
type ProgressPayload struct {
	State   string `json:"state"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// PartialPayload carries one recovered record field.
type PartialPayload struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// ErrorPayload accompanies the terminal error event.
type ErrorPayload struct {
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
	Message   string `json:"message,omitempty"`
}
