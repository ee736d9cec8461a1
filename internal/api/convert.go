package api

import (
	"encoding/json"
	"sort"
	"time"

	"counsel/internal/cache"
	"counsel/internal/session"
	"counsel/internal/stream"
	"counsel/internal/workflow"
)

// FromResult converts a workflow result to its API representation.
func FromResult(res workflow.Result) Session {
	dto := Session{
		ID:        res.SessionID,
		Filename:  res.Filename,
		State:     string(res.State),
		Progress:  res.Progress,
		Reason:    string(res.Reason),
		Retryable: res.Retryable,
		Message:   res.Message,
		Cached:    res.Cached,
		Brief:     res.Brief,
		CreatedAt: formatTime(res.CreatedAt),
		UpdatedAt: formatTime(res.UpdatedAt),
	}
	if res.Record != nil {
		dto.Record = res.Record.Report()
	}
	return dto
}

// FromResults converts a slice of workflow results, preserving order.
func FromResults(results []workflow.Result) []Session {
	out := make([]Session, 0, len(results))
	for _, res := range results {
		out = append(out, FromResult(res))
	}
	return out
}

// FromMessages converts a chat transcript.
func FromMessages(messages []session.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, ChatMessage{
			Role: string(msg.Role),
			Text: msg.Text,
			At:   formatTime(msg.At),
		})
	}
	return out
}

// FromEvent converts a stream event. Payloads that cannot be encoded are
// dropped rather than failing the stream.
func FromEvent(evt stream.Event) Event {
	dto := Event{
		SessionID: evt.SessionID,
		Sequence:  evt.Sequence,
		Kind:      string(evt.Kind),
		At:        formatTime(evt.At),
	}
	if evt.Payload != nil {
		if raw, err := json.Marshal(evt.Payload); err == nil {
			dto.Payload = raw
		}
	}
	return dto
}

// FromStatusSummary converts workflow.StatusSummary to WorkflowStatus. Every
// state is present in the map so consumers can render a stable table.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	counts := make(map[string]int, len(session.AllStates()))
	for _, state := range session.AllStates() {
		counts[string(state)] = summary.Sessions[state]
	}
	return WorkflowStatus{
		Sessions:  counts,
		Active:    summary.Active,
		Documents: summary.Documents,
		Indexed:   summary.Indexed,
		LastError: summary.LastError,
	}
}

// HealthSlice returns collaborator health in deterministic name order.
func HealthSlice(health []workflow.CollaboratorHealth) []CollaboratorHealth {
	out := make([]CollaboratorHealth, 0, len(health))
	for _, h := range health {
		out = append(out, CollaboratorHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FromCacheStats converts cache occupancy.
func FromCacheStats(path string, stats cache.Stats) *CacheStatus {
	return &CacheStatus{Path: path, Entries: stats.Entries, Hits: stats.Hits}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
