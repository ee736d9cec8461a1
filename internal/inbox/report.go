package inbox

import (
	"encoding/json"
	"time"

	"counsel/internal/session"
	"counsel/internal/workflow"
)

// ReportSuffix is appended to the source filename in the outbox.
const ReportSuffix = ".analysis.json"

// Report is the outbox document written for every ingested file.
type Report struct {
	Filename   string          `json:"filename"`
	SessionID  string          `json:"session_id"`
	State      session.State   `json:"state"`
	Reason     session.Reason  `json:"reason,omitempty"`
	Retryable  bool            `json:"retryable,omitempty"`
	Message    string          `json:"message,omitempty"`
	Cached     bool            `json:"cached,omitempty"`
	Record     json.RawMessage `json:"record,omitempty"`
	Brief      string          `json:"brief,omitempty"`
	AnalyzedAt time.Time       `json:"analyzed_at"`
}

func newReport(res workflow.Result, now time.Time) Report {
	report := Report{
		Filename:   res.Filename,
		SessionID:  res.SessionID,
		State:      res.State,
		Reason:     res.Reason,
		Retryable:  res.Retryable,
		Message:    res.Message,
		Cached:     res.Cached,
		Brief:      res.Brief,
		AnalyzedAt: now.UTC(),
	}
	if res.Record != nil {
		report.Record = res.Record.Report()
	}
	return report
}

func (r Report) encode() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
