package docstore

import (
	"maps"
	"time"
)

// Status is the processing status of a stored document.
type Status string

const (
	StatusReceived   Status = "received"
	StatusAnonymized Status = "anonymized"
	StatusAnalyzed   Status = "analyzed"
)

// Document is one submitted document and its anonymization.
type Document struct {
	ID        string
	SessionID string
	Filename  string
	// RawText is the extracted text before anonymization. It is cleared once
	// anonymization succeeds.
	RawText        string
	AnonymizedText string
	// Mapping holds placeholder token -> original span for reversal.
	Mapping   map[string]string
	Status    Status
	Version   uint64
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

func (d Document) clone() Document {
	out := d
	if d.Mapping != nil {
		out.Mapping = maps.Clone(d.Mapping)
	}
	return out
}

// Expired reports whether the document's TTL has elapsed at now.
func (d Document) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}
