// Package api defines wire-format types, converters and a client for the
// counsel HTTP API. It translates workflow results into transport-friendly
// DTOs so the CLI and browser consumers never couple to internal types.
//
// # Key Types
//
// Session: one analysis session with its state, failure reason and, once
// ready, the de-anonymized record (passed through as json.RawMessage in its
// canonical wire form) and narrative brief.
//
// Event: one Server-Sent Event as published by the session stream.
//
// DaemonStatus: daemon runtime information including orchestrator counts,
// cache occupancy and collaborator health.
//
// # Client
//
// Client speaks the daemon's HTTP API, including the SSE event stream, with
// optional bearer authentication. Non-2xx replies become *StatusError.
//
// # Design Notes
//
// DTOs use snake_case JSON tags, matching the stream event payloads.
// Timestamps use RFC3339 with milliseconds in UTC.
package api
