// Package llm provides an OpenAI-compatible chat completion client (OpenRouter
// by default) used as the inference provider for document analysis and chat.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.Complete: single-pass analysis call with system and user prompts.
// Client.Chat: conversational turn over an ordered message list.
// Client.HealthCheck: verify API key and model availability.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx errors, empty completions and network
// timeouts with exponential backoff (base 1s, max 10s, up to 5 attempts by
// default). A Retry-After header overrides the computed delay. Context
// cancellation aborts retries immediately.
//
// # Rate Limiting
//
// WithRequestsPerMinute installs a token bucket shared by every request the
// client issues, retries included.
//
// The client never inspects the completion text beyond checking that it is
// non-empty; malformed output is the normalizer's concern.
package llm
