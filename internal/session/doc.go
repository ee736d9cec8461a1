// Package session defines the analysis session lifecycle: the state enum and
// its transition table, the stable failure reason codes surfaced to clients,
// and the chat history seeded from the narrative brief.
package session
