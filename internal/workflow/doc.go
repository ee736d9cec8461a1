// Package workflow drives analysis sessions through their state machine.
//
// The Manager accepts a submission, stores the parsed document, asks the
// privacy engine for an anonymized copy, issues a single inference call that
// validates, classifies, extracts risks and coaches in one round trip, hands
// the raw output to the extraction normalizer and renders the resulting
// record into a narrative brief that seeds the chat. Each session runs on its
// own goroutine; transitions within a session are strictly sequential while
// sessions progress independently.
//
// Every transition is published exactly once on the session's stream.
// Cancellation (client disconnect, End, Shutdown) is checked at each
// transition boundary: a call already in flight is allowed to finish, but its
// result is discarded and nothing further is published.
//
// Outbound values (records, briefs, chat replies) are de-anonymized with the
// document's token map right before they leave the package; the map itself
// never does.
package workflow
