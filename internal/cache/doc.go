// Package cache is the content-hash idempotency cache for analysis requests.
//
// Entries are keyed by a digest of the model, prompt version and anonymized
// document text, and hold the raw inference output for that text. Only
// anonymized material is written; original documents never reach disk. The
// store is SQLite (modernc.org/sqlite) in WAL mode with retries on busy
// errors, and refuses to open a database created with a different schema
// version.
package cache
