// Package docstore holds submitted documents in process memory for the life
// of their analysis session.
//
// Each document id owns an exclusive section: mutations of one id are
// serialized, while operations on different ids never contend. Reads take no
// lock at all; every stored Document is an immutable snapshot published
// through an atomic pointer, so a reader sees either the previous snapshot,
// the next one, or nothing. Documents expire after a configurable TTL and are
// removed by Purge or the Run janitor.
//
// Nothing in this package writes to disk.
package docstore
