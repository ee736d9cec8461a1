// Package notifications publishes ntfy alerts when an unattended inbox
// analysis finishes.
//
// Messages carry the file name, the overall risk level and the verdict, or
// the failure reason. They never include document text or chat content.
// When no topic is configured NewService returns a no-op implementation so
// callers never need nil checks.
package notifications
