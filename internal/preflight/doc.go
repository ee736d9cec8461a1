// Package preflight provides readiness checks for external services
// and filesystem paths that counsel depends on.
//
// These checks run in two contexts:
//   - The daemon logs RunAll results at startup so an unreachable privacy
//     engine is visible before the first upload fails.
//   - The CLI "counsel doctor" command renders every result as a table and
//     exits non-zero when a required check fails.
//
// Each check is gated by its config toggle -- disabled features are skipped.
package preflight
