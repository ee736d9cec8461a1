// Package daemon coordinates the long-running counsel process and its HTTP
// surface.
//
// It wraps the workflow manager in a single lifecycle with flock-based
// locking to prevent multiple instances, and serves the session API:
// uploads, Server-Sent Event progress streams, chat turns, session teardown
// and runtime status. Requests under /api/ require the configured bearer
// token; /healthz never does.
//
// Keep orchestration logic out of here: the analysis pipeline lives in the
// workflow package while the daemon focuses on startup, shutdown and
// transport concerns such as status-code mapping and stream keep-alives.
package daemon
