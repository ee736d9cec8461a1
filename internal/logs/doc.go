// Package logs reads the daemon log file for `counsel logs`.
//
// Last returns the trailing lines with bounded memory and Follow streams
// lines appended afterwards, waking on fsnotify write events instead of
// polling. Both can narrow output to a single analysis session.
package logs
