// Package main hosts the counsel CLI entrypoint and command graph.
//
// The Cobra command tree either runs the analysis pipeline in-process
// (analyze, calibrate, doctor, cache) or talks to a running daemon over its
// HTTP API (submit, sessions, show, chat, end, status). Configuration is
// resolved once per invocation through commandContext; subcommands that must
// run without a valid configuration opt out with the skipConfigLoad
// annotation.
package main
