// Package inbox ingests documents dropped into a watched directory.
//
// Each settled file is submitted to the orchestrator, awaited to a terminal
// state, and summarized as <filename>.analysis.json in the outbox directory.
// Processed sources move to the outbox's processed/ subdirectory so a restart
// does not analyze them twice.
package inbox
