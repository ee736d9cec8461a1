package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"counsel/internal/api"
	"counsel/internal/session"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and collaborator health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := ctx.client().Status(cmd.Context())
			if err != nil {
				return wrapDialError(err, ctx.address())
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderDaemonStatus(status, useColor(out)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func renderDaemonStatus(status api.DaemonStatus, colorize bool) string {
	var lines []string
	lines = append(lines, heading("Daemon", colorize)...)
	runTone := toneAlert
	runMsg := "stopped"
	if status.Running {
		runTone = toneGood
		runMsg = fmt.Sprintf("running (pid %d, since %s)", status.PID, status.StartedAt)
	}
	lines = append(lines,
		field("Daemon", runTone, runMsg, colorize),
		field("API", toneNeutral, status.APIBind, colorize),
	)
	if status.Cache != nil {
		lines = append(lines, field("Cache", toneNeutral,
			fmt.Sprintf("%d entries, %d hits (%s)", status.Cache.Entries, status.Cache.Hits, status.Cache.Path), colorize))
	}

	lines = append(lines, "")
	lines = append(lines, heading("Sessions", colorize)...)
	counts := make([]string, 0, len(session.AllStates()))
	for _, state := range session.AllStates() {
		if n := status.Workflow.Sessions[string(state)]; n > 0 {
			counts = append(counts, fmt.Sprintf("%s=%d", state, n))
		}
	}
	summary := "none"
	if len(counts) > 0 {
		summary = strings.Join(counts, " ")
	}
	lines = append(lines,
		field("Active", toneNeutral, fmt.Sprintf("%d", status.Workflow.Active), colorize),
		field("By state", toneNeutral, summary, colorize),
		field("Documents", toneNeutral, fmt.Sprintf("%d stored, %d indexed", status.Workflow.Documents, status.Workflow.Indexed), colorize),
	)
	if status.Workflow.LastError != "" {
		lines = append(lines, field("Last error", toneCaution, status.Workflow.LastError, colorize))
	}

	if len(status.Health) > 0 {
		lines = append(lines, "")
		lines = append(lines, heading("Collaborators", colorize)...)
		for _, h := range status.Health {
			t := toneGood
			detail := "ready"
			if !h.Ready {
				t = toneAlert
				detail = h.Detail
			}
			lines = append(lines, field(h.Name, t, detail, colorize))
		}
	}
	return strings.Join(lines, "\n") + "\n"
}
