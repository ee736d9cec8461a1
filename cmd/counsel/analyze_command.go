package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"counsel/internal/api"
	"counsel/internal/daemonrun"
	"counsel/internal/logging"
	"counsel/internal/workflow"
)

const analyzeDrainTimeout = 5 * time.Second

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var noCache bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "analyze FILE",
		Short: "Analyze a document in-process without a daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}

			level := "error"
			if verbose {
				level = "debug"
			}
			logger, err := logging.New(logging.Options{
				Level:            level,
				Format:           cfg.Logging.Format,
				OutputPaths:      []string{"stderr"},
				ErrorOutputPaths: []string{"stderr"},
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			rt, err := daemonrun.Build(cmd.Context(), cfg, logger, daemonrun.BuildOptions{DisableCache: noCache})
			if err != nil {
				return err
			}
			defer func() {
				drainCtx, cancel := context.WithTimeout(context.Background(), analyzeDrainTimeout)
				defer cancel()
				rt.Manager.Shutdown(drainCtx)
				_ = rt.Close()
			}()

			id, err := rt.Manager.Submit(cmd.Context(), workflow.Submission{
				Filename: filepath.Base(args[0]),
				Data:     data,
			})
			if err != nil {
				return err
			}
			res, err := rt.Manager.Await(cmd.Context(), id)
			if err != nil {
				return err
			}

			dto := api.FromResult(res)
			out := cmd.OutOrStdout()
			if asJSON || !useColor(out) {
				if err := writeJSON(cmd, dto); err != nil {
					return err
				}
			} else {
				fmt.Fprint(out, renderSession(dto, useColor(out)))
			}
			if res.Reason != "" {
				return fmt.Errorf("analysis failed: %s", workflow.ReasonMessage(res.Reason))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the session as JSON")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the analysis cache")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline progress to stderr")
	return cmd
}
