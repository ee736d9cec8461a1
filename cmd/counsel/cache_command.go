package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"counsel/internal/api"
	"counsel/internal/cache"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the analysis cache",
	}

	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCachePurgeCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))

	return cacheCmd
}

// openCache opens the configured cache, or returns a notice when disabled.
func openCache(ctx *commandContext) (*cache.Cache, string, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, "", err
	}
	if !cfg.Cache.Enabled {
		return nil, "Analysis cache is disabled (set cache.enabled = true)", nil
	}
	if strings.TrimSpace(cfg.Cache.Path) == "" {
		return nil, "", fmt.Errorf("cache.path is not set")
	}
	c, err := cache.Open(cfg.Cache.Path, cache.WithTTL(cfg.CacheTTL()))
	if err != nil {
		return nil, "", fmt.Errorf("open analysis cache: %w", err)
	}
	return c, "", nil
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show analysis cache usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, notice, err := openCache(ctx)
			if notice != "" {
				fmt.Fprintln(cmd.OutOrStdout(), notice)
			}
			if err != nil || c == nil {
				return err
			}
			defer c.Close()

			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, api.FromCacheStats(c.Path(), stats))
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Path:    %s\n", c.Path())
			fmt.Fprintf(out, "Entries: %d\n", stats.Entries)
			fmt.Fprintf(out, "Hits:    %d\n", stats.Hits)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newCachePurgeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove expired cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, notice, err := openCache(ctx)
			if notice != "" {
				fmt.Fprintln(cmd.OutOrStdout(), notice)
			}
			if err != nil || c == nil {
				return err
			}
			defer c.Close()

			removed, err := c.Purge(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired %s\n", removed, plural(removed, "entry", "entries"))
			return nil
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cache entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, notice, err := openCache(ctx)
			if notice != "" {
				fmt.Fprintln(cmd.OutOrStdout(), notice)
			}
			if err != nil || c == nil {
				return err
			}
			defer c.Close()

			removed, err := c.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d %s\n", removed, plural(removed, "entry", "entries"))
			return nil
		},
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
