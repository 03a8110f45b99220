package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/album-suggester/internal/config"
	"github.com/kozaktomas/album-suggester/internal/constants"
	"github.com/kozaktomas/album-suggester/internal/database"
	"github.com/kozaktomas/album-suggester/internal/suggestion"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the scan log",
	Long: `Print entries of the operational log written by scans, album syncs and
enrichment runs, oldest first.

Examples:
  album-suggester logs
  album-suggester logs --since 1200`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().Int64("since", 0, "Only print entries with a larger id")
	logsCmd.Flags().Int("limit", constants.DefaultLogLimit, "Maximum number of entries")
	logsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runLogs(cmd *cobra.Command, args []string) error {
	since := mustGetInt64(cmd, "since")
	limit := mustGetInt(cmd, "limit")
	jsonOutput := mustGetBool(cmd, "json")
	if since < 0 || limit <= 0 {
		return errors.New("--since must not be negative and --limit must be positive")
	}

	return withService(func(ctx context.Context, store database.Store, _ *suggestion.Service, _ *config.Config) error {
		entries, err := store.Since(ctx, since, min(limit, constants.MaxLogLimit))
		if err != nil {
			return fmt.Errorf("failed to read scan log: %w", err)
		}
		if jsonOutput {
			return outputJSON(entries)
		}
		for _, e := range entries {
			run := e.RunID
			if len(run) > 8 {
				run = run[:8]
			}
			fmt.Printf("%6d  %s  %-8s  %-8s  %s\n", e.ID, e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Level, run, e.Message)
		}
		return nil
	})
}
