package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/album-suggester/internal/config"
	"github.com/kozaktomas/album-suggester/internal/database"
	"github.com/kozaktomas/album-suggester/internal/immich"
	"github.com/kozaktomas/album-suggester/internal/scanner"
	"github.com/kozaktomas/album-suggester/internal/suggestion"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var albumsCmd = &cobra.Command{
	Use:   "albums",
	Short: "Work with existing Immich albums",
}

var albumsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Suggest additions to existing albums",
	Long: `Compare every existing Immich album with the assets that are in no album
yet and store the assets that fit an album's time span and location as
suggested additions. Suggestions of deleted albums and duplicate rows are
removed afterwards.

Examples:
  album-suggester albums sync
  album-suggester albums sync --dry-run`,
	Args: cobra.NoArgs,
	RunE: runAlbumsSync,
}

var albumsAddCmd = &cobra.Command{
	Use:   "add <suggestion-id>",
	Short: "Add suggested assets to their existing album",
	Long: `Add the suggested additions of an album suggestion to the Immich album.
Without --assets every suggested addition is added.`,
	Args: cobra.ExactArgs(1),
	RunE: runAlbumsAdd,
}

func init() {
	rootCmd.AddCommand(albumsCmd)
	albumsCmd.AddCommand(albumsSyncCmd, albumsAddCmd)

	albumsSyncCmd.Flags().Bool("dry-run", false, "Compute additions without storing them")
	albumsSyncCmd.Flags().Bool("json", false, "Output the report as JSON")

	albumsAddCmd.Flags().StringSlice("assets", nil, "Suggested asset ids to add (default: all)")
}

func runAlbumsSync(cmd *cobra.Command, args []string) error {
	dryRun := mustGetBool(cmd, "dry-run")
	jsonOutput := mustGetBool(cmd, "json")

	return withService(func(ctx context.Context, store database.Store, _ *suggestion.Service, cfg *config.Config) error {
		reader, err := immich.OpenReader(ctx, cfg.Immich)
		if err != nil {
			return fmt.Errorf("failed to open Immich database: %w", err)
		}
		defer reader.Close()

		var bar *progressbar.ProgressBar
		var onProgress func(scanner.ProgressInfo)
		if !jsonOutput {
			onProgress = func(p scanner.ProgressInfo) {
				if bar == nil {
					bar = newProgressBar(p.Total, "Augmenting albums", "albums")
				}
				bar.Set(p.Current)
			}
		}

		report, err := scanner.New(store, reader, cfg.Settings).SyncAlbums(ctx, dryRun, onProgress)
		if bar != nil {
			bar.Finish()
			fmt.Println()
		}
		if err != nil {
			return fmt.Errorf("album sync failed: %w", err)
		}
		if jsonOutput {
			return outputJSON(report)
		}

		fmt.Println("\nAlbum sync complete!")
		fmt.Printf("  Albums:      %d\n", report.Albums)
		fmt.Printf("  Augmented:   %d (%d assets)\n", report.Augmented, report.Additions)
		fmt.Printf("  Created:     %d\n", report.Created)
		fmt.Printf("  Updated:     %d\n", report.Updated)
		if report.Invalid > 0 {
			fmt.Printf("  Invalid:     %d\n", report.Invalid)
		}
		if report.Removed > 0 || report.Duplicates > 0 {
			fmt.Printf("  Removed:     %d stale, %d duplicates\n", report.Removed, report.Duplicates)
		}
		return nil
	})
}

func runAlbumsAdd(cmd *cobra.Command, args []string) error {
	id, err := parseSuggestionID(args[0])
	if err != nil {
		return err
	}
	selected := mustGetStringSlice(cmd, "assets")

	return withService(func(ctx context.Context, _ database.Store, svc *suggestion.Service, cfg *config.Config) error {
		client, err := immich.NewClient(cfg.Immich)
		if err != nil {
			return fmt.Errorf("failed to create Immich client: %w", err)
		}
		before, err := svc.Get(ctx, id)
		if err != nil {
			return err
		}
		sg, err := svc.ApplyAdditions(ctx, id, selected, client)
		if err != nil {
			return fmt.Errorf("adding assets failed: %w", err)
		}
		added := len(before.AdditionalAssetIDs) - len(sg.AdditionalAssetIDs)
		fmt.Printf("Added %d assets to album %s, %d suggested additions left\n",
			added, sg.SourceAlbumID, len(sg.AdditionalAssetIDs))
		return nil
	})
}
