package cmd

import (
	"fmt"

	"github.com/kozaktomas/album-suggester/internal/config"
	"github.com/kozaktomas/album-suggester/internal/immich"
	"github.com/kozaktomas/album-suggester/internal/scanner"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Cluster the library into album suggestions",
	Long: `Read assets and their CLIP embeddings from the Immich database, group them
into events and store every large enough event as a suggestion awaiting
enrichment.

The incremental mode skips assets that are already part of a suggestion;
the full mode clusters the whole library again.

Exit status: 0 when new suggestions were found, 3 when the run completed
without any, 1 on failure.

Examples:
  # Cluster assets added since the last scan
  album-suggester scan

  # Preview a full re-scan without storing anything
  album-suggester scan --mode full --dry-run`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().String("mode", string(scanner.ModeIncremental), "Scan mode: incremental or full")
	scanCmd.Flags().Bool("dry-run", false, "Cluster without storing suggestions")
	scanCmd.Flags().Bool("json", false, "Output the report as JSON")
}

func runScan(cmd *cobra.Command, args []string) error {
	mode, err := scanner.ParseMode(mustGetString(cmd, "mode"))
	if err != nil {
		return err
	}
	dryRun := mustGetBool(cmd, "dry-run")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if !jsonOutput {
		fmt.Println("Connecting to the Immich database...")
	}
	reader, err := immich.OpenReader(ctx, cfg.Immich)
	if err != nil {
		return fmt.Errorf("failed to open Immich database: %w", err)
	}
	defer reader.Close()

	var bar *progressbar.ProgressBar
	opts := scanner.Options{Mode: mode, DryRun: dryRun}
	if !jsonOutput {
		opts.OnProgress = func(p scanner.ProgressInfo) {
			if bar == nil {
				bar = newProgressBar(p.Total, "Storing candidates", "candidates")
			}
			bar.Set(p.Current)
		}
		fmt.Printf("Scanning in %s mode", mode)
		if dryRun {
			fmt.Print(" (DRY RUN, nothing is stored)")
		}
		fmt.Println()
	}

	report, err := scanner.New(store, reader, cfg.Settings).Scan(ctx, opts)
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if jsonOutput {
		if err := outputJSON(report); err != nil {
			return err
		}
	} else {
		printScanReport(report, dryRun)
	}

	if report.NewCandidates(dryRun) == 0 {
		return errNoCandidates
	}
	return nil
}

func printScanReport(r *scanner.Report, dryRun bool) {
	fmt.Println("\nScan complete!")
	fmt.Printf("  Run:        %s\n", r.RunID)
	fmt.Printf("  Assets:     %d\n", r.Assets)
	if r.Skipped > 0 {
		fmt.Printf("  Skipped:    %d (missing date or embedding)\n", r.Skipped)
	}
	fmt.Printf("  Eventlets:  %d\n", r.Eventlets)
	fmt.Printf("  Candidates: %d (%d below the minimum size)\n", r.Candidates, r.TooSmall)
	if dryRun {
		fmt.Printf("  Would store: %d\n", r.NewCandidates(true))
	} else {
		fmt.Printf("  Stored:     %d\n", r.Stored)
	}
	if r.Failed > 0 {
		fmt.Printf("  Failed:     %d\n", r.Failed)
	}
	fmt.Printf("  Duration:   %s\n", formatDuration(r.Duration))

	for _, sg := range r.Suggestions {
		fmt.Printf("  #%d  %s  (%d images)\n", sg.ID, sg.Title, sg.ImageCount())
	}
}

func newProgressBar(total int, description, unit string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString(unit),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}
