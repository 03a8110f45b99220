package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/album-suggester/internal/ai"
	"github.com/kozaktomas/album-suggester/internal/config"
	"github.com/kozaktomas/album-suggester/internal/database"
	"github.com/kozaktomas/album-suggester/internal/enricher"
	"github.com/kozaktomas/album-suggester/internal/geocode"
	"github.com/kozaktomas/album-suggester/internal/immich"
	"github.com/kozaktomas/album-suggester/internal/suggestion"
	"github.com/spf13/cobra"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich [suggestion-id]",
	Short: "Describe suggestions with a vision model",
	Long: `Enrich a suggestion awaiting enrichment: reverse geocode its GPS points,
send a sample of its photos to the vision model and store the proposed
title, description and cover.

Examples:
  # Enrich one suggestion with a 2 minute deadline
  album-suggester enrich 42 --timeout 2m

  # Enrich every waiting suggestion, retrying earlier failures
  album-suggester enrich --all --retry --concurrency 3

  # Fail suggestions stuck in enriching for more than 30 minutes
  album-suggester enrich --recover-stale 30m`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEnrich,
}

func init() {
	rootCmd.AddCommand(enrichCmd)

	enrichCmd.Flags().Duration("timeout", 0, "Deadline for a single enrichment (default vlm.timeout)")
	enrichCmd.Flags().String("provider", "", "Vision provider: openai, gemini, ollama or none (default vlm.provider)")
	enrichCmd.Flags().Bool("all", false, "Enrich every suggestion awaiting enrichment")
	enrichCmd.Flags().Bool("retry", false, "With --all, also retry failed enrichments")
	enrichCmd.Flags().Int("concurrency", 0, "With --all, number of parallel enrichments (default vlm.concurrency)")
	enrichCmd.Flags().Duration("recover-stale", 0, "Mark suggestions enriching for longer than this as enrichment_failed")
}

func runEnrich(cmd *cobra.Command, args []string) error {
	all := mustGetBool(cmd, "all")
	staleAfter := mustGetDuration(cmd, "recover-stale")

	switch {
	case len(args) == 1 && (all || staleAfter > 0):
		return errors.New("a suggestion id cannot be combined with --all or --recover-stale")
	case len(args) == 0 && !all && staleAfter <= 0:
		return errors.New("a suggestion id, --all or --recover-stale is required")
	}

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

	svc := suggestion.NewService(store, cfg.Defaults)

	if staleAfter > 0 {
		n, err := svc.RecoverStale(ctx, staleAfter)
		if err != nil {
			return fmt.Errorf("recover stale enrichments: %w", err)
		}
		fmt.Printf("Recovered %d stale enrichments\n", n)
		if !all {
			return nil
		}
	}

	providerName := mustGetString(cmd, "provider")
	if providerName == "" {
		providerName = cfg.VLM.Provider
	}
	enr, provider, err := buildEnricher(ctx, cfg, store, svc, providerName, uuid.NewString())
	if err != nil {
		return err
	}
	if provider != nil {
		fmt.Printf("Provider: %s\n", provider.Name())
	} else {
		fmt.Println("Provider: none (default title and description)")
	}

	if all {
		err = runEnrichAll(ctx, enr, mustGetBool(cmd, "retry"), mustGetInt(cmd, "concurrency"))
	} else {
		err = runEnrichOne(ctx, enr, args[0], mustGetDuration(cmd, "timeout"))
	}
	printUsage(provider)
	return err
}

func runEnrichOne(ctx context.Context, enr *enricher.Enricher, arg string, timeout time.Duration) error {
	id, err := parseSuggestionID(arg)
	if err != nil {
		return err
	}
	sg, err := enr.Enrich(ctx, id, timeout)
	if err != nil {
		return fmt.Errorf("enrichment failed: %w", err)
	}
	fmt.Println()
	printSuggestion(sg)
	return nil
}

func runEnrichAll(ctx context.Context, enr *enricher.Enricher, retry bool, concurrency int) error {
	bar := newProgressBar(-1, "Enriching", "suggestions")
	summary, err := enr.EnrichPending(ctx, enricher.BatchOptions{
		Retry:       retry,
		Concurrency: concurrency,
		Progress:    bar,
	})
	bar.Finish()
	fmt.Println()
	if err != nil && summary == nil {
		return fmt.Errorf("enrichment failed: %w", err)
	}

	fmt.Println("\nEnrichment complete!")
	fmt.Printf("  Enriched: %d\n", summary.Enriched)
	fmt.Printf("  Failed:   %d\n", summary.Failed)
	if summary.Skipped > 0 {
		fmt.Printf("  Skipped:  %d\n", summary.Skipped)
	}
	for _, e := range summary.Errors {
		fmt.Printf("  - %v\n", e)
	}
	return err
}

// buildEnricher wires the vision provider, geocoder and Immich thumbnails.
// The returned provider is nil when the vision model is disabled.
func buildEnricher(ctx context.Context, cfg *config.Config, store database.Store, svc *suggestion.Service,
	providerName, runID string) (*enricher.Enricher, ai.VisionProvider, error) {
	provider, err := ai.NewProvider(ctx, cfg, providerName)
	if err != nil {
		return nil, nil, err
	}

	var thumbs enricher.ThumbnailSource
	if provider != nil {
		client, err := immich.NewClient(cfg.Immich)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Immich client: %w", err)
		}
		thumbs = client
	}

	var locator enricher.Locator
	if cfg.Geocoding.URL != "" {
		geo, err := geocode.NewClient(cfg.Geocoding)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create geocoder: %w", err)
		}
		locator = geo
	}

	return enricher.New(svc, store, thumbs, locator, provider, cfg.Settings, runID), provider, nil
}

func printUsage(provider ai.VisionProvider) {
	if provider == nil {
		return
	}
	usage := provider.GetUsage()
	if usage.InputTokens > 0 || usage.OutputTokens > 0 {
		fmt.Printf("\nAPI Usage:\n")
		fmt.Printf("  Input tokens: %d\n", usage.InputTokens)
		fmt.Printf("  Output tokens: %d\n", usage.OutputTokens)
		fmt.Printf("  Total cost: $%.4f\n", usage.TotalCost)
	}
}
