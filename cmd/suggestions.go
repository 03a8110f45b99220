package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/kozaktomas/album-suggester/internal/config"
	"github.com/kozaktomas/album-suggester/internal/database"
	"github.com/kozaktomas/album-suggester/internal/suggestion"
	"github.com/spf13/cobra"
)

var suggestionsCmd = &cobra.Command{
	Use:   "suggestions",
	Short: "Review stored album suggestions",
}

var suggestionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List suggestions",
	Long: `List stored suggestions. Without --status only suggestions still under
review are shown; --status all shows every suggestion.

Examples:
  album-suggester suggestions list --sort image_count --order desc
  album-suggester suggestions list --status pending,enrichment_failed`,
	Args: cobra.NoArgs,
	RunE: runSuggestionsList,
}

var suggestionsShowCmd = &cobra.Command{
	Use:   "show <suggestion-id>",
	Short: "Show a single suggestion",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuggestionsShow,
}

var suggestionsTitleCmd = &cobra.Command{
	Use:   "title <suggestion-id> <title>",
	Short: "Change the title of a suggestion",
	Args:  cobra.ExactArgs(2),
	RunE:  runSuggestionsTitle,
}

var suggestionsCoverCmd = &cobra.Command{
	Use:   "cover <suggestion-id> <asset-id>",
	Short: "Change the cover asset of a suggestion",
	Args:  cobra.ExactArgs(2),
	RunE:  runSuggestionsCover,
}

var suggestionsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every suggestion that is still under review",
	Long: `Delete every open suggestion. Approved and rejected suggestions are kept,
so their assets stay excluded from incremental scans.`,
	Args: cobra.NoArgs,
	RunE: runSuggestionsPurge,
}

func init() {
	rootCmd.AddCommand(suggestionsCmd)
	suggestionsCmd.AddCommand(suggestionsListCmd, suggestionsShowCmd, suggestionsTitleCmd,
		suggestionsCoverCmd, suggestionsPurgeCmd)

	suggestionsListCmd.Flags().StringSlice("status", nil, "Statuses to list, or all (default: open statuses)")
	suggestionsListCmd.Flags().String("sort", database.SortByCreatedAt, "Sort key: created_at, event_start_date or image_count")
	suggestionsListCmd.Flags().String("order", "asc", "Sort order: asc or desc")
	suggestionsListCmd.Flags().Int("limit", 0, "Maximum number of suggestions (0 = no limit)")
	suggestionsListCmd.Flags().Bool("json", false, "Output as JSON")

	suggestionsShowCmd.Flags().Bool("json", false, "Output as JSON")

	suggestionsPurgeCmd.Flags().Bool("yes", false, "Do not ask for confirmation")
}

// listFilter builds the store filter from the list flags.
func listFilter(statuses []string, sortBy, order string, limit int) (database.SuggestionFilter, error) {
	filter := database.SuggestionFilter{SortBy: sortBy, Limit: limit}

	switch sortBy {
	case database.SortByCreatedAt, database.SortByEventStart, database.SortByImageCount:
	default:
		return filter, fmt.Errorf("unknown sort key %q", sortBy)
	}

	switch order {
	case "asc":
	case "desc":
		filter.Descending = true
	default:
		return filter, fmt.Errorf("order must be asc or desc, got %q", order)
	}

	if len(statuses) == 0 {
		filter.Statuses = database.OpenStatuses
		return filter, nil
	}
	for _, s := range statuses {
		if s == "all" {
			filter.Statuses = nil
			return filter, nil
		}
		st := database.SuggestionStatus(strings.TrimSpace(s))
		if !st.Valid() {
			return filter, fmt.Errorf("unknown status %q", s)
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	return filter, nil
}

// withService opens the store and runs fn with a suggestion service on it.
func withService(fn func(ctx context.Context, store database.Store, svc *suggestion.Service, cfg *config.Config) error) error {
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

	return fn(ctx, store, suggestion.NewService(store, cfg.Defaults), cfg)
}

func runSuggestionsList(cmd *cobra.Command, args []string) error {
	filter, err := listFilter(
		mustGetStringSlice(cmd, "status"),
		mustGetString(cmd, "sort"),
		mustGetString(cmd, "order"),
		mustGetInt(cmd, "limit"),
	)
	if err != nil {
		return err
	}
	jsonOutput := mustGetBool(cmd, "json")

	return withService(func(ctx context.Context, store database.Store, _ *suggestion.Service, _ *config.Config) error {
		list, err := store.List(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to list suggestions: %w", err)
		}
		if jsonOutput {
			return outputJSON(list)
		}
		if len(list) == 0 {
			fmt.Println("No suggestions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tSTART\tIMAGES\tTITLE")
		fmt.Fprintln(w, "--\t------\t-----\t------\t-----")
		for i := range list {
			sg := &list[i]
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", sg.ID, sg.Status, formatDate(sg.EventStart), sg.ImageCount(), sg.Title)
		}
		w.Flush()

		fmt.Printf("\nTotal: %d suggestions\n", len(list))
		return nil
	})
}

func runSuggestionsShow(cmd *cobra.Command, args []string) error {
	id, err := parseSuggestionID(args[0])
	if err != nil {
		return err
	}
	jsonOutput := mustGetBool(cmd, "json")

	return withService(func(ctx context.Context, _ database.Store, svc *suggestion.Service, _ *config.Config) error {
		sg, err := svc.Get(ctx, id)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(sg)
		}
		printSuggestion(sg)
		return nil
	})
}

func runSuggestionsTitle(cmd *cobra.Command, args []string) error {
	id, err := parseSuggestionID(args[0])
	if err != nil {
		return err
	}
	return withService(func(ctx context.Context, _ database.Store, svc *suggestion.Service, _ *config.Config) error {
		sg, err := svc.SetTitle(ctx, id, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Suggestion %d renamed to %q\n", sg.ID, sg.Title)
		return nil
	})
}

func runSuggestionsCover(cmd *cobra.Command, args []string) error {
	id, err := parseSuggestionID(args[0])
	if err != nil {
		return err
	}
	return withService(func(ctx context.Context, _ database.Store, svc *suggestion.Service, _ *config.Config) error {
		sg, err := svc.SetCover(ctx, id, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Suggestion %d cover set to %s\n", sg.ID, sg.CoverAssetID)
		return nil
	})
}

func runSuggestionsPurge(cmd *cobra.Command, args []string) error {
	if !mustGetBool(cmd, "yes") {
		fmt.Print("Delete every suggestion under review? [y/N] ")
		var answer string
		fmt.Scanln(&answer)
		if !strings.EqualFold(strings.TrimSpace(answer), "y") {
			fmt.Println("Aborted.")
			return nil
		}
	}
	return withService(func(ctx context.Context, store database.Store, _ *suggestion.Service, _ *config.Config) error {
		n, err := store.DeleteOpen(ctx)
		if err != nil {
			return fmt.Errorf("failed to purge suggestions: %w", err)
		}
		fmt.Printf("Deleted %d suggestions\n", n)
		return nil
	})
}

func printSuggestion(sg *database.StoredSuggestion) {
	fmt.Printf("Suggestion #%d\n", sg.ID)
	fmt.Printf("  Status:       %s\n", sg.Status)
	fmt.Printf("  Title:        %s\n", sg.Title)
	if sg.Description != "" {
		fmt.Printf("  Description:  %s\n", sg.Description)
	}
	if sg.Location != "" {
		fmt.Printf("  Location:     %s\n", sg.Location)
	}
	fmt.Printf("  Dates:        %s .. %s\n", formatDate(sg.EventStart), formatDate(sg.EventEnd))
	fmt.Printf("  Images:       %d (%d strong, %d weak", sg.ImageCount(), len(sg.StrongAssetIDs), len(sg.WeakAssetIDs))
	if n := len(sg.AdditionalAssetIDs); n > 0 {
		fmt.Printf(", %d suggested additions", n)
	}
	fmt.Println(")")
	if sg.CoverAssetID != "" {
		fmt.Printf("  Cover:        %s\n", sg.CoverAssetID)
	}
	if sg.SourceAlbumID != "" {
		fmt.Printf("  Album:        %s\n", sg.SourceAlbumID)
	}
	if sg.CreatedAlbumID != "" {
		fmt.Printf("  Created album: %s\n", sg.CreatedAlbumID)
	}
	if sg.EnrichmentError != "" {
		fmt.Printf("  Last error:   %s (attempt %d)\n", sg.EnrichmentError, sg.EnrichmentAttempts)
	}
	if len(sg.WeakAssetIDs) > 0 {
		fmt.Printf("  Weak assets:  %s\n", strings.Join(sg.WeakAssetIDs, ", "))
	}
}
