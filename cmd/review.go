package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/album-suggester/internal/config"
	"github.com/kozaktomas/album-suggester/internal/database"
	"github.com/kozaktomas/album-suggester/internal/immich"
	"github.com/kozaktomas/album-suggester/internal/suggestion"
	"github.com/spf13/cobra"
)

var approveCmd = &cobra.Command{
	Use:   "approve <suggestion-id>",
	Short: "Create the suggested album in Immich",
	Long: `Create an Immich album from a reviewed suggestion. All strong assets are
included; weak assets only when listed with --weak. Assets listed with
--highlight are marked as favorites.

Examples:
  album-suggester approve 42
  album-suggester approve 42 --weak a1b2,c3d4 --highlight e5f6`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject <suggestion-id>",
	Short: "Reject a suggestion",
	Long: `Reject a suggestion. Its assets stay excluded from incremental scans.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runReject,
}

func init() {
	rootCmd.AddCommand(approveCmd, rejectCmd)

	approveCmd.Flags().StringSlice("weak", nil, "Weak asset ids to include in the album")
	approveCmd.Flags().StringSlice("highlight", nil, "Asset ids to mark as favorites")
}

func runApprove(cmd *cobra.Command, args []string) error {
	id, err := parseSuggestionID(args[0])
	if err != nil {
		return err
	}
	opts := suggestion.ApproveOptions{
		WeakAssetIDs: mustGetStringSlice(cmd, "weak"),
		Highlights:   mustGetStringSlice(cmd, "highlight"),
	}

	return withService(func(ctx context.Context, _ database.Store, svc *suggestion.Service, cfg *config.Config) error {
		client, err := immich.NewClient(cfg.Immich)
		if err != nil {
			return fmt.Errorf("failed to create Immich client: %w", err)
		}
		sg, err := svc.Approve(ctx, id, opts, client)
		if err != nil {
			return fmt.Errorf("approve failed: %w", err)
		}
		fmt.Printf("Suggestion %d approved, created album %s (%d assets)\n",
			sg.ID, sg.CreatedAlbumID, len(sg.StrongAssetIDs)+len(opts.WeakAssetIDs))
		return nil
	})
}

func runReject(cmd *cobra.Command, args []string) error {
	id, err := parseSuggestionID(args[0])
	if err != nil {
		return err
	}
	return withService(func(ctx context.Context, _ database.Store, svc *suggestion.Service, _ *config.Config) error {
		sg, err := svc.Reject(ctx, id)
		if err != nil {
			return fmt.Errorf("reject failed: %w", err)
		}
		fmt.Printf("Suggestion %d rejected\n", sg.ID)
		return nil
	})
}
