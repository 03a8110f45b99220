package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/album-suggester/internal/config"
	"github.com/kozaktomas/album-suggester/internal/immich"
	"github.com/kozaktomas/album-suggester/internal/suggestion"
	"github.com/kozaktomas/album-suggester/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the JSON review API",
	Long: `Start the HTTP server behind the review front end. It lists, enriches,
approves and rejects suggestions and streams the scan log.

Set API_TOKEN to require a bearer token on every endpoint but the health
check. Enrichment and approval are only available when the vision provider
and the Immich API are configured.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (string, int) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" && !cmd.Flags().Changed("port") {
		if p, err := strconv.Atoi(envPort); err == nil {
			port = p
		}
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" && !cmd.Flags().Changed("host") {
		host = envHost
	}
	return host, port
}

func runServe(cmd *cobra.Command, args []string) error {
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
	deps := web.Deps{Store: store, Service: svc}

	// Interface fields stay nil unless the collaborator is configured.
	if client, err := immich.NewClient(cfg.Immich); err != nil {
		fmt.Printf("Warning: Immich API unavailable, approval disabled: %v\n", err)
	} else {
		deps.Albums = client
	}
	if enr, provider, err := buildEnricher(ctx, cfg, store, svc, cfg.VLM.Provider, uuid.NewString()); err != nil {
		fmt.Printf("Warning: enrichment disabled: %v\n", err)
	} else {
		deps.Enricher = enr
		if provider != nil {
			fmt.Printf("Vision provider: %s\n", provider.Name())
		}
	}
	if cfg.Web.Token == "" {
		fmt.Println("Warning: API_TOKEN is not set, the API is unauthenticated")
	}

	host, port := resolveServeHostPort(cmd)
	server := web.NewServer(cfg.Web, deps, host, port)

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Album Suggester API on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	<-done
	return nil
}
