package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Exit codes of the process.
const (
	exitOK           = 0
	exitFailure      = 1
	exitNoCandidates = 3
)

// errNoCandidates marks a successful scan that found nothing new.
var errNoCandidates = errors.New("no new candidates")

var rootCmd = &cobra.Command{
	Use:   "album-suggester",
	Short: "Suggest event albums for an Immich library",
	Long: `Album Suggester reads assets and CLIP embeddings from an Immich
installation, groups them into events and proposes albums for review.
Suggestions can be enriched with a vision model, approved into real Immich
albums or rejected, from the command line or the JSON API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the matching status code.
func Execute() {
	os.Exit(exitCode(rootCmd.Execute()))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errNoCandidates):
		fmt.Fprintln(os.Stderr, err)
		return exitNoCandidates
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitFailure
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
