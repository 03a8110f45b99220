package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kozaktomas/album-suggester/internal/config"
	"github.com/kozaktomas/album-suggester/internal/constants"
	"github.com/kozaktomas/album-suggester/internal/database"
	"github.com/kozaktomas/album-suggester/internal/database/postgres"
	"github.com/kozaktomas/album-suggester/internal/database/sqlite"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

// storeTarget picks the store driver for a DATABASE_URL value. Anything that
// is not a PostgreSQL URL is a SQLite path.
func storeTarget(url string) (driver, dsn string) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return driverPostgres, url
	case url == "":
		return driverSQLite, constants.DefaultSQLitePath
	}
	path := strings.TrimPrefix(url, "sqlite://")
	if path == "" {
		path = constants.DefaultSQLitePath
	}
	return driverSQLite, path
}

// openStore opens the suggestion store selected by DATABASE_URL.
func openStore(ctx context.Context, cfg *config.Config) (database.Store, error) {
	driver, dsn := storeTarget(cfg.Database.URL)
	if driver == driverPostgres {
		store, err := postgres.Open(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		return store, nil
	}
	store, err := sqlite.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite store %s: %w", dsn, err)
	}
	return store, nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Println("\nReceived interrupt signal...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

// parseSuggestionID parses a positional suggestion id.
func parseSuggestionID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid suggestion id %q", arg)
	}
	return id, nil
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02")
}
