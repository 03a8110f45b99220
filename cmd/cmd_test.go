package cmd

import (
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/kozaktomas/album-suggester/internal/database"
)

func TestStoreTarget(t *testing.T) {
	tests := []struct {
		url        string
		wantDriver string
		wantDSN    string
	}{
		{"", driverSQLite, "suggestions.db"},
		{"postgres://u:p@db/albums", driverPostgres, "postgres://u:p@db/albums"},
		{"postgresql://db/albums?sslmode=disable", driverPostgres, "postgresql://db/albums?sslmode=disable"},
		{"sqlite:///var/lib/albums.db", driverSQLite, "/var/lib/albums.db"},
		{"sqlite://", driverSQLite, "suggestions.db"},
		{"data/albums.db", driverSQLite, "data/albums.db"},
		{":memory:", driverSQLite, ":memory:"},
	}

	for _, tt := range tests {
		driver, dsn := storeTarget(tt.url)
		if driver != tt.wantDriver || dsn != tt.wantDSN {
			t.Errorf("storeTarget(%q) = %s, %s; want %s, %s", tt.url, driver, dsn, tt.wantDriver, tt.wantDSN)
		}
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"no candidates", errNoCandidates, 3},
		{"wrapped no candidates", fmt.Errorf("scan: %w", errNoCandidates), 3},
		{"failure", errors.New("boom"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("expected exit code %d, got %d", tt.want, got)
			}
		})
	}
}

func TestListFilter(t *testing.T) {
	f, err := listFilter(nil, database.SortByCreatedAt, "asc", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(f.Statuses, database.OpenStatuses) || f.Descending {
		t.Errorf("unexpected default filter %+v", f)
	}

	f, err = listFilter([]string{"pending", "approved"}, database.SortByImageCount, "desc", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []database.SuggestionStatus{database.StatusPending, database.StatusApproved}
	if !slices.Equal(f.Statuses, want) || !f.Descending || f.Limit != 10 {
		t.Errorf("unexpected filter %+v", f)
	}

	f, err = listFilter([]string{"all"}, database.SortByEventStart, "asc", 0)
	if err != nil || f.Statuses != nil {
		t.Errorf("expected all statuses, got %+v (%v)", f.Statuses, err)
	}

	invalid := []struct {
		statuses []string
		sortBy   string
		order    string
	}{
		{[]string{"done"}, database.SortByCreatedAt, "asc"},
		{nil, "title", "asc"},
		{nil, database.SortByCreatedAt, "up"},
	}
	for _, tt := range invalid {
		if _, err := listFilter(tt.statuses, tt.sortBy, tt.order, 0); err == nil {
			t.Errorf("expected error for %v %s %s", tt.statuses, tt.sortBy, tt.order)
		}
	}
}

func TestParseSuggestionID(t *testing.T) {
	if id, err := parseSuggestionID("42"); err != nil || id != 42 {
		t.Errorf("expected 42, got %d (%v)", id, err)
	}
	for _, arg := range []string{"0", "-1", "x"} {
		if _, err := parseSuggestionID(arg); err == nil {
			t.Errorf("expected error for %q", arg)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m5s"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
