package suggestion

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kozaktomas/album-suggester/internal/database"
)

// Event describes one committed status change.
type Event struct {
	SuggestionID int64                     `json:"suggestion_id"`
	From         database.SuggestionStatus `json:"from"`
	To           database.SuggestionStatus `json:"to"`
	Changed      []string                  `json:"changed,omitempty"`
	At           time.Time                 `json:"at"`
}

func (e Event) String() string {
	s := fmt.Sprintf("Suggestion %d: %s -> %s", e.SuggestionID, e.From, e.To)
	if len(e.Changed) > 0 {
		s += " (" + strings.Join(e.Changed, ", ") + ")"
	}
	return s
}

// EventSink receives lifecycle events after they are committed.
type EventSink interface {
	Publish(ctx context.Context, e Event)
}

// LogSink writes events to the scan log.
type LogSink struct {
	log   database.ScanLogWriter
	runID string
}

// NewLogSink creates a sink stamping entries with runID.
func NewLogSink(w database.ScanLogWriter, runID string) *LogSink {
	return &LogSink{log: w, runID: runID}
}

func (s *LogSink) Publish(ctx context.Context, e Event) {
	level := database.LevelInfo
	if e.To == database.StatusEnrichmentFailed {
		level = database.LevelWarning
	}
	if err := s.log.Append(ctx, level, s.runID, e.String()); err != nil {
		log.Printf("Failed to write scan log: %v", err)
	}
}
