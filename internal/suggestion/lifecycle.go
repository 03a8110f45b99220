// Package suggestion owns the review lifecycle of album suggestions. Every
// status change goes through Service, which checks it against the transition
// table and commits it with a compare-and-set in the store.
package suggestion

import (
	"errors"
	"fmt"
	"slices"

	"github.com/kozaktomas/album-suggester/internal/database"
)

var (
	// ErrNotFound is returned when no suggestion has the requested id.
	ErrNotFound = errors.New("suggestion not found")
	// ErrEnrichmentInProgress is returned to the loser of a concurrent enrichment start.
	ErrEnrichmentInProgress = errors.New("enrichment already in progress")
	// ErrMissingFields is returned when an enrichment result lacks a title or description.
	ErrMissingFields = errors.New("enrichment result is missing title or description")
	// ErrConflict is returned when the row keeps changing under a transition.
	ErrConflict = errors.New("suggestion changed concurrently")
)

// InvalidTransitionError reports a status change the lifecycle forbids.
type InvalidTransitionError struct {
	ID   int64
	From database.SuggestionStatus
	To   database.SuggestionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("suggestion %d: invalid transition %s -> %s", e.ID, e.From, e.To)
}

// InvalidInputError reports a request that references assets or values the
// suggestion does not allow.
type InvalidInputError struct {
	ID     int64
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("suggestion %d: %s", e.ID, e.Reason)
}

var transitions = map[database.SuggestionStatus][]database.SuggestionStatus{
	database.StatusPendingEnrichment: {database.StatusEnriching, database.StatusRejected},
	database.StatusEnriching:         {database.StatusPending, database.StatusEnrichmentFailed, database.StatusRejected},
	database.StatusEnrichmentFailed:  {database.StatusEnriching, database.StatusRejected},
	database.StatusPending:           {database.StatusApproved, database.StatusRejected},
	database.StatusFromImmich:        {database.StatusRejected},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to database.SuggestionStatus) bool {
	return slices.Contains(transitions[from], to)
}
