package suggestion

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kozaktomas/album-suggester/internal/clustering"
	"github.com/kozaktomas/album-suggester/internal/config"
	"github.com/kozaktomas/album-suggester/internal/database"
)

// maxCASAttempts bounds re-reads when a compare-and-set loses a race.
const maxCASAttempts = 5

// AlbumWriter creates and edits albums in the photo service.
type AlbumWriter interface {
	CreateAlbum(ctx context.Context, name, description string, assetIDs []string) (string, error)
	AddAssetsToAlbum(ctx context.Context, albumID string, assetIDs []string) error
	SetAlbumCover(ctx context.Context, albumID, assetID string) error
	SetFavorite(ctx context.Context, assetIDs []string, favorite bool) error
}

// Service applies lifecycle operations to stored suggestions.
type Service struct {
	store    database.Store
	defaults config.DefaultsConfig
	sink     EventSink
	now      func() time.Time

	// locks is shared by copies of the service. Operations that write to the
	// photo service hold the suggestion's lock until the status is stored.
	locks *keyedLocks
}

// NewService creates a service whose events go to the store's scan log.
func NewService(store database.Store, defaults config.DefaultsConfig) *Service {
	return &Service{
		store:    store,
		defaults: defaults,
		sink:     NewLogSink(store, ""),
		now:      time.Now,
		locks:    newKeyedLocks(),
	}
}

// WithRunID returns a copy of the service that stamps events with runID.
func (s *Service) WithRunID(runID string) *Service {
	c := *s
	c.sink = NewLogSink(s.store, runID)
	return &c
}

// WithSink returns a copy of the service publishing to sink.
func (s *Service) WithSink(sink EventSink) *Service {
	c := *s
	c.sink = sink
	return &c
}

// Get returns a suggestion or ErrNotFound.
func (s *Service) Get(ctx context.Context, id int64) (*database.StoredSuggestion, error) {
	sg, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sg == nil {
		return nil, fmt.Errorf("suggestion %d: %w", id, ErrNotFound)
	}
	return sg, nil
}

// Transition moves a suggestion to status to, applying upd in the same write.
// It re-reads and retries when another writer changed the row in between, so a
// legal change is never reported as invalid because of a stale read.
func (s *Service) Transition(ctx context.Context, id int64, to database.SuggestionStatus, upd *database.SuggestionUpdate) (*database.StoredSuggestion, error) {
	unlock, err := s.locks.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.transitionFrom(ctx, id, nil, to, upd)
}

// transitionFrom is Transition restricted to the given source statuses (nil
// allows any legal source). A same-status change updates fields only and
// needs an explicit from list.
func (s *Service) transitionFrom(ctx context.Context, id int64, from []database.SuggestionStatus, to database.SuggestionStatus, upd *database.SuggestionUpdate) (*database.StoredSuggestion, error) {
	for range maxCASAttempts {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		if from != nil && !slices.Contains(from, cur.Status) {
			return nil, s.rejectTransition(cur, to)
		}
		if cur.Status == to {
			if from == nil || cur.Status.Terminal() {
				return nil, s.rejectTransition(cur, to)
			}
		} else if !CanTransition(cur.Status, to) {
			return nil, s.rejectTransition(cur, to)
		}

		ok, err := s.store.Transition(ctx, id, cur.Status, to, upd)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		updated := *cur
		updated.Status = to
		upd.Apply(&updated)
		updated.UpdatedAt = s.now()
		if cur.Status != to || len(upd.Changed()) > 0 {
			s.sink.Publish(ctx, Event{
				SuggestionID: id,
				From:         cur.Status,
				To:           to,
				Changed:      upd.Changed(),
				At:           updated.UpdatedAt,
			})
		}
		return &updated, nil
	}
	return nil, fmt.Errorf("suggestion %d: %w", id, ErrConflict)
}

func (s *Service) rejectTransition(cur *database.StoredSuggestion, to database.SuggestionStatus) error {
	if to == database.StatusEnriching && cur.Status == database.StatusEnriching {
		return fmt.Errorf("suggestion %d: %w", cur.ID, ErrEnrichmentInProgress)
	}
	return &InvalidTransitionError{ID: cur.ID, From: cur.Status, To: to}
}

// CreateFromCandidate stores a new candidate as pending_enrichment with
// default title and description and the first strong asset as cover.
func (s *Service) CreateFromCandidate(ctx context.Context, c *clustering.AlbumCandidate, runID string) (*database.StoredSuggestion, error) {
	if c.Size() == 0 {
		return nil, errors.New("candidate has no assets")
	}

	sg := &database.StoredSuggestion{
		Status:         database.StatusPendingEnrichment,
		StrongAssetIDs: c.StrongAssetIDs,
		WeakAssetIDs:   c.WeakAssetIDs,
		Title:          s.defaults.Title(c.MinDate),
		Description:    s.defaults.Description,
		GPSPoints:      c.GPSPoints,
		RunID:          runID,
	}
	if len(c.StrongAssetIDs) > 0 {
		sg.CoverAssetID = c.StrongAssetIDs[0]
	} else {
		sg.CoverAssetID = c.WeakAssetIDs[0]
	}
	if !c.MinDate.IsZero() {
		start, end := c.MinDate, c.MaxDate
		sg.EventStart = &start
		sg.EventEnd = &end
	}

	if err := s.store.Insert(ctx, sg); err != nil {
		return nil, fmt.Errorf("store candidate: %w", err)
	}
	return sg, nil
}

// CreateFromAlbum records the additions found for an existing album as a
// from_immich suggestion. An existing open suggestion for the same album is
// refreshed instead of duplicated; created reports which happened.
func (s *Service) CreateFromAlbum(ctx context.Context, env *clustering.AlbumEnvelope, additions []string, runID string) (sg *database.StoredSuggestion, created bool, err error) {
	if err := env.Validate(); err != nil {
		return nil, false, err
	}

	existing, err := s.store.FindBySourceAlbum(ctx, env.AlbumID)
	if err != nil {
		return nil, false, fmt.Errorf("find album suggestion: %w", err)
	}
	if existing != nil {
		if slices.Equal(existing.AdditionalAssetIDs, additions) {
			return existing, false, nil
		}
		refreshed := append([]string{}, additions...)
		updated, err := s.transitionFrom(ctx, existing.ID,
			[]database.SuggestionStatus{database.StatusFromImmich}, database.StatusFromImmich,
			&database.SuggestionUpdate{AdditionalAssetIDs: &refreshed})
		return updated, false, err
	}

	start, end := env.MinDate, env.MaxDate
	sg = &database.StoredSuggestion{
		Status:             database.StatusFromImmich,
		StrongAssetIDs:     env.AssetIDs,
		AdditionalAssetIDs: additions,
		CoverAssetID:       env.CoverAssetID,
		Title:              env.Title,
		Description:        env.Description,
		SourceAlbumID:      env.AlbumID,
		EventStart:         &start,
		EventEnd:           &end,
		RunID:              runID,
	}
	if env.Location != nil {
		sg.GPSPoints = []clustering.GeoPoint{*env.Location}
	}
	if sg.CoverAssetID == "" && len(env.AssetIDs) > 0 {
		sg.CoverAssetID = env.AssetIDs[0]
	}

	if err := s.store.Insert(ctx, sg); err != nil {
		return nil, false, fmt.Errorf("store album suggestion: %w", err)
	}
	return sg, true, nil
}

// BeginEnrichment claims a suggestion for enrichment. Only one caller can
// win; the others get ErrEnrichmentInProgress.
func (s *Service) BeginEnrichment(ctx context.Context, id int64) (*database.StoredSuggestion, error) {
	cleared := ""
	return s.Transition(ctx, id, database.StatusEnriching, &database.SuggestionUpdate{
		EnrichmentError:   &cleared,
		IncrementAttempts: true,
	})
}

// EnrichmentResult is the outcome of analysing a suggestion.
type EnrichmentResult struct {
	Title        string
	Description  string
	Location     string
	CoverAssetID string // optional, must belong to the suggestion
}

// CompleteEnrichment stores the result and moves the suggestion to pending.
// A result without title or description moves it to enrichment_failed and
// returns ErrMissingFields.
func (s *Service) CompleteEnrichment(ctx context.Context, id int64, res EnrichmentResult) (*database.StoredSuggestion, error) {
	title := strings.TrimSpace(res.Title)
	description := strings.TrimSpace(res.Description)
	if title == "" || description == "" {
		if _, err := s.FailEnrichment(ctx, id, ErrMissingFields); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("suggestion %d: %w", id, ErrMissingFields)
	}

	upd := &database.SuggestionUpdate{
		Title:       &title,
		Description: &description,
	}
	if res.Location != "" {
		upd.Location = &res.Location
	}
	if res.CoverAssetID != "" {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if slices.Contains(cur.AssetIDs(), res.CoverAssetID) {
			upd.CoverAssetID = &res.CoverAssetID
		}
	}

	return s.transitionFrom(ctx, id, []database.SuggestionStatus{database.StatusEnriching}, database.StatusPending, upd)
}

// FailEnrichment moves an enriching suggestion to enrichment_failed and
// records the cause. Asset sets are untouched so the suggestion can be retried.
func (s *Service) FailEnrichment(ctx context.Context, id int64, cause error) (*database.StoredSuggestion, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return s.transitionFrom(ctx, id, []database.SuggestionStatus{database.StatusEnriching},
		database.StatusEnrichmentFailed, &database.SuggestionUpdate{EnrichmentError: &msg})
}

// RecoverStale fails suggestions that have been enriching for longer than
// olderThan, typically left behind by a crashed worker.
func (s *Service) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.store.ListStale(ctx, database.StatusEnriching, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, sg := range stale {
		_, err := s.FailEnrichment(ctx, sg.ID, fmt.Errorf("enrichment abandoned after %s", olderThan))
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) {
			continue // finished in the meantime
		}
		if err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// ApproveOptions selects what goes into the created album.
type ApproveOptions struct {
	WeakAssetIDs []string // weak assets to include, strong ones always are
	Highlights   []string // assets to mark as favourites
}

// Approve creates the album in the photo service and then marks the
// suggestion approved. Nothing is written to the store if the album write fails.
// The suggestion stays locked for the whole call, so a concurrent approve or
// reject waits and then sees the approved status.
func (s *Service) Approve(ctx context.Context, id int64, opts ApproveOptions, albums AlbumWriter) (*database.StoredSuggestion, error) {
	unlock, err := s.locks.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(cur.Status, database.StatusApproved) {
		return nil, &InvalidTransitionError{ID: id, From: cur.Status, To: database.StatusApproved}
	}

	for _, w := range opts.WeakAssetIDs {
		if !slices.Contains(cur.WeakAssetIDs, w) {
			return nil, &InvalidInputError{ID: id, Reason: fmt.Sprintf("asset %s is not a weak asset", w)}
		}
	}
	assets := append(slices.Clone(cur.StrongAssetIDs), opts.WeakAssetIDs...)
	for _, h := range opts.Highlights {
		if !slices.Contains(assets, h) {
			return nil, &InvalidInputError{ID: id, Reason: fmt.Sprintf("highlight %s is not part of the album", h)}
		}
	}
	if len(assets) == 0 {
		return nil, &InvalidInputError{ID: id, Reason: "album would be empty"}
	}

	albumID, err := albums.CreateAlbum(ctx, cur.Title, cur.Description, assets)
	if err != nil {
		return nil, fmt.Errorf("create album: %w", err)
	}
	if cur.CoverAssetID != "" && slices.Contains(assets, cur.CoverAssetID) {
		if err := albums.SetAlbumCover(ctx, albumID, cur.CoverAssetID); err != nil {
			return nil, fmt.Errorf("set album cover: %w", err)
		}
	}
	if len(opts.Highlights) > 0 {
		if err := albums.SetFavorite(ctx, opts.Highlights, true); err != nil {
			return nil, fmt.Errorf("favourite highlights: %w", err)
		}
	}

	return s.transitionFrom(ctx, id, []database.SuggestionStatus{database.StatusPending},
		database.StatusApproved, &database.SuggestionUpdate{CreatedAlbumID: &albumID})
}

// ApplyAdditions adds selected additional assets to the source album of a
// from_immich suggestion. The remaining additions stay on the suggestion.
func (s *Service) ApplyAdditions(ctx context.Context, id int64, selected []string, albums AlbumWriter) (*database.StoredSuggestion, error) {
	unlock, err := s.locks.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != database.StatusFromImmich {
		return nil, &InvalidInputError{ID: id, Reason: "only suggestions from existing albums accept additions"}
	}
	if len(selected) == 0 {
		selected = cur.AdditionalAssetIDs
	}
	for _, a := range selected {
		if !slices.Contains(cur.AdditionalAssetIDs, a) {
			return nil, &InvalidInputError{ID: id, Reason: fmt.Sprintf("asset %s is not a suggested addition", a)}
		}
	}
	if len(selected) == 0 {
		return cur, nil
	}

	if err := albums.AddAssetsToAlbum(ctx, cur.SourceAlbumID, selected); err != nil {
		return nil, fmt.Errorf("add assets to album %s: %w", cur.SourceAlbumID, err)
	}

	remaining := []string{}
	for _, a := range cur.AdditionalAssetIDs {
		if !slices.Contains(selected, a) {
			remaining = append(remaining, a)
		}
	}
	return s.transitionFrom(ctx, id, []database.SuggestionStatus{database.StatusFromImmich},
		database.StatusFromImmich, &database.SuggestionUpdate{AdditionalAssetIDs: &remaining})
}

// Reject moves any non-terminal suggestion to rejected.
func (s *Service) Reject(ctx context.Context, id int64) (*database.StoredSuggestion, error) {
	return s.Transition(ctx, id, database.StatusRejected, nil)
}

// SetTitle changes the title of a suggestion still under review.
func (s *Service) SetTitle(ctx context.Context, id int64, title string) (*database.StoredSuggestion, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, &InvalidInputError{ID: id, Reason: "title must not be empty"}
	}
	unlock, err := s.locks.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.updateOpen(ctx, id, &database.SuggestionUpdate{Title: &title})
}

// SetCover changes the cover asset, which must belong to the suggestion.
func (s *Service) SetCover(ctx context.Context, id int64, assetID string) (*database.StoredSuggestion, error) {
	unlock, err := s.locks.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(cur.AssetIDs(), assetID) {
		return nil, &InvalidInputError{ID: id, Reason: fmt.Sprintf("asset %s is not part of the suggestion", assetID)}
	}
	return s.updateOpen(ctx, id, &database.SuggestionUpdate{CoverAssetID: &assetID})
}

// updateOpen writes fields without changing the status of a non-terminal suggestion.
func (s *Service) updateOpen(ctx context.Context, id int64, upd *database.SuggestionUpdate) (*database.StoredSuggestion, error) {
	for range maxCASAttempts {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if cur.Status.Terminal() {
			return nil, &InvalidTransitionError{ID: id, From: cur.Status, To: cur.Status}
		}
		updated, err := s.transitionFrom(ctx, id, []database.SuggestionStatus{cur.Status}, cur.Status, upd)
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) {
			continue // status moved on, re-evaluate
		}
		return updated, err
	}
	return nil, fmt.Errorf("suggestion %d: %w", id, ErrConflict)
}
