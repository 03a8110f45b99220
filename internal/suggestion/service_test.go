package suggestion

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/album-suggester/internal/clustering"
	"github.com/kozaktomas/album-suggester/internal/config"
	"github.com/kozaktomas/album-suggester/internal/database"
	"github.com/kozaktomas/album-suggester/internal/database/mock"
)

var testDefaults = config.DefaultsConfig{
	TitleTemplate: "Event from {date}",
	Description:   "A collection of photos from an event.",
}

type fakeAlbums struct {
	mu           sync.Mutex
	createErr    error
	createCalls  int
	beforeCreate func() // runs outside the mutex, may block
	created      map[string][]string
	covers       map[string]string
	favorites    []string
	added        map[string][]string
}

func newFakeAlbums() *fakeAlbums {
	return &fakeAlbums{
		created: make(map[string][]string),
		covers:  make(map[string]string),
		added:   make(map[string][]string),
	}
}

func (f *fakeAlbums) CreateAlbum(ctx context.Context, name, description string, assetIDs []string) (string, error) {
	if f.beforeCreate != nil {
		f.beforeCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	id := "album-" + name
	f.created[id] = append([]string(nil), assetIDs...)
	return id, nil
}

func (f *fakeAlbums) AddAssetsToAlbum(ctx context.Context, albumID string, assetIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added[albumID] = append(f.added[albumID], assetIDs...)
	return nil
}

func (f *fakeAlbums) SetAlbumCover(ctx context.Context, albumID, assetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.covers[albumID] = assetID
	return nil
}

func (f *fakeAlbums) SetFavorite(ctx context.Context, assetIDs []string, favorite bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.favorites = append(f.favorites, assetIDs...)
	return nil
}

func setup(t *testing.T, status database.SuggestionStatus) (*Service, *mock.MockStore, int64) {
	t.Helper()
	store := mock.NewMockStore()
	store.AddSuggestion(database.StoredSuggestion{
		ID:             1,
		Status:         status,
		StrongAssetIDs: []string{"s1", "s2", "s3"},
		WeakAssetIDs:   []string{"w1", "w2"},
		CoverAssetID:   "s1",
		Title:          "Event from May 2025",
		Description:    "A collection of photos from an event.",
	})
	return NewService(store, testDefaults), store, 1
}

func TestCanTransition(t *testing.T) {
	all := []database.SuggestionStatus{
		database.StatusPendingEnrichment,
		database.StatusEnriching,
		database.StatusPending,
		database.StatusEnrichmentFailed,
		database.StatusApproved,
		database.StatusRejected,
		database.StatusFromImmich,
	}
	legal := map[[2]database.SuggestionStatus]bool{
		{database.StatusPendingEnrichment, database.StatusEnriching}: true,
		{database.StatusEnriching, database.StatusPending}:           true,
		{database.StatusEnriching, database.StatusEnrichmentFailed}:  true,
		{database.StatusEnrichmentFailed, database.StatusEnriching}:  true,
		{database.StatusPending, database.StatusApproved}:            true,
	}
	for _, s := range all {
		if !s.Terminal() {
			legal[[2]database.SuggestionStatus{s, database.StatusRejected}] = true
		}
	}

	for _, from := range all {
		for _, to := range all {
			want := legal[[2]database.SuggestionStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTransition_InvalidLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	svc, store, id := setup(t, database.StatusApproved)

	_, err := svc.BeginEnrichment(ctx, id)

	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("Expected InvalidTransitionError, got %v", err)
	}
	if invalid.From != database.StatusApproved || invalid.To != database.StatusEnriching {
		t.Errorf("Unexpected error details: %+v", invalid)
	}
	got, _ := store.Get(ctx, id)
	if got.Status != database.StatusApproved || got.EnrichmentAttempts != 0 {
		t.Errorf("State changed after invalid transition: %+v", got)
	}
	if len(store.Transitions) != 0 {
		t.Errorf("Store must not be written, got %d transition calls", len(store.Transitions))
	}
}

func TestTransition_NotFound(t *testing.T) {
	svc, _, _ := setup(t, database.StatusPending)
	if _, err := svc.Reject(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestBeginEnrichment_AtMostOneConcurrent(t *testing.T) {
	ctx := context.Background()
	svc, store, id := setup(t, database.StatusPendingEnrichment)

	const workers = 10
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.BeginEnrichment(ctx, id)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrEnrichmentInProgress):
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("Expected exactly one winner, got %d", wins)
	}
	got, _ := store.Get(ctx, id)
	if got.EnrichmentAttempts != 1 {
		t.Errorf("Expected 1 attempt recorded, got %d", got.EnrichmentAttempts)
	}
}

func TestEnrichment_FailRetryComplete(t *testing.T) {
	ctx := context.Background()
	svc, store, id := setup(t, database.StatusPendingEnrichment)
	before, _ := store.Get(ctx, id)

	if _, err := svc.BeginEnrichment(ctx, id); err != nil {
		t.Fatalf("BeginEnrichment failed: %v", err)
	}
	failed, err := svc.FailEnrichment(ctx, id, context.DeadlineExceeded)
	if err != nil {
		t.Fatalf("FailEnrichment failed: %v", err)
	}
	if failed.Status != database.StatusEnrichmentFailed {
		t.Fatalf("Expected enrichment_failed, got %s", failed.Status)
	}
	if failed.EnrichmentError != context.DeadlineExceeded.Error() {
		t.Errorf("Expected error to be recorded, got %q", failed.EnrichmentError)
	}

	if _, err := svc.BeginEnrichment(ctx, id); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	done, err := svc.CompleteEnrichment(ctx, id, EnrichmentResult{
		Title:        "  Hiking in the Tatras ",
		Description:  "Two days on the ridge.",
		Location:     "Slovakia",
		CoverAssetID: "w2",
	})
	if err != nil {
		t.Fatalf("CompleteEnrichment failed: %v", err)
	}

	got, _ := store.Get(ctx, id)
	if got.Status != database.StatusPending {
		t.Errorf("Expected pending, got %s", got.Status)
	}
	if got.Title != "Hiking in the Tatras" || got.Location != "Slovakia" || got.CoverAssetID != "w2" {
		t.Errorf("Result not stored: %+v", got)
	}
	if got.EnrichmentError != "" {
		t.Errorf("Retry should clear the previous error, got %q", got.EnrichmentError)
	}
	if got.EnrichmentAttempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", got.EnrichmentAttempts)
	}
	if !reflect.DeepEqual(got.StrongAssetIDs, before.StrongAssetIDs) || !reflect.DeepEqual(got.WeakAssetIDs, before.WeakAssetIDs) {
		t.Errorf("Asset sets changed: strong=%v weak=%v", got.StrongAssetIDs, got.WeakAssetIDs)
	}
	if done.Status != database.StatusPending {
		t.Errorf("Returned suggestion has status %s", done.Status)
	}
}

func TestCompleteEnrichment_MissingFields(t *testing.T) {
	ctx := context.Background()
	svc, store, id := setup(t, database.StatusEnriching)

	_, err := svc.CompleteEnrichment(ctx, id, EnrichmentResult{Title: "Only a title"})
	if !errors.Is(err, ErrMissingFields) {
		t.Fatalf("Expected ErrMissingFields, got %v", err)
	}
	got, _ := store.Get(ctx, id)
	if got.Status != database.StatusEnrichmentFailed {
		t.Errorf("Expected enrichment_failed, got %s", got.Status)
	}
	if got.Title != "Event from May 2025" {
		t.Errorf("Title must not change, got %q", got.Title)
	}
}

func TestCompleteEnrichment_IgnoresForeignCover(t *testing.T) {
	ctx := context.Background()
	svc, store, id := setup(t, database.StatusEnriching)

	if _, err := svc.CompleteEnrichment(ctx, id, EnrichmentResult{
		Title: "t", Description: "d", CoverAssetID: "not-mine",
	}); err != nil {
		t.Fatalf("CompleteEnrichment failed: %v", err)
	}
	got, _ := store.Get(ctx, id)
	if got.CoverAssetID != "s1" {
		t.Errorf("Expected cover to stay s1, got %s", got.CoverAssetID)
	}
}

func TestReject_FromEveryOpenStatus(t *testing.T) {
	for _, status := range database.OpenStatuses {
		t.Run(string(status), func(t *testing.T) {
			svc, store, id := setup(t, status)
			if _, err := svc.Reject(context.Background(), id); err != nil {
				t.Fatalf("Reject failed: %v", err)
			}
			got, _ := store.Get(context.Background(), id)
			if got.Status != database.StatusRejected {
				t.Errorf("Expected rejected, got %s", got.Status)
			}
		})
	}

	t.Run("rejected twice", func(t *testing.T) {
		svc, _, id := setup(t, database.StatusRejected)
		var invalid *InvalidTransitionError
		if _, err := svc.Reject(context.Background(), id); !errors.As(err, &invalid) {
			t.Errorf("Expected InvalidTransitionError, got %v", err)
		}
	})
}

func TestApprove(t *testing.T) {
	ctx := context.Background()
	svc, store, id := setup(t, database.StatusPending)
	albums := newFakeAlbums()

	got, err := svc.Approve(ctx, id, ApproveOptions{
		WeakAssetIDs: []string{"w2"},
		Highlights:   []string{"s2"},
	}, albums)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	albumID := "album-Event from May 2025"
	if got.CreatedAlbumID != albumID {
		t.Errorf("Expected created album %q, got %q", albumID, got.CreatedAlbumID)
	}
	if want := []string{"s1", "s2", "s3", "w2"}; !reflect.DeepEqual(albums.created[albumID], want) {
		t.Errorf("Album assets = %v, want %v", albums.created[albumID], want)
	}
	if albums.covers[albumID] != "s1" {
		t.Errorf("Expected cover s1, got %q", albums.covers[albumID])
	}
	if !reflect.DeepEqual(albums.favorites, []string{"s2"}) {
		t.Errorf("Expected favourite s2, got %v", albums.favorites)
	}
	stored, _ := store.Get(ctx, id)
	if stored.Status != database.StatusApproved {
		t.Errorf("Expected approved, got %s", stored.Status)
	}
}

func TestApprove_AlbumFailureKeepsPending(t *testing.T) {
	ctx := context.Background()
	svc, store, id := setup(t, database.StatusPending)
	albums := newFakeAlbums()
	albums.createErr = errors.New("immich unavailable")

	if _, err := svc.Approve(ctx, id, ApproveOptions{}, albums); err == nil {
		t.Fatal("Expected error")
	}
	got, _ := store.Get(ctx, id)
	if got.Status != database.StatusPending {
		t.Errorf("Expected pending, got %s", got.Status)
	}
}

func TestApprove_ConcurrentCreatesOneAlbum(t *testing.T) {
	ctx := context.Background()
	svc, store, id := setup(t, database.StatusPending)
	albums := newFakeAlbums()
	albums.beforeCreate = func() { time.Sleep(20 * time.Millisecond) }

	const callers = 5
	var wg sync.WaitGroup
	results := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every caller works on its own copy, as separate requests do
			_, results[i] = svc.WithRunID("run").Approve(ctx, id, ApproveOptions{}, albums)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		var invalid *InvalidTransitionError
		switch {
		case err == nil:
			wins++
		case errors.As(err, &invalid):
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("Expected exactly one approval, got %d", wins)
	}
	if albums.createCalls != 1 {
		t.Errorf("Expected one album, CreateAlbum was called %d times", albums.createCalls)
	}
	got, _ := store.Get(ctx, id)
	if got.Status != database.StatusApproved || got.CreatedAlbumID == "" {
		t.Errorf("Expected approved with album, got %s %q", got.Status, got.CreatedAlbumID)
	}
}

func TestApprove_RejectWaitsForAlbumWrite(t *testing.T) {
	ctx := context.Background()
	svc, store, id := setup(t, database.StatusPending)
	albums := newFakeAlbums()
	started := make(chan struct{})
	release := make(chan struct{})
	albums.beforeCreate = func() {
		close(started)
		<-release
	}

	approveErr := make(chan error, 1)
	go func() {
		_, err := svc.Approve(ctx, id, ApproveOptions{}, albums)
		approveErr <- err
	}()
	<-started

	rejectErr := make(chan error, 1)
	go func() {
		_, err := svc.Reject(ctx, id)
		rejectErr <- err
	}()
	close(release)

	if err := <-approveErr; err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	var invalid *InvalidTransitionError
	if err := <-rejectErr; !errors.As(err, &invalid) {
		t.Errorf("Expected reject of approved suggestion to fail, got %v", err)
	}
	got, _ := store.Get(ctx, id)
	if got.Status != database.StatusApproved || got.CreatedAlbumID == "" {
		t.Errorf("Expected approved with album, got %s %q", got.Status, got.CreatedAlbumID)
	}
}

func TestApprove_LockHonoursContext(t *testing.T) {
	svc, _, id := setup(t, database.StatusPending)
	unlock, err := svc.locks.lock(context.Background(), id)
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := svc.Approve(ctx, id, ApproveOptions{}, newFakeAlbums()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestApprove_Validation(t *testing.T) {
	tests := []struct {
		name   string
		status database.SuggestionStatus
		opts   ApproveOptions
		want   any
	}{
		{"not pending", database.StatusPendingEnrichment, ApproveOptions{}, &InvalidTransitionError{}},
		{"unknown weak asset", database.StatusPending, ApproveOptions{WeakAssetIDs: []string{"s1"}}, &InvalidInputError{}},
		{"highlight outside album", database.StatusPending, ApproveOptions{Highlights: []string{"w1"}}, &InvalidInputError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, id := setup(t, tt.status)
			albums := newFakeAlbums()
			_, err := svc.Approve(context.Background(), id, tt.opts, albums)
			if err == nil {
				t.Fatal("Expected error")
			}
			if reflect.TypeOf(err) != reflect.TypeOf(tt.want) {
				t.Errorf("Expected %T, got %T (%v)", tt.want, err, err)
			}
			if len(albums.created) != 0 {
				t.Error("No album may be created on validation failure")
			}
		})
	}
}

func TestCreateFromCandidate(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	svc := NewService(store, testDefaults)

	minDate := time.Date(2025, time.July, 4, 12, 0, 0, 0, time.UTC)
	c := &clustering.AlbumCandidate{
		StrongAssetIDs: []string{"a", "b"},
		WeakAssetIDs:   []string{"c"},
		MinDate:        minDate,
		MaxDate:        minDate.Add(3 * time.Hour),
		GPSPoints:      []clustering.GeoPoint{{Lat: 1, Lon: 2}},
	}

	sg, err := svc.CreateFromCandidate(ctx, c, "run-9")
	if err != nil {
		t.Fatalf("CreateFromCandidate failed: %v", err)
	}
	if sg.Status != database.StatusPendingEnrichment {
		t.Errorf("Expected pending_enrichment, got %s", sg.Status)
	}
	if sg.Title != "Event from July 2025" {
		t.Errorf("Unexpected title %q", sg.Title)
	}
	if sg.CoverAssetID != "a" {
		t.Errorf("Expected cover a, got %q", sg.CoverAssetID)
	}
	if sg.EventStart == nil || !sg.EventStart.Equal(minDate) {
		t.Errorf("Unexpected event start %v", sg.EventStart)
	}
	if sg.RunID != "run-9" {
		t.Errorf("Expected run id, got %q", sg.RunID)
	}
}

func TestCreateFromAlbum_Deduplicates(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	svc := NewService(store, testDefaults)

	env := &clustering.AlbumEnvelope{
		AlbumID:  "immich-1",
		Title:    "Wedding",
		AssetIDs: []string{"m1", "m2"},
		MinDate:  time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
		MaxDate:  time.Date(2024, time.June, 2, 0, 0, 0, 0, time.UTC),
	}

	first, created, err := svc.CreateFromAlbum(ctx, env, []string{"x1"}, "run-1")
	if err != nil || !created {
		t.Fatalf("First call: created=%v err=%v", created, err)
	}
	if first.Status != database.StatusFromImmich || first.CoverAssetID != "m1" {
		t.Errorf("Unexpected suggestion %+v", first)
	}

	second, created, err := svc.CreateFromAlbum(ctx, env, []string{"x1", "x2"}, "run-2")
	if err != nil {
		t.Fatalf("Second call failed: %v", err)
	}
	if created || second.ID != first.ID {
		t.Errorf("Expected the existing suggestion to be refreshed, got id %d created=%v", second.ID, created)
	}
	if !reflect.DeepEqual(second.AdditionalAssetIDs, []string{"x1", "x2"}) {
		t.Errorf("Expected refreshed additions, got %v", second.AdditionalAssetIDs)
	}

	list, _ := store.List(ctx, database.SuggestionFilter{})
	if len(list) != 1 {
		t.Errorf("Expected a single suggestion, got %d", len(list))
	}

	var srcErr *clustering.AugmentationSourceError
	if _, _, err := svc.CreateFromAlbum(ctx, &clustering.AlbumEnvelope{AlbumID: "bad"}, nil, ""); !errors.As(err, &srcErr) {
		t.Errorf("Expected AugmentationSourceError, got %v", err)
	}
}

func TestApplyAdditions(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddSuggestion(database.StoredSuggestion{
		ID:                 3,
		Status:             database.StatusFromImmich,
		SourceAlbumID:      "immich-1",
		StrongAssetIDs:     []string{"m1"},
		AdditionalAssetIDs: []string{"x1", "x2", "x3"},
	})
	svc := NewService(store, testDefaults)
	albums := newFakeAlbums()

	got, err := svc.ApplyAdditions(ctx, 3, []string{"x2"}, albums)
	if err != nil {
		t.Fatalf("ApplyAdditions failed: %v", err)
	}
	if !reflect.DeepEqual(albums.added["immich-1"], []string{"x2"}) {
		t.Errorf("Expected x2 added to album, got %v", albums.added["immich-1"])
	}
	if !reflect.DeepEqual(got.AdditionalAssetIDs, []string{"x1", "x3"}) {
		t.Errorf("Expected remaining [x1 x3], got %v", got.AdditionalAssetIDs)
	}
	if got.Status != database.StatusFromImmich {
		t.Errorf("Status must stay from_immich, got %s", got.Status)
	}

	var input *InvalidInputError
	if _, err := svc.ApplyAdditions(ctx, 3, []string{"x2"}, albums); !errors.As(err, &input) {
		t.Errorf("Expected InvalidInputError for an already applied asset, got %v", err)
	}
}

func TestSetTitleAndCover(t *testing.T) {
	ctx := context.Background()
	svc, store, id := setup(t, database.StatusPending)

	if _, err := svc.SetTitle(ctx, id, "Birthday party"); err != nil {
		t.Fatalf("SetTitle failed: %v", err)
	}
	if _, err := svc.SetCover(ctx, id, "w1"); err != nil {
		t.Fatalf("SetCover failed: %v", err)
	}
	got, _ := store.Get(ctx, id)
	if got.Title != "Birthday party" || got.CoverAssetID != "w1" || got.Status != database.StatusPending {
		t.Errorf("Unexpected suggestion %+v", got)
	}

	var input *InvalidInputError
	if _, err := svc.SetTitle(ctx, id, "   "); !errors.As(err, &input) {
		t.Errorf("Expected InvalidInputError for empty title, got %v", err)
	}
	if _, err := svc.SetCover(ctx, id, "elsewhere"); !errors.As(err, &input) {
		t.Errorf("Expected InvalidInputError for foreign cover, got %v", err)
	}

	if _, err := svc.Reject(ctx, id); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	var invalid *InvalidTransitionError
	if _, err := svc.SetTitle(ctx, id, "Too late"); !errors.As(err, &invalid) {
		t.Errorf("Expected InvalidTransitionError on a rejected suggestion, got %v", err)
	}
}

func TestRecoverStale(t *testing.T) {
	ctx := context.Background()
	svc, store, id := setup(t, database.StatusPendingEnrichment)

	start := time.Date(2025, time.January, 1, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return start })
	if _, err := svc.BeginEnrichment(ctx, id); err != nil {
		t.Fatalf("BeginEnrichment failed: %v", err)
	}

	svc.now = func() time.Time { return start.Add(10 * time.Minute) }
	n, err := svc.RecoverStale(ctx, 30*time.Minute)
	if err != nil || n != 0 {
		t.Fatalf("Expected nothing to recover yet, got n=%d err=%v", n, err)
	}

	svc.now = func() time.Time { return start.Add(time.Hour) }
	n, err = svc.RecoverStale(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("RecoverStale failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 recovered, got %d", n)
	}
	got, _ := store.Get(ctx, id)
	if got.Status != database.StatusEnrichmentFailed {
		t.Errorf("Expected enrichment_failed, got %s", got.Status)
	}
}

func TestEventsAreLogged(t *testing.T) {
	ctx := context.Background()
	svc, store, id := setup(t, database.StatusPendingEnrichment)

	if _, err := svc.WithRunID("run-42").BeginEnrichment(ctx, id); err != nil {
		t.Fatalf("BeginEnrichment failed: %v", err)
	}

	logs := store.Logs()
	if len(logs) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(logs))
	}
	if logs[0].RunID != "run-42" {
		t.Errorf("Expected run id run-42, got %q", logs[0].RunID)
	}
	if !strings.Contains(logs[0].Message, "pending_enrichment -> enriching") {
		t.Errorf("Unexpected message %q", logs[0].Message)
	}
}
