// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/album-suggester/internal/database"
)

var _ database.Store = (*MockStore)(nil)

// TransitionCall records one Transition invocation
type TransitionCall struct {
	ID     int64
	From   database.SuggestionStatus
	To     database.SuggestionStatus
	Update *database.SuggestionUpdate
	OK     bool
}

// MockStore is an in-memory implementation of database.Store
type MockStore struct {
	mu          sync.RWMutex
	suggestions map[int64]*database.StoredSuggestion
	logs        []database.ScanLogEntry
	nextID      int64
	now         func() time.Time

	// Recorded calls
	Transitions []TransitionCall

	// Error injection
	InsertError     error
	GetError        error
	ListError       error
	TransitionError error
	DeleteError     error
	AppendError     error
	SinceError      error
}

// NewMockStore creates a new mock store
func NewMockStore() *MockStore {
	return &MockStore{
		suggestions: make(map[int64]*database.StoredSuggestion),
		now:         time.Now,
	}
}

// SetClock replaces the time source used for timestamps
func (m *MockStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func clone(s *database.StoredSuggestion) database.StoredSuggestion {
	c := *s
	c.StrongAssetIDs = append([]string(nil), s.StrongAssetIDs...)
	c.WeakAssetIDs = append([]string(nil), s.WeakAssetIDs...)
	c.AdditionalAssetIDs = append([]string(nil), s.AdditionalAssetIDs...)
	c.GPSPoints = append(c.GPSPoints[:0:0], s.GPSPoints...)
	return c
}

// AddSuggestion stores a suggestion as-is, keeping its id and status
func (m *MockStore) AddSuggestion(s database.StoredSuggestion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		m.nextID++
		s.ID = m.nextID
	} else if s.ID > m.nextID {
		m.nextID = s.ID
	}
	c := clone(&s)
	m.suggestions[s.ID] = &c
}

// Insert stores a new suggestion
func (m *MockStore) Insert(ctx context.Context, s *database.StoredSuggestion) error {
	if m.InsertError != nil {
		return m.InsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = m.nextID
	s.CreatedAt = m.now()
	s.UpdatedAt = s.CreatedAt
	c := clone(s)
	m.suggestions[s.ID] = &c
	return nil
}

// Get retrieves a suggestion by id
func (m *MockStore) Get(ctx context.Context, id int64) (*database.StoredSuggestion, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.suggestions[id]
	if !ok {
		return nil, nil
	}
	c := clone(s)
	return &c, nil
}

// sorted returns copies of all suggestions ordered by id. Caller holds the lock.
func (m *MockStore) sorted(keep func(*database.StoredSuggestion) bool) []database.StoredSuggestion {
	var list []database.StoredSuggestion
	for _, s := range m.suggestions {
		if keep(s) {
			list = append(list, clone(s))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// List returns suggestions matching the filter
func (m *MockStore) List(ctx context.Context, filter database.SuggestionFilter) ([]database.StoredSuggestion, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.sorted(func(s *database.StoredSuggestion) bool {
		if len(filter.Statuses) == 0 {
			return true
		}
		for _, st := range filter.Statuses {
			if s.Status == st {
				return true
			}
		}
		return false
	})
	database.SortSuggestions(list, filter.SortBy, filter.Descending)
	if filter.Limit > 0 && len(list) > filter.Limit {
		list = list[:filter.Limit]
	}
	return list, nil
}

// ProcessedAssetIDs returns every asset id referenced by any suggestion
func (m *MockStore) ProcessedAssetIDs(ctx context.Context) ([]string, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := make(map[string]struct{})
	for _, s := range m.suggestions {
		for _, id := range s.AssetIDs() {
			set[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// FindBySourceAlbum returns the newest from_immich suggestion for an album
func (m *MockStore) FindBySourceAlbum(ctx context.Context, albumID string) (*database.StoredSuggestion, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *database.StoredSuggestion
	for _, s := range m.suggestions {
		if s.Status == database.StatusFromImmich && s.SourceAlbumID == albumID {
			if best == nil || s.ID > best.ID {
				best = s
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	c := clone(best)
	return &c, nil
}

// Transition applies the update when the stored status equals from
func (m *MockStore) Transition(ctx context.Context, id int64, from, to database.SuggestionStatus, upd *database.SuggestionUpdate) (bool, error) {
	if m.TransitionError != nil {
		return false, m.TransitionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.suggestions[id]
	applied := ok && s.Status == from
	if applied {
		s.Status = to
		upd.Apply(s)
		s.UpdatedAt = m.now()
	}
	m.Transitions = append(m.Transitions, TransitionCall{ID: id, From: from, To: to, Update: upd, OK: applied})
	return applied, nil
}

// ListStale returns suggestions stuck in status since before
func (m *MockStore) ListStale(ctx context.Context, status database.SuggestionStatus, before time.Time) ([]database.StoredSuggestion, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sorted(func(s *database.StoredSuggestion) bool {
		return s.Status == status && s.UpdatedAt.Before(before)
	}), nil
}

// deleteWhere removes matching suggestions. Caller holds the lock.
func (m *MockStore) deleteWhere(match func(*database.StoredSuggestion) bool) int64 {
	var n int64
	for id, s := range m.suggestions {
		if match(s) {
			delete(m.suggestions, id)
			n++
		}
	}
	return n
}

// DeleteFromImmichNotIn removes from_immich suggestions whose album is not listed
func (m *MockStore) DeleteFromImmichNotIn(ctx context.Context, albumIDs []string) (int64, error) {
	if m.DeleteError != nil {
		return 0, m.DeleteError
	}
	keep := make(map[string]bool, len(albumIDs))
	for _, id := range albumIDs {
		keep[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteWhere(func(s *database.StoredSuggestion) bool {
		return s.Status == database.StatusFromImmich && s.SourceAlbumID != "" && !keep[s.SourceAlbumID]
	}), nil
}

// RemoveDuplicateSourceAlbums keeps the highest id per source album
func (m *MockStore) RemoveDuplicateSourceAlbums(ctx context.Context) (int64, error) {
	if m.DeleteError != nil {
		return 0, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	newest := make(map[string]int64)
	for _, s := range m.suggestions {
		if s.Status == database.StatusFromImmich && s.SourceAlbumID != "" && s.ID > newest[s.SourceAlbumID] {
			newest[s.SourceAlbumID] = s.ID
		}
	}
	return m.deleteWhere(func(s *database.StoredSuggestion) bool {
		return s.Status == database.StatusFromImmich && s.SourceAlbumID != "" && s.ID != newest[s.SourceAlbumID]
	}), nil
}

// DeleteOpen removes all suggestions that are still under review
func (m *MockStore) DeleteOpen(ctx context.Context) (int64, error) {
	if m.DeleteError != nil {
		return 0, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteWhere(func(s *database.StoredSuggestion) bool {
		return !s.Status.Terminal()
	}), nil
}

// Append writes a log entry
func (m *MockStore) Append(ctx context.Context, level database.LogLevel, runID, message string) error {
	if m.AppendError != nil {
		return m.AppendError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, database.ScanLogEntry{
		ID:        int64(len(m.logs) + 1),
		Timestamp: m.now(),
		Level:     level,
		RunID:     runID,
		Message:   message,
	})
	return nil
}

// Since returns entries newer than afterID
func (m *MockStore) Since(ctx context.Context, afterID int64, limit int) ([]database.ScanLogEntry, error) {
	if m.SinceError != nil {
		return nil, m.SinceError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.ScanLogEntry
	for _, e := range m.logs {
		if e.ID > afterID {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Logs returns every log entry written so far
func (m *MockStore) Logs() []database.ScanLogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.ScanLogEntry(nil), m.logs...)
}

// Close is a no-op
func (m *MockStore) Close() error {
	return nil
}
