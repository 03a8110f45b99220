package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/kozaktomas/album-suggester/internal/database"
	"github.com/kozaktomas/album-suggester/internal/database/storetest"
)

func TestMockStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) database.Store {
		return NewMockStore()
	})
}

func TestMockStore_ErrorInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMockStore()
	boom := errors.New("boom")
	m.TransitionError = boom

	if _, err := m.Transition(ctx, 1, database.StatusPending, database.StatusApproved, nil); !errors.Is(err, boom) {
		t.Errorf("Expected injected error, got %v", err)
	}
	if len(m.Transitions) != 0 {
		t.Errorf("Failed calls must not be recorded, got %d", len(m.Transitions))
	}
}

func TestMockStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMockStore()
	m.AddSuggestion(database.StoredSuggestion{ID: 5, Status: database.StatusPending, StrongAssetIDs: []string{"a"}})

	got, _ := m.Get(ctx, 5)
	got.StrongAssetIDs[0] = "changed"
	got.Status = database.StatusApproved

	again, _ := m.Get(ctx, 5)
	if again.StrongAssetIDs[0] != "a" || again.Status != database.StatusPending {
		t.Errorf("Stored suggestion was mutated through a returned copy: %+v", again)
	}

	// AddSuggestion advances the id sequence past explicit ids
	s := &database.StoredSuggestion{Status: database.StatusPending, StrongAssetIDs: []string{"b"}}
	if err := m.Insert(ctx, s); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if s.ID != 6 {
		t.Errorf("Expected id 6, got %d", s.ID)
	}
}
