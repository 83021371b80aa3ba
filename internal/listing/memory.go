package listing

import (
	"context"
	"fmt"
	"sync"

	"github.com/AiSchool-Admin/maksab-sub003/internal/model"
)

// Outcome is the write-back recorded for a listing.
type Outcome struct {
	Status   model.Status
	WinnerID string
}

// MemoryStore implements Store in memory for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	terms    map[string]Terms
	outcomes map[string]Outcome
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		terms:    make(map[string]Terms),
		outcomes: make(map[string]Outcome),
	}
}

// Put registers or replaces the terms of a listing.
func (s *MemoryStore) Put(t Terms) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terms[t.ListingID] = t
}

func (s *MemoryStore) AuctionTerms(_ context.Context, listingID string) (*Terms, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.terms[listingID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, listingID)
	}
	return &t, nil
}

func (s *MemoryStore) RecordOutcome(_ context.Context, listingID string, status model.Status, winnerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.terms[listingID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, listingID)
	}
	s.outcomes[listingID] = Outcome{Status: status, WinnerID: winnerID}
	return nil
}

// Outcome returns the recorded write-back for a listing, if any.
func (s *MemoryStore) Outcome(listingID string) (Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.outcomes[listingID]
	return o, ok
}
