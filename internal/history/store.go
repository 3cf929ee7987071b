// Package history keeps the in-memory conversation list of a chat client.
package history

import (
	"sort"
	"sync"

	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

// Store is an ordered collection of history summaries keyed by chat id.
// Each method is a single atomic mutation or read.
type Store struct {
	mu    sync.RWMutex
	items []domain.HistorySummary
	index map[string]int
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Push appends a summary. It fails with *domain.DuplicateKeyError when the
// chat id is already present.
func (s *Store) Push(item domain.HistorySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[item.ChatID]; ok {
		return &domain.DuplicateKeyError{Key: item.ChatID}
	}
	s.index[item.ChatID] = len(s.items)
	s.items = append(s.items, item)
	return nil
}

// Update applies fn to the summary with the given chat id. It reports
// whether the entry existed; an absent key is a no-op.
func (s *Store) Update(chatID string, fn func(*domain.HistorySummary)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[chatID]
	if !ok {
		return false
	}
	fn(&s.items[i])
	// the key is owned by the store
	s.items[i].ChatID = chatID
	return true
}

// Remove deletes the summary with the given chat id.
func (s *Store) Remove(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[chatID]
	if !ok {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	s.reindex()
	return true
}

// ClearApp removes every summary of appID and returns how many were removed.
func (s *Store) ClearApp(appID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.items[:0]
	for _, item := range s.items {
		if item.AppID != appID {
			kept = append(kept, item)
		}
	}
	removed := len(s.items) - len(kept)
	s.items = kept
	s.reindex()
	return removed
}

// Replace swaps the summaries of appID for items, keeping entries of other
// apps. Later duplicates in items are dropped.
func (s *Store) Replace(appID string, items []domain.HistorySummary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.items[:0]
	for _, item := range s.items {
		if item.AppID != appID {
			kept = append(kept, item)
		}
	}
	s.items = kept
	s.reindex()

	for _, item := range items {
		if _, ok := s.index[item.ChatID]; ok {
			continue
		}
		s.index[item.ChatID] = len(s.items)
		s.items = append(s.items, item)
	}
}

// Get returns the summary with the given chat id.
func (s *Store) Get(chatID string) (domain.HistorySummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[chatID]
	if !ok {
		return domain.HistorySummary{}, false
	}
	return s.items[i], true
}

// List returns a copy of the summaries of appID in store order. An empty
// appID lists every app.
func (s *Store) List(appID string) []domain.HistorySummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.HistorySummary, 0, len(s.items))
	for _, item := range s.items {
		if appID == "" || item.AppID == appID {
			out = append(out, item)
		}
	}
	return out
}

// Sorted returns List(appID) with pinned entries first, then most recent first.
func (s *Store) Sorted(appID string) []domain.HistorySummary {
	items := s.List(appID)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Top != items[j].Top {
			return items[i].Top
		}
		return items[i].UpdateTime.After(items[j].UpdateTime)
	})
	return items
}

// Len returns the number of summaries across all apps.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) reindex() {
	clear(s.index)
	for i, item := range s.items {
		s.index[item.ChatID] = i
	}
}
