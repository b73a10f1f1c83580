package highlights

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/forPelevin/trigreel/internal/types"
)

var ErrDuplicateID = errors.New("highlight id already stored")

// ClipStart is the clip start for an event: eventTime minus preRoll, never
// negative.
func ClipStart(eventTime, preRoll time.Duration) time.Duration {
	if start := eventTime - preRoll; start > 0 {
		return start
	}
	return 0
}

// Store holds detected highlights in creation order.
type Store struct {
	mu    sync.RWMutex
	items []types.Highlight
}

func NewStore() *Store { return &Store{} }

func (s *Store) Add(h types.Highlight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.ID == h.ID {
			return ErrDuplicateID
		}
	}
	s.items = append(s.items, h)
	return nil
}

func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, h := range s.items {
		if h.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Store) Get(id string) (types.Highlight, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.items {
		if h.ID == id {
			return h, true
		}
	}
	return types.Highlight{}, false
}

// All returns highlights in creation order.
func (s *Store) All() []types.Highlight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Highlight(nil), s.items...)
}

// Chronological returns highlights ordered by clip start. Equal starts keep
// creation order.
func (s *Store) Chronological() []types.Highlight {
	out := s.All()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// SeekTarget is the player position to jump to when a highlight is selected.
func (s *Store) SeekTarget(id string) (time.Duration, bool) {
	h, ok := s.Get(id)
	if !ok {
		return 0, false
	}
	return h.Time, true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
}
