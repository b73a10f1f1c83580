package triggers

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/forPelevin/trigreel/internal/types"
)

const DefaultTolerance = 50

var (
	ErrInvalidRect       = errors.New("trigger rect must have positive width and height")
	ErrNegativeTolerance = errors.New("trigger tolerance must be >= 0")
)

// Registry holds the session's triggers in registration order.
type Registry struct {
	mu    sync.RWMutex
	items []types.Trigger
	newID func() string
}

func NewRegistry() *Registry {
	return &Registry{newID: uuid.NewString}
}

// Create stores a trigger. rect and c are captured by value; the caller has
// already sampled c from the current frame.
func (r *Registry) Create(rect types.Rect, c types.RGB, label string, tolerance float64) (types.Trigger, error) {
	if !rect.Valid() {
		return types.Trigger{}, ErrInvalidRect
	}
	if tolerance < 0 {
		return types.Trigger{}, ErrNegativeTolerance
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = "trigger"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	t := types.Trigger{
		ID:        r.newID(),
		Label:     label,
		Rect:      rect,
		Color:     c,
		Tolerance: tolerance,
	}
	r.items = append(r.items, t)
	return t, nil
}

// Delete removes the trigger with id. Highlights already recorded keep their
// copied label.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.items {
		if t.ID == id {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry) Get(id string) (types.Trigger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.items {
		if t.ID == id {
			return t, true
		}
	}
	return types.Trigger{}, false
}

// All returns a copy in registration order.
func (r *Registry) All() []types.Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.Trigger(nil), r.items...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *Registry) Clear() {
	r.mu.Lock()
	r.items = nil
	r.mu.Unlock()
}
