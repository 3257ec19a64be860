package sniper

import (
	"sync"

	"github.com/jwdevries/snipebot/internal/domain"
)

// defaultFillCapacity bounds the tracker when no capacity is configured.
const defaultFillCapacity = 256

// FillTracker matches order-stream confirmations to the ladder orders that
// caused them, keyed by correlation id. The stream side upserts: the exchange
// reports cumulative executed quantity, so the latest update for an id
// supersedes earlier ones. The ladder side takes each entry exactly once.
// At capacity the oldest untaken entry is evicted.
type FillTracker struct {
	mu    sync.Mutex
	limit int
	fills map[string]domain.Fill
	order []string // insertion order, drives eviction
}

func NewFillTracker(capacity int) *FillTracker {
	if capacity <= 0 {
		capacity = defaultFillCapacity
	}
	return &FillTracker{
		limit: capacity,
		fills: make(map[string]domain.Fill),
	}
}

// Put records or refreshes the fill for its correlation id.
func (t *FillTracker) Put(fill domain.Fill) {
	if fill.OrderLinkID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.fills[fill.OrderLinkID]; !exists {
		if len(t.order) >= t.limit {
			oldest := t.order[0]
			t.order = t.order[1:]
			delete(t.fills, oldest)
		}
		t.order = append(t.order, fill.OrderLinkID)
	}
	t.fills[fill.OrderLinkID] = fill
}

// Take removes and returns the fill for a correlation id; a second Take for
// the same id misses unless a newer confirmation arrived in between.
func (t *FillTracker) Take(linkID string) (domain.Fill, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fill, ok := t.fills[linkID]
	if !ok {
		return domain.Fill{}, false
	}
	delete(t.fills, linkID)
	for i, id := range t.order {
		if id == linkID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return fill, true
}

// Len reports how many confirmations are waiting to be taken.
func (t *FillTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.fills)
}
