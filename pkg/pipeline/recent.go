package pipeline

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/trapsight/trap-telemetry/pkg/models"
)

// RecentBuffer keeps the most recent finalized events in memory for the
// recent-events query and for alert event references. Capacity-bounded;
// old events fall out under sustained load regardless of age.
type RecentBuffer struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *models.AttackEvent]
}

// NewRecentBuffer creates a buffer holding at most cap events
func NewRecentBuffer(capacity int) (*RecentBuffer, error) {
	if capacity <= 0 {
		capacity = 4096
	}
	cache, err := lru.New[string, *models.AttackEvent](capacity)
	if err != nil {
		return nil, err
	}
	return &RecentBuffer{cache: cache}, nil
}

// Add records a finalized event
func (b *RecentBuffer) Add(ev *models.AttackEvent) {
	b.mu.Lock()
	b.cache.Add(ev.ID, ev)
	b.mu.Unlock()
}

// Recent returns events newer than the window, oldest first
func (b *RecentBuffer) Recent(window time.Duration) []*models.AttackEvent {
	cutoff := time.Now().Add(-window)

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*models.AttackEvent, 0)
	for _, ev := range b.cache.Values() {
		if ev.Timestamp.After(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}

// RecentEventIDs returns up to limit event IDs for one identity within the
// window, oldest first. Satisfies the alert engine's event reference needs.
func (b *RecentBuffer) RecentEventIDs(sourceIP string, window time.Duration, limit int) []string {
	cutoff := time.Now().Add(-window)

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0)
	for _, ev := range b.cache.Values() {
		if ev.SourceIP == sourceIP && ev.Timestamp.After(cutoff) {
			out = append(out, ev.ID)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// Len returns the current number of buffered events
func (b *RecentBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cache.Len()
}
