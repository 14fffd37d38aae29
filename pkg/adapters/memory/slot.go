package memory

import (
	"context"
	"sync"

	"github.com/aretw0/diffuse/pkg/domain"
)

// Slot implements ports.ScheduleSlot in memory.
// Safe for concurrent use; the last Put wins.
type Slot struct {
	mu   sync.RWMutex
	snap *domain.ScheduleSnapshot
}

// NewSlot creates an empty in-memory slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Put replaces the stored snapshot with a private copy.
func (s *Slot) Put(ctx context.Context, snap domain.ScheduleSnapshot) error {
	copied := snap
	copied.Beta = append([]float32(nil), snap.Beta...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = &copied
	return nil
}

// Get returns a copy of the stored snapshot.
func (s *Slot) Get(ctx context.Context) (domain.ScheduleSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snap == nil {
		return domain.ScheduleSnapshot{}, domain.ErrScheduleNotRecorded
	}
	ret := *s.snap
	ret.Beta = append([]float32(nil), s.snap.Beta...)
	return ret, nil
}
