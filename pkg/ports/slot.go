package ports

import (
	"context"

	"github.com/aretw0/diffuse/pkg/domain"
)

// ScheduleSlot holds the last schedule built by the process.
//
// The slot is diagnostic only: writes are best-effort, the last writer wins, and nothing
// in the computation path ever reads it.
type ScheduleSlot interface {
	// Put replaces the stored snapshot.
	Put(ctx context.Context, snap domain.ScheduleSnapshot) error

	// Get returns the stored snapshot.
	// Returns domain.ErrScheduleNotRecorded if nothing was ever stored.
	Get(ctx context.Context) (domain.ScheduleSnapshot, error)
}
