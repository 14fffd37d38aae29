package ports

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/diffuse/pkg/domain"
)

// RunScheduleSlotContract runs a suite of tests to verify that a ScheduleSlot implementation
// adheres to the defined interface contract. The slot must start empty.
func RunScheduleSlotContract(t *testing.T, slot ScheduleSlot) {
	ctx := context.Background()

	t.Run("Get Empty", func(t *testing.T) {
		_, err := slot.Get(ctx)
		assert.ErrorIs(t, err, domain.ErrScheduleNotRecorded)
	})

	t.Run("Put and Get", func(t *testing.T) {
		snap := domain.ScheduleSnapshot{
			Kind:       domain.ScheduleCosine,
			Steps:      3,
			Beta:       []float32{1e-8, 0.25, 0.999},
			RecordedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}
		require.NoError(t, slot.Put(ctx, snap))

		got, err := slot.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, snap.Kind, got.Kind)
		assert.Equal(t, snap.Steps, got.Steps)
		assert.Equal(t, snap.Beta, got.Beta)
		assert.True(t, snap.RecordedAt.Equal(got.RecordedAt))
	})

	t.Run("Last Writer Wins", func(t *testing.T) {
		require.NoError(t, slot.Put(ctx, domain.ScheduleSnapshot{Kind: domain.ScheduleLinear, Steps: 1, Beta: []float32{0.1}}))
		require.NoError(t, slot.Put(ctx, domain.ScheduleSnapshot{Kind: domain.ScheduleLinear, Steps: 2, Beta: []float32{0.1, 0.2}}))

		got, err := slot.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Steps)
		assert.Equal(t, []float32{0.1, 0.2}, got.Beta)
	})

	t.Run("Isolation", func(t *testing.T) {
		beta := []float32{0.3, 0.4}
		require.NoError(t, slot.Put(ctx, domain.ScheduleSnapshot{Kind: domain.ScheduleLinear, Steps: 2, Beta: beta}))
		beta[0] = 0.9

		got, err := slot.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, float32(0.3), got.Beta[0], "slot must not alias the caller's slice")
	})

	t.Run("Concurrent Writers", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 1; i <= 8; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				beta := make([]float32, n)
				for j := range beta {
					beta[j] = float32(n) / 100
				}
				assert.NoError(t, slot.Put(ctx, domain.ScheduleSnapshot{Kind: domain.ScheduleLinear, Steps: n, Beta: beta}))
			}(i)
		}
		wg.Wait()

		got, err := slot.Get(ctx)
		require.NoError(t, err)
		assert.Len(t, got.Beta, got.Steps, "a snapshot must never mix two writers")
	})
}
