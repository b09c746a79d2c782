package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapgate/pkg/logger"
)

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry(logger.Nop())

	state, ok := r.Register("inst-1")
	require.True(t, ok)
	require.NotNil(t, state)

	_, ok = r.Register("inst-1")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Count())
}

func TestGetAndRemove(t *testing.T) {
	r := NewRegistry(logger.Nop())

	_, ok := r.Get("missing")
	assert.False(t, ok)

	r.Register("inst-1")
	state, ok := r.Get("inst-1")
	require.True(t, ok)
	assert.Equal(t, "inst-1", state.InstanceID)
	assert.Equal(t, StatusInitializing, state.CurrentStatus())

	removed, ok := r.Remove("inst-1")
	require.True(t, ok)
	assert.Same(t, state, removed)
	assert.False(t, r.Has("inst-1"))

	_, ok = r.Remove("inst-1")
	assert.False(t, ok)
}

func TestSnapshotsAreCopies(t *testing.T) {
	r := NewRegistry(logger.Nop())

	state, _ := r.Register("inst-1")
	state.setStatus(StatusConnected)

	snapshots := r.Snapshots()
	require.Len(t, snapshots, 1)
	assert.Equal(t, StatusConnected, snapshots[0].Status)

	// Mutar o snapshot não afeta o estado
	snapshots[0].Status = StatusDisconnected
	assert.Equal(t, StatusConnected, state.CurrentStatus())
}

func TestConcurrentRegisterSingleWinner(t *testing.T) {
	r := NewRegistry(logger.Nop())

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Register("inst-1"); ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, r.Count())
}

func TestPromotionSlotIsExclusive(t *testing.T) {
	state := newSessionState("inst-1")

	assert.True(t, state.TryBeginPromotion())
	assert.False(t, state.TryBeginPromotion())

	state.EndPromotion()
	assert.True(t, state.TryBeginPromotion())
}
