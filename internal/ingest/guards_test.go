package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardsMeetingExclusivity(t *testing.T) {
	g := NewGuards(0)

	assert.True(t, g.TryAcquireMeeting("m-1"))
	assert.False(t, g.TryAcquireMeeting("m-1"))
	assert.True(t, g.TryAcquireMeeting("m-2"), "different meetings do not contend")

	g.ReleaseMeeting("m-1")
	assert.True(t, g.TryAcquireMeeting("m-1"))
}

func TestGuardsRetryExclusivity(t *testing.T) {
	g := NewGuards(0)

	assert.True(t, g.TryBeginRetry("rec:abc"))
	assert.False(t, g.TryBeginRetry("rec:abc"))

	g.EndRetry("rec:abc")
	assert.True(t, g.TryBeginRetry("rec:abc"))
}

func TestGuardsPathLockSerializes(t *testing.T) {
	g := NewGuards(0)

	var order []int
	var mu sync.Mutex

	unlock := g.LockPath("/tmp/a.mp4")

	done := make(chan struct{})
	go func() {
		u := g.LockPath("/tmp/a.mp4")
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		u()
		close(done)
	}()

	// The second locker must wait until we release.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	order = append(order, 1)
	mu.Unlock()
	unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second locker never ran")
	}

	assert.Equal(t, []int{1, 2}, order)
}

func TestGuardsUploadSlots(t *testing.T) {
	g := NewGuards(1)

	require.NoError(t, g.AcquireUploadSlot(context.Background()))

	// The single slot is taken; a bounded wait must time out.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, g.AcquireUploadSlot(ctx))

	g.ReleaseUploadSlot()
	require.NoError(t, g.AcquireUploadSlot(context.Background()))
	g.ReleaseUploadSlot()
}

func TestGuardsDefaultSlotCount(t *testing.T) {
	g := NewGuards(-1)

	ctx := context.Background()
	for i := 0; i < DefaultUploadSlots; i++ {
		require.NoError(t, g.AcquireUploadSlot(ctx))
	}

	bounded, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, g.AcquireUploadSlot(bounded), "slot %d beyond the default bound", DefaultUploadSlots+1)
}
