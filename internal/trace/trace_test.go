package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexlayer/tecs/internal/lockproto"
)

func TestRingDisabledByDefault(t *testing.T) {
	r := NewRing(4)
	assert.False(t, r.Enabled())
	r.Trace(lockproto.EventReadLock)
	assert.Empty(t, r.Snapshot())
}

func TestRingRecordsInChronologicalOrder(t *testing.T) {
	r := NewRing(4)
	r.Enable()

	r.Trace(lockproto.EventReadLock)
	r.Trace(lockproto.EventWriteLock)
	r.Trace(lockproto.EventCommitLock)

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, lockproto.EventReadLock, snap[0].Event)
	assert.Equal(t, lockproto.EventWriteLock, snap[1].Event)
	assert.Equal(t, lockproto.EventCommitLock, snap[2].Event)
	assert.Less(t, snap[0].Seq, snap[1].Seq)
}

func TestRingWrapsAroundCapacity(t *testing.T) {
	r := NewRing(2)
	r.Enable()

	r.Trace(lockproto.EventReadLock)
	r.Trace(lockproto.EventWriteLock)
	r.Trace(lockproto.EventCommitLock) // overwrites the oldest entry

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, lockproto.EventWriteLock, snap[0].Event)
	assert.Equal(t, lockproto.EventCommitLock, snap[1].Event)
}

func TestRingResetClearsWithoutDisabling(t *testing.T) {
	r := NewRing(4)
	r.Enable()
	r.Trace(lockproto.EventReadLock)

	r.Reset()
	assert.True(t, r.Enabled())
	assert.Empty(t, r.Snapshot())
}

func TestRingDisableStopsRecording(t *testing.T) {
	r := NewRing(4)
	r.Enable()
	r.Trace(lockproto.EventReadLock)
	r.Disable()
	r.Trace(lockproto.EventWriteLock)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, lockproto.EventReadLock, snap[0].Event)
}
