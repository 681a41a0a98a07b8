package lockproto

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLockAllowsConcurrentReaders(t *testing.T) {
	m := New(10)

	require.True(t, m.ReadLock(true))
	require.True(t, m.ReadLock(true))
	require.True(t, m.ReadLock(true))

	require.NoError(t, m.ReadUnlock())
	require.NoError(t, m.ReadUnlock())
	require.NoError(t, m.ReadUnlock())
}

func TestWriteLockExcludesWriter(t *testing.T) {
	m := New(10)
	require.True(t, m.WriteLock(true))
	assert.False(t, m.WriteLock(false), "a second writer must not be admitted")
	require.NoError(t, m.WriteUnlock())
	assert.True(t, m.WriteLock(false), "writer slot must be free again")
	require.NoError(t, m.WriteUnlock())
}

func TestWriteLockDoesNotExcludeReaders(t *testing.T) {
	m := New(10)
	require.True(t, m.WriteLock(true))
	assert.True(t, m.ReadLock(false), "readers may join while a writer merely holds the lock")
	require.NoError(t, m.ReadUnlock())
	require.NoError(t, m.WriteUnlock())
}

func TestCommitLockExcludesNewReaders(t *testing.T) {
	m := New(10)
	require.True(t, m.WriteLock(true))

	done := make(chan struct{})
	go func() {
		require.NoError(t, m.CommitLock())
		close(done)
	}()

	// Give CommitLock a chance to raise the commit marker.
	time.Sleep(20 * time.Millisecond)
	assert.False(t, m.ReadLock(false), "a reader arriving during commit must block")

	<-done
	require.NoError(t, m.CommitUnlock())
	require.NoError(t, m.WriteUnlock())
}

func TestCommitLockWaitsForExistingReaders(t *testing.T) {
	m := New(10)
	require.True(t, m.ReadLock(true))
	require.True(t, m.WriteLock(true))

	commitDone := make(chan struct{})
	go func() {
		require.NoError(t, m.CommitLock())
		close(commitDone)
	}()

	select {
	case <-commitDone:
		t.Fatal("CommitLock returned before the existing reader released")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, m.ReadUnlock())
	<-commitDone

	require.NoError(t, m.CommitUnlock())
	require.NoError(t, m.WriteUnlock())
}

func TestWriteUnlockWithoutCommitClearsState(t *testing.T) {
	m := New(10)
	require.True(t, m.WriteLock(true))
	require.NoError(t, m.WriteUnlock())
	assert.True(t, m.ReadLock(false))
	require.NoError(t, m.ReadUnlock())
	assert.True(t, m.WriteLock(false))
	require.NoError(t, m.WriteUnlock())
}

func TestCommitUnlockOutsideCommitLockIsProtocolViolation(t *testing.T) {
	m := New(10)
	require.True(t, m.WriteLock(true))
	err := m.CommitUnlock()
	require.Error(t, err)
	var pv *ProtocolViolation
	assert.ErrorAs(t, err, &pv)
	require.NoError(t, m.WriteUnlock())
}

func TestReadUnlockWithoutLockIsProtocolViolation(t *testing.T) {
	m := New(10)
	err := m.ReadUnlock()
	require.Error(t, err)
	var pv *ProtocolViolation
	assert.ErrorAs(t, err, &pv)
}

// TestWriterPriorityAtCommit mirrors go-ilock's benchmarkLocking harness
// shape: a pool of goroutines hammer read locks behind a start barrier
// while one writer commits. The commit must complete in bounded time
// instead of being starved by continuous read traffic.
func TestWriterPriorityAtCommit(t *testing.T) {
	const readers = 100

	m := New(10)
	barrier := make(chan struct{})
	stop := make(chan struct{})
	var wg sync.WaitGroup
	var readAcquired atomic.Int64

	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-barrier
			for {
				select {
				case <-stop:
					return
				default:
				}
				if m.ReadLock(false) {
					readAcquired.Add(1)
					_ = m.ReadUnlock()
				}
			}
		}()
	}

	close(barrier)
	time.Sleep(5 * time.Millisecond) // let contention build up

	require.True(t, m.WriteLock(true))
	commitStart := time.Now()
	require.NoError(t, m.CommitLock())
	commitElapsed := time.Since(commitStart)
	require.NoError(t, m.CommitUnlock())
	require.NoError(t, m.WriteUnlock())

	close(stop)
	wg.Wait()

	assert.Less(t, commitElapsed, 2*time.Second, "commit should not be starved by continuous readers")
	assert.Greater(t, readAcquired.Load(), int64(0))
}

type recordingTracer struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingTracer) Trace(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestTracerRecordsTransitions(t *testing.T) {
	tr := &recordingTracer{}
	m := New(10)
	m.SetTracer(tr)

	require.True(t, m.WriteLock(true))
	require.NoError(t, m.CommitLock())
	require.NoError(t, m.CommitUnlock())
	require.NoError(t, m.WriteUnlock())

	assert.Equal(t, []Event{EventWriteLock, EventCommitLock, EventCommitUnlock, EventWriteUnlock}, tr.events)
}
