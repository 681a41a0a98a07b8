package tecs_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexlayer/tecs"
)

type Position struct{ X, Y float64 }
type Velocity struct{ X, Y float64 }
type Config struct{ MaxSpeed float64 }

func newTestECS(t *testing.T) *tecs.ECS {
	t.Helper()
	tu := tecs.DefaultTunables()
	tu.SpinlockRetryYield = 2
	tu.EntityAllocationBatchSize = 4

	ecs, err := tecs.New(tu,
		tecs.Register[Position]("Position"),
		tecs.Register[Velocity]("Velocity"),
		tecs.RegisterGlobal[Config]("Config"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ecs.Close() })
	return ecs
}

func TestNewEntitySetGetRoundTrip(t *testing.T) {
	ecs := newTestECS(t)
	owner := tecs.GoroutineOwner()

	txn, err := ecs.Begin(owner, tecs.AddRemove(), tecs.Write[Position]())
	require.NoError(t, err)

	e, err := tecs.NewEntity(txn)
	require.NoError(t, err)

	want := Position{X: 1, Y: 2}
	require.NoError(t, tecs.Set(txn, e, want))

	got, err := tecs.Get[Position](txn, e)
	require.NoError(t, err)
	assert.True(t, cmp.Equal(want, got))

	txn.Close()

	// After commit, a read-only transaction should see the committed
	// value.
	readTxn, err := ecs.Begin(owner, tecs.Read[Position]())
	require.NoError(t, err)
	defer readTxn.Close()

	got2, err := tecs.GetPrevious[Position](readTxn, e)
	require.NoError(t, err)
	assert.True(t, cmp.Equal(want, got2))
}

func TestGetMissingComponentWithoutAddRemove(t *testing.T) {
	ecs := newTestECS(t)
	owner := tecs.GoroutineOwner()

	txn, err := ecs.Begin(owner, tecs.AddRemove(), tecs.Write[Position]())
	require.NoError(t, err)
	e, err := tecs.NewEntity(txn)
	require.NoError(t, err)
	txn.Close()

	readTxn, err := ecs.Begin(owner, tecs.Read[Position]())
	require.NoError(t, err)
	defer readTxn.Close()

	_, err = tecs.Get[Position](readTxn, e)
	assert.ErrorIs(t, err, tecs.ErrMissingComponent)
}

func TestOptionalReadReturnsZeroInsteadOfError(t *testing.T) {
	ecs := newTestECS(t)
	owner := tecs.GoroutineOwner()

	txn, err := ecs.Begin(owner, tecs.AddRemove(), tecs.Write[Position]())
	require.NoError(t, err)
	e, err := tecs.NewEntity(txn)
	require.NoError(t, err)
	txn.Close()

	readTxn, err := ecs.Begin(owner, tecs.Optional(tecs.Read[Position]()))
	require.NoError(t, err)
	defer readTxn.Close()

	got, err := tecs.GetPrevious[Position](readTxn, e)
	require.NoError(t, err)
	assert.Equal(t, Position{}, got)
}

func TestDestroyRemovesComponentsAndBumpsGeneration(t *testing.T) {
	ecs := newTestECS(t)
	owner := tecs.GoroutineOwner()

	txn, err := ecs.Begin(owner, tecs.AddRemove(), tecs.Write[Position]())
	require.NoError(t, err)
	e, err := tecs.NewEntity(txn)
	require.NoError(t, err)
	require.NoError(t, tecs.Set(txn, e, Position{X: 1}))
	require.NoError(t, tecs.Destroy(txn, e))
	txn.Close()

	txn2, err := ecs.Begin(owner, tecs.AddRemove(), tecs.Read[Position]())
	require.NoError(t, err)
	defer txn2.Close()

	_, err = tecs.Has[Position](txn2, e)
	assert.ErrorIs(t, err, tecs.ErrStaleEntity)
}

func TestNestedTransactionSameOwnerFails(t *testing.T) {
	ecs := newTestECS(t)
	owner := tecs.GoroutineOwner()

	txn, err := ecs.Begin(owner, tecs.Read[Position]())
	require.NoError(t, err)
	defer txn.Close()

	_, err = ecs.Begin(owner, tecs.Read[Position]())
	assert.ErrorIs(t, err, tecs.ErrNestedTransaction)
}

func TestSubsetRejectsWiderPermissions(t *testing.T) {
	ecs := newTestECS(t)
	owner := tecs.GoroutineOwner()

	txn, err := ecs.Begin(owner, tecs.Read[Position]())
	require.NoError(t, err)
	defer txn.Close()

	_, err = txn.Subset(tecs.Write[Position]())
	assert.ErrorIs(t, err, tecs.ErrInsufficientPermissions)

	sub, err := txn.Subset(tecs.Read[Position]())
	require.NoError(t, err)
	assert.NotNil(t, sub)
}

func TestTryNarrowAddRemoveUnavailableWithoutIt(t *testing.T) {
	ecs := newTestECS(t)
	owner := tecs.GoroutineOwner()

	txn, err := ecs.Begin(owner, tecs.Write[Position]())
	require.NoError(t, err)
	defer txn.Close()

	_, ok := txn.TryNarrow(tecs.AddRemove())
	assert.False(t, ok)
}

func TestGlobalComponentRoundTrip(t *testing.T) {
	ecs := newTestECS(t)
	owner := tecs.GoroutineOwner()

	txn, err := ecs.Begin(owner, tecs.AddRemove(), tecs.WriteAll())
	require.NoError(t, err)

	require.NoError(t, tecs.SetGlobal(txn, Config{MaxSpeed: 9}))
	got, err := tecs.GetGlobal[Config](txn)
	require.NoError(t, err)
	assert.Equal(t, Config{MaxSpeed: 9}, got)
	txn.Close()

	readTxn, err := ecs.Begin(owner, tecs.ReadAll())
	require.NoError(t, err)
	defer readTxn.Close()

	had, err := tecs.HadGlobal[Config](readTxn)
	require.NoError(t, err)
	assert.True(t, had)
}

func TestBeginDynamicMatchesStaticPermissions(t *testing.T) {
	ecs := newTestECS(t)
	owner := tecs.GoroutineOwner()

	bits := tecs.NewPermissionBits(ecs.ComponentCount())
	bits.SetAddRemove(true)
	bits.SetWrite(0, true) // Position is registered first

	txn, err := ecs.BeginDynamic(owner, bits)
	require.NoError(t, err)
	defer txn.Close()

	e, err := tecs.NewEntity(txn)
	require.NoError(t, err)
	require.NoError(t, tecs.Set(txn, e, Position{X: 3}))

	actual := txn.ActualPermissions()
	assert.True(t, actual.AddRemove())
	assert.True(t, actual.Write(0))
}

func TestWatchAddedAndRemoved(t *testing.T) {
	ecs := newTestECS(t)
	owner := tecs.GoroutineOwner()

	added, err := tecs.Watch[Position](ecs, tecs.EventAdded)
	require.NoError(t, err)
	defer added.StopWatching()

	removed, err := tecs.Watch[Position](ecs, tecs.EventRemoved)
	require.NoError(t, err)
	defer removed.StopWatching()

	txn, err := ecs.Begin(owner, tecs.AddRemove(), tecs.Write[Position]())
	require.NoError(t, err)
	e, err := tecs.NewEntity(txn)
	require.NoError(t, err)
	require.NoError(t, tecs.Set(txn, e, Position{}))
	txn.Close()

	addedEvents, err := added.Poll()
	require.NoError(t, err)
	require.Len(t, addedEvents, 1)
	assert.Equal(t, tecs.EventAdded, addedEvents[0].Kind)

	txn2, err := ecs.Begin(owner, tecs.AddRemove(), tecs.Write[Position]())
	require.NoError(t, err)
	require.NoError(t, tecs.Destroy(txn2, e))
	txn2.Close()

	removedEvents, err := removed.Poll()
	require.NoError(t, err)
	require.Len(t, removedEvents, 1)
	assert.Equal(t, tecs.EventRemoved, removedEvents[0].Kind)
}

func TestObserverStopWatchingReturnsErrObserverClosed(t *testing.T) {
	ecs := newTestECS(t)
	o, err := tecs.Watch[Position](ecs, tecs.EventAdded)
	require.NoError(t, err)
	o.StopWatching()

	_, err = o.Poll()
	assert.ErrorIs(t, err, tecs.ErrObserverClosed)
}

// TestReadOnlyTransactionSeesStableValueUntilWriterCommits exercises the
// double-buffer isolation scenario directly (a Read<T> transaction must
// see the last-committed value the entire time a concurrent Write<T>
// transaction is open, only observing the new value once that writer's
// Close has actually swapped the buffers).
func TestReadOnlyTransactionSeesStableValueUntilWriterCommits(t *testing.T) {
	ecs := newTestECS(t)
	setupOwner := tecs.GoroutineOwner()

	setupTxn, err := ecs.Begin(setupOwner, tecs.AddRemove(), tecs.Write[Position]())
	require.NoError(t, err)
	e, err := tecs.NewEntity(setupTxn)
	require.NoError(t, err)
	require.NoError(t, tecs.Set(setupTxn, e, Position{X: 5}))
	setupTxn.Close()

	readerOwner := tecs.GoroutineOwner()
	readerTxn, err := ecs.Begin(readerOwner, tecs.Read[Position]())
	require.NoError(t, err)

	got, err := tecs.Get[Position](readerTxn, e)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 5}, got)

	writerOwner := tecs.GoroutineOwner()
	writerTxn, err := ecs.Begin(writerOwner, tecs.Write[Position]())
	require.NoError(t, err)
	require.NoError(t, tecs.Set(writerTxn, e, Position{X: 7}))

	writerClosed := make(chan struct{})
	go func() {
		writerTxn.Close()
		close(writerClosed)
	}()

	// The writer's Close must block in CommitLock until readerTxn
	// releases its read lock, so the commit cannot have happened yet.
	select {
	case <-writerClosed:
		t.Fatal("writer's Close returned before the concurrent reader released its lock")
	case <-time.After(30 * time.Millisecond):
	}

	// While the writer's commit is still pending, the already-open
	// reader must keep seeing the old, stable value: it reads the read
	// buffer, which the writer only mutates in place on the write
	// buffer until CommitLock succeeds.
	got, err = tecs.Get[Position](readerTxn, e)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 5}, got, "concurrent reader must not see the writer's uncommitted value")

	readerTxn.Close()

	select {
	case <-writerClosed:
	case <-time.After(time.Second):
		t.Fatal("writer's Close did not complete after the reader released its lock")
	}

	afterOwner := tecs.GoroutineOwner()
	afterTxn, err := ecs.Begin(afterOwner, tecs.Read[Position]())
	require.NoError(t, err)
	defer afterTxn.Close()

	got, err = tecs.Get[Position](afterTxn, e)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 7}, got, "a transaction begun after the commit must see the new value")
}

// TestWatchAddedModifiedRemovedInOneCommitCycle covers SPEC_FULL §8
// Scenario 5: a component set, then updated, then unset, must deliver
// Added, Modified, and Removed to their respective observers, all
// polled together once every commit has happened.
func TestWatchAddedModifiedRemovedInOneCommitCycle(t *testing.T) {
	ecs := newTestECS(t)
	owner := tecs.GoroutineOwner()

	added, err := tecs.Watch[Position](ecs, tecs.EventAdded)
	require.NoError(t, err)
	defer added.StopWatching()

	modified, err := tecs.WatchModified[Position](ecs)
	require.NoError(t, err)
	defer modified.StopWatching()

	removed, err := tecs.Watch[Position](ecs, tecs.EventRemoved)
	require.NoError(t, err)
	defer removed.StopWatching()

	txn1, err := ecs.Begin(owner, tecs.AddRemove(), tecs.Write[Position]())
	require.NoError(t, err)
	e, err := tecs.NewEntity(txn1)
	require.NoError(t, err)
	require.NoError(t, tecs.Set(txn1, e, Position{X: 1}))
	txn1.Close()

	txn2, err := ecs.Begin(owner, tecs.AddRemove(), tecs.Write[Position]())
	require.NoError(t, err)
	require.NoError(t, tecs.Set(txn2, e, Position{X: 2}))
	txn2.Close()

	txn3, err := ecs.Begin(owner, tecs.AddRemove(), tecs.Write[Position]())
	require.NoError(t, err)
	require.NoError(t, tecs.Unset[Position](txn3, e))
	txn3.Close()

	addedEvents, err := added.Poll()
	require.NoError(t, err)
	require.Len(t, addedEvents, 1)
	assert.Equal(t, tecs.EventAdded, addedEvents[0].Kind)

	modifiedEvents, err := modified.Poll()
	require.NoError(t, err)
	require.Len(t, modifiedEvents, 1)
	assert.Equal(t, tecs.EventModified, modifiedEvents[0].Kind)

	removedEvents, err := removed.Poll()
	require.NoError(t, err)
	require.Len(t, removedEvents, 1)
	assert.Equal(t, tecs.EventRemoved, removedEvents[0].Kind)
}

func TestForeignEntityRejected(t *testing.T) {
	ecsA := newTestECS(t)
	ecsB := newTestECS(t)
	owner := tecs.GoroutineOwner()

	txnA, err := ecsA.Begin(owner, tecs.AddRemove(), tecs.Write[Position]())
	require.NoError(t, err)
	e, err := tecs.NewEntity(txnA)
	require.NoError(t, err)
	txnA.Close()

	ownerB := tecs.GoroutineOwner()
	txnB, err := ecsB.Begin(ownerB, tecs.Read[Position]())
	require.NoError(t, err)
	defer txnB.Close()

	_, err = tecs.Has[Position](txnB, e)
	assert.ErrorIs(t, err, tecs.ErrForeignEntity)
}
