package tecs

import (
	"fmt"

	"github.com/hexlayer/tecs/internal/entity"
)

// Transaction is the handle returned by Begin/BeginDynamic. Every
// Get/Set/Has/NewEntity/Destroy call goes through one of these, which
// checks the call against the transaction's PermissionSet before
// touching any storage. Close (idiomatically via defer, SPEC_FULL §5)
// commits every write-accessed store and releases every lock, in the
// reverse of acquisition order.
type Transaction struct {
	ecs   *ECS
	owner any
	perms *PermissionSet
	id    uint64

	closed bool
}

// acquire takes the EMS lock, then every component lock, in declaration
// order, choosing read or write per SPEC_FULL §4.4 ("EMS lock first,
// then component locks in declaration order, read or write").
func (txn *Transaction) acquire() {
	if txn.perms.HasAddRemove() {
		txn.ecs.ems.Mutex.WriteLock(true)
	} else {
		txn.ecs.ems.Mutex.ReadLock(true)
	}

	for i, s := range txn.ecs.stores {
		switch {
		case txn.perms.CanWrite(i):
			s.GetMutex().WriteLock(true)
		case txn.perms.CanRead(i):
			s.GetMutex().ReadLock(true)
		}
	}
}

// Close commits write-accessed stores and releases every held lock, in
// reverse acquisition order, then frees the owner slot so a subsequent
// Begin with the same owner succeeds. Safe to call more than once; safe
// to call from a defer during a panic (SPEC_FULL §5).
func (txn *Transaction) Close() {
	if txn.closed {
		return
	}
	txn.closed = true

	// Observer events must be read off the EMS's cur/prev bitsets and
	// each store's write-access flag before those get reset by the
	// commit calls below (SPEC_FULL §4.6: events are queued during the
	// EMS-commit step, which only happens under AddRemove).
	if txn.perms.HasAddRemove() {
		txn.ecs.dispatchObserverEvents()
	}

	n := len(txn.ecs.stores)
	for i := n - 1; i >= 0; i-- {
		s := txn.ecs.stores[i]
		switch {
		case txn.perms.CanWrite(i):
			// CommitLock excludes concurrent readers for the duration of
			// the buffer swap itself, so a reader's in-progress Get never
			// observes a torn read buffer (I4). It blocks until every
			// reader that was already in flight when this call started
			// has released its read lock.
			if err := s.GetMutex().CommitLock(); err != nil {
				FatalHandler(fmt.Errorf("%w: %s", ErrLockProtocolViolation, err))
			}
			s.Commit(txn.perms.HasAddRemove())
			if err := s.GetMutex().CommitUnlock(); err != nil {
				FatalHandler(fmt.Errorf("%w: %s", ErrLockProtocolViolation, err))
			}
			if err := s.GetMutex().WriteUnlock(); err != nil {
				FatalHandler(fmt.Errorf("%w: %s", ErrLockProtocolViolation, err))
			}
		case txn.perms.CanRead(i):
			if err := s.GetMutex().ReadUnlock(); err != nil {
				FatalHandler(fmt.Errorf("%w: %s", ErrLockProtocolViolation, err))
			}
		}
	}

	if txn.perms.HasAddRemove() {
		txn.ecs.observers.compact()
		if err := txn.ecs.ems.Mutex.CommitLock(); err != nil {
			FatalHandler(fmt.Errorf("%w: %s", ErrLockProtocolViolation, err))
		}
		txn.ecs.ems.Commit()
		if err := txn.ecs.ems.Mutex.CommitUnlock(); err != nil {
			FatalHandler(fmt.Errorf("%w: %s", ErrLockProtocolViolation, err))
		}
		if err := txn.ecs.ems.Mutex.WriteUnlock(); err != nil {
			FatalHandler(fmt.Errorf("%w: %s", ErrLockProtocolViolation, err))
		}
	} else {
		if err := txn.ecs.ems.Mutex.ReadUnlock(); err != nil {
			FatalHandler(fmt.Errorf("%w: %s", ErrLockProtocolViolation, err))
		}
	}

	txn.ecs.owners.Delete(txn.owner)
}

// ActualPermissions reports what was actually acquired, as a
// PermissionBits value (SPEC_FULL §4.1). This implementation's
// Begin/BeginDynamic always acquire exactly the requested set or block
// until they can, so this is a faithful round trip rather than a report
// of a partial, best-effort acquisition.
func (txn *Transaction) ActualPermissions() PermissionBits {
	return fromPermissionSet(txn.perms, txn.ecs.reg.count())
}

// Subset returns a new Transaction sharing the same underlying locks
// (it does not re-acquire or release anything) but restricted to a
// narrower PermissionSet, for passing to code that should not have the
// full access the caller holds. Closing a subset transaction is a no-op
// against the locks themselves; only the original Transaction's Close
// actually releases them. Returns an error if perms is not a subset of
// txn's own permissions.
func (txn *Transaction) Subset(perms ...Permission) (*Transaction, error) {
	ps, err := newPermissionSet(txn.ecs.reg, perms)
	if err != nil {
		return nil, err
	}
	if !ps.IsSubsetOf(txn.perms, txn.ecs.reg.count()) {
		return nil, ErrInsufficientPermissions
	}
	t := subsetTransaction(txn, ps)
	return &t, nil
}

// ReadOnlySubset returns a Subset that can read (but not write) every
// component type txn can currently read or write, and that never has
// AddRemove even if txn does.
func (txn *Transaction) ReadOnlySubset() *Transaction {
	n := txn.ecs.reg.count()
	ps := &PermissionSet{
		read:          make([]bool, n),
		write:         make([]bool, n),
		optionalRead:  make([]bool, n),
		optionalWrite: make([]bool, n),
		readAll:       txn.perms.readAll || txn.perms.writeAll,
	}
	for i := 0; i < n; i++ {
		ps.read[i] = txn.perms.CanRead(i)
	}
	t := subsetTransaction(txn, ps)
	return &t
}

// TryNarrow attempts to narrow txn to perms, returning (narrowed, true)
// on success or (nil, false) if perms is not actually a subset of what
// txn acquired — SPEC_FULL §9's resolved open question: narrowing to
// AddRemove from a transaction that does not itself have AddRemove is
// always unavailable, regardless of what other permissions are
// requested alongside it.
func (txn *Transaction) TryNarrow(perms ...Permission) (*Transaction, bool) {
	narrowed, err := txn.Subset(perms...)
	if err != nil {
		return nil, false
	}
	return narrowed, true
}

func subsetTransaction(parent *Transaction, ps *PermissionSet) Transaction {
	return Transaction{ecs: parent.ecs, owner: parent.owner, perms: ps, id: parent.id, closed: true}
}

// --- Entity lifecycle ---

// NewEntity creates a new entity. Requires AddRemove.
func NewEntity(txn *Transaction) (Entity, error) {
	if !txn.perms.HasAddRemove() {
		return entity.Invalid, ErrInsufficientPermissions
	}
	e := txn.ecs.ems.Allocate(int(txn.ecs.tunables.EntityAllocationBatchSize), func(count int) {
		for _, s := range txn.ecs.stores {
			if !s.Global() {
				s.Grow(count)
			}
		}
	})
	txn.ecs.ems.SetBit(e.Index, 0, true)
	return e, nil
}

// Destroy destroys e. Requires AddRemove. Observer events are derived by
// diffing the EMS's current presence bits against the last *committed*
// snapshot, so destroying an entity that existed at the last commit
// emits Removed for each component it had. An entity both created and
// destroyed within the same transaction emits no observer events at
// all: its slot is neither alive in the current bits nor in the
// committed snapshot, and dispatch skips it.
func Destroy(txn *Transaction, e Entity) error {
	if !txn.perms.HasAddRemove() {
		return ErrInsufficientPermissions
	}
	if err := checkEntity(txn, e, true); err != nil {
		return err
	}
	txn.ecs.ems.Destroy(e.Index)
	for _, s := range txn.ecs.stores {
		if !s.Global() {
			s.RemoveSlot(e.Index)
		}
	}
	return nil
}

func checkEntity(txn *Transaction, e Entity, useCurrent bool) error {
	if !e.IsValid() {
		return ErrStaleEntity
	}
	if e.ECSIdentifier() != txn.ecs.id {
		return ErrForeignEntity
	}
	if !UncheckedMode {
		if int(e.Index) >= txn.ecs.ems.Cap() {
			return ErrOutOfBounds
		}
	}
	gen := txn.ecs.ems.CurrentGeneration(e.Index)
	if !useCurrent {
		gen = txn.ecs.ems.PreviousGeneration(e.Index)
	}
	if e.Generation != gen {
		return ErrStaleEntity
	}
	return nil
}

// Has reports whether e has component T, viewed through the current
// (write-side) presence bit if the transaction holds AddRemove, else
// the stable, last-committed presence bit (SPEC_FULL §4.5; I4, "between
// commits the read side of every buffer is immutable" — a non-AddRemove
// transaction must never observe another transaction's in-flight,
// uncommitted AddRemove mutations). Requires at least Read[T] (or
// better).
func Has[T any](txn *Transaction, e Entity) (bool, error) {
	useCurrent := txn.perms.HasAddRemove()
	if err := checkEntity(txn, e, useCurrent); err != nil {
		return false, err
	}
	t, err := resolveIndex[T](txn)
	if err != nil {
		return false, err
	}
	if !txn.perms.CanRead(t) {
		return false, ErrInsufficientPermissions
	}
	return txn.ecs.ems.HasBit(e.Index, t+1, useCurrent), nil
}

// Had reports whether e, as of the last commit, had component T.
func Had[T any](txn *Transaction, e Entity) (bool, error) {
	if err := checkEntity(txn, e, false); err != nil {
		return false, err
	}
	t, err := resolveIndex[T](txn)
	if err != nil {
		return false, err
	}
	if !txn.perms.CanRead(t) {
		return false, ErrInsufficientPermissions
	}
	return txn.ecs.ems.HasBit(e.Index, t+1, false), nil
}

// Get returns T's value for e: the write-buffer value if the
// transaction holds Write[T] (or WriteAll), else the stable,
// last-committed read-buffer value (SPEC_FULL §4.5, "Returns const ref
// to read buffer, or mutable ref to write buffer if Write on T"). A
// Read-only transaction must never see a concurrent writer's in-place
// mutation of the write buffer before that writer commits (§8 Scenario
// 2). If e does not have T and the transaction has AddRemove, a zero
// value is inserted and returned (mirroring the original's auto-vivify
// behavior under AddRemove); otherwise ErrMissingComponent.
func Get[T any](txn *Transaction, e Entity) (T, error) {
	var zero T
	useCurrent := txn.perms.HasAddRemove()
	if err := checkEntity(txn, e, useCurrent); err != nil {
		return zero, err
	}
	t, err := resolveIndex[T](txn)
	if err != nil {
		return zero, err
	}
	if !txn.perms.CanRead(t) {
		return zero, ErrInsufficientPermissions
	}

	if !txn.ecs.ems.HasBit(e.Index, t+1, useCurrent) {
		if !txn.perms.HasAddRemove() {
			if txn.perms.IsOptionalRead(t) {
				return zero, nil
			}
			return zero, ErrMissingComponent
		}
		setComponent[T](txn, e, t, zero)
		return zero, nil
	}

	store := getStore[T](txn.ecs.stores, t)
	if txn.perms.CanWrite(t) {
		return *store.GetWrite(e.Index), nil
	}
	return store.GetRead(e.Index), nil
}

// GetPrevious returns T's last-committed value for e.
func GetPrevious[T any](txn *Transaction, e Entity) (T, error) {
	var zero T
	if err := checkEntity(txn, e, false); err != nil {
		return zero, err
	}
	t, err := resolveIndex[T](txn)
	if err != nil {
		return zero, err
	}
	if !txn.perms.CanRead(t) {
		return zero, ErrInsufficientPermissions
	}
	if !txn.ecs.ems.HasBit(e.Index, t+1, false) {
		if txn.perms.IsOptionalRead(t) {
			return zero, nil
		}
		return zero, ErrMissingComponent
	}
	store := getStore[T](txn.ecs.stores, t)
	return store.GetRead(e.Index), nil
}

// Set assigns T's write-side value for e, auto-adding the component if
// e did not already have it and the transaction has AddRemove. Requires
// Write[T] (or WriteAll).
func Set[T any](txn *Transaction, e Entity, v T) error {
	useCurrent := txn.perms.HasAddRemove()
	if err := checkEntity(txn, e, useCurrent); err != nil {
		return err
	}
	t, err := resolveIndex[T](txn)
	if err != nil {
		return err
	}
	if !txn.perms.CanWrite(t) {
		return ErrInsufficientPermissions
	}
	if !txn.ecs.ems.HasBit(e.Index, t+1, useCurrent) {
		if !txn.perms.HasAddRemove() {
			return ErrMissingComponent
		}
		setComponent[T](txn, e, t, v)
		return nil
	}

	store := getStore[T](txn.ecs.stores, t)
	store.SetWrite(e.Index, v)
	store.MarkWriteAccessed()
	return nil
}

func setComponent[T any](txn *Transaction, e Entity, typeIdx int, v T) {
	store := getStore[T](txn.ecs.stores, typeIdx)
	store.Add(e)
	store.SetWrite(e.Index, v)
	store.MarkWriteAccessed()
	txn.ecs.ems.SetBit(e.Index, typeIdx+1, true)
	txn.ecs.ems.MarkWriteAccessed()
}

// Unset removes T from e. Requires AddRemove.
func Unset[T any](txn *Transaction, e Entity) error {
	if !txn.perms.HasAddRemove() {
		return ErrInsufficientPermissions
	}
	if err := checkEntity(txn, e, true); err != nil {
		return err
	}
	t, err := resolveIndex[T](txn)
	if err != nil {
		return err
	}
	store := getStore[T](txn.ecs.stores, t)
	store.Remove(e.Index)
	store.MarkWriteAccessed()
	txn.ecs.ems.SetBit(e.Index, t+1, false)
	txn.ecs.ems.MarkWriteAccessed()
	return nil
}

// EntitiesWith returns the dense list of entities having component T:
// the write-buffer view if the transaction holds AddRemove (membership
// may be changing), else the stable, last-committed read-buffer view
// (SPEC_FULL §4.5). A plain Read[T] transaction must not see another
// transaction's uncommitted AddRemove/Write membership changes.
func EntitiesWith[T any](txn *Transaction) ([]Entity, error) {
	t, err := resolveIndex[T](txn)
	if err != nil {
		return nil, err
	}
	if !txn.perms.CanRead(t) {
		return nil, ErrInsufficientPermissions
	}
	store := getStore[T](txn.ecs.stores, t)
	if !txn.perms.HasAddRemove() {
		out := make([]Entity, len(store.ReadValid()))
		copy(out, store.ReadValid())
		return out, nil
	}
	var out []Entity
	for _, e := range store.WriteValid() {
		if e.IsValid() {
			out = append(out, e)
		}
	}
	return out, nil
}

// resolveIndex resolves T's component index for the entity-taking
// accessors (Get/Set/Has/...). Global components have their own
// accessors (GetGlobal/SetGlobal/...) and are rejected here, since their
// storage is a single length-1 slice that an arbitrary entity's slot
// index would index out of bounds (SPEC_FULL §4.5, "Supplemented:
// global-component addressing").
func resolveIndex[T any](txn *Transaction) (int, error) {
	idx := typeIndex[T](txn.ecs.reg)
	if idx < 0 {
		var zero T
		return -1, fmt.Errorf("tecs: %T is not a registered component type", zero)
	}
	if txn.ecs.reg.isGlobal(idx) {
		var zero T
		return -1, fmt.Errorf("tecs: %T is a global component; use GetGlobal/SetGlobal/HasGlobal/HadGlobal/UnsetGlobal instead", zero)
	}
	return idx, nil
}

// --- Global component access ---

// GetGlobal returns T's singleton value: the write-buffer value if the
// transaction holds Write[T] (or WriteAll), else the stable,
// last-committed value, mirroring Get's entity-side rule. Presence is
// likewise checked against the current (write-side) buffer only under
// AddRemove, else the committed buffer (SPEC_FULL §4.5,
// "Supplemented: global-component addressing"). Auto-vivifies a zero
// value under AddRemove the same way Get does.
func GetGlobal[T any](txn *Transaction) (T, error) {
	var zero T
	t, err := resolveGlobalIndex[T](txn)
	if err != nil {
		return zero, err
	}
	if !txn.perms.CanRead(t) {
		return zero, ErrInsufficientPermissions
	}
	store := getStore[T](txn.ecs.stores, t)

	useCurrent := txn.perms.HasAddRemove()
	present := store.HasRead(0)
	if useCurrent {
		present = store.HasWrite(0)
	}
	if !present {
		if !txn.perms.HasAddRemove() {
			if txn.perms.IsOptionalRead(t) {
				return zero, nil
			}
			return zero, ErrMissingComponent
		}
		store.Add(entity.Entity{Index: 0, Generation: 1})
		store.SetWrite(0, zero)
		store.MarkWriteAccessed()
		return zero, nil
	}

	if txn.perms.CanWrite(t) {
		return *store.GetWrite(0), nil
	}
	return store.GetRead(0), nil
}

// SetGlobal assigns T's singleton write-side value, auto-adding it if
// the transaction has AddRemove and it was not already present;
// otherwise ErrMissingComponent, mirroring Set's entity-side rule.
func SetGlobal[T any](txn *Transaction, v T) error {
	t, err := resolveGlobalIndex[T](txn)
	if err != nil {
		return err
	}
	if !txn.perms.CanWrite(t) {
		return ErrInsufficientPermissions
	}
	store := getStore[T](txn.ecs.stores, t)

	useCurrent := txn.perms.HasAddRemove()
	present := store.HasRead(0)
	if useCurrent {
		present = store.HasWrite(0)
	}
	if !present {
		if !txn.perms.HasAddRemove() {
			return ErrMissingComponent
		}
		store.Add(entity.Entity{Index: 0, Generation: 1})
	}
	store.SetWrite(0, v)
	store.MarkWriteAccessed()
	return nil
}

// HasGlobal reports whether T's singleton is present, viewed through
// the current (write-side) buffer if the transaction holds AddRemove,
// else the stable, last-committed buffer (SPEC_FULL §4.5).
func HasGlobal[T any](txn *Transaction) (bool, error) {
	t, err := resolveGlobalIndex[T](txn)
	if err != nil {
		return false, err
	}
	if !txn.perms.CanRead(t) {
		return false, ErrInsufficientPermissions
	}
	store := getStore[T](txn.ecs.stores, t)
	if txn.perms.HasAddRemove() {
		return store.HasWrite(0), nil
	}
	return store.HasRead(0), nil
}

// HadGlobal reports whether T's singleton was present as of the last
// commit.
func HadGlobal[T any](txn *Transaction) (bool, error) {
	t, err := resolveGlobalIndex[T](txn)
	if err != nil {
		return false, err
	}
	if !txn.perms.CanRead(t) {
		return false, ErrInsufficientPermissions
	}
	store := getStore[T](txn.ecs.stores, t)
	for _, e := range store.ReadValid() {
		if e.Index == 0 {
			return true, nil
		}
	}
	return false, nil
}

// UnsetGlobal removes T's singleton. Requires AddRemove.
func UnsetGlobal[T any](txn *Transaction) error {
	if !txn.perms.HasAddRemove() {
		return ErrInsufficientPermissions
	}
	t, err := resolveGlobalIndex[T](txn)
	if err != nil {
		return err
	}
	store := getStore[T](txn.ecs.stores, t)
	store.Remove(0)
	store.MarkWriteAccessed()
	return nil
}

func resolveGlobalIndex[T any](txn *Transaction) (int, error) {
	idx := typeIndex[T](txn.ecs.reg)
	if idx < 0 {
		var zero T
		return -1, fmt.Errorf("tecs: %T is not a registered component type", zero)
	}
	if !txn.ecs.reg.isGlobal(idx) {
		var zero T
		return -1, fmt.Errorf("tecs: %T was not registered with RegisterGlobal", zero)
	}
	return idx, nil
}
