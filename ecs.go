package tecs

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hexlayer/tecs/internal/entity"
	"github.com/hexlayer/tecs/internal/lockproto"
	"github.com/hexlayer/tecs/internal/storage"
	"github.com/hexlayer/tecs/internal/trace"
)

// UncheckedMode elides range and validation checks (ErrOutOfBounds, and
// generation checks beyond the core stale/foreign-entity check, which is
// always cheap) for maximum throughput, per SPEC_FULL §7. Default false.
// It is a package-level switch rather than a per-ECS option because it
// is meant to be flipped once, globally, for a release build — the same
// way the C++ reference gates these checks behind a compile-time define.
var UncheckedMode = false

// ECS is one storage-engine instance: an entity metadata store, one
// component store per registered type, a lock controller realized as a
// RWCommitMutex per store, and an observer registry. The zero value is
// not usable; construct with New.
type ECS struct {
	id  uint8
	uid uuid.UUID

	tunables Tunables
	reg      *registry

	ems    *storage.EntityStore
	stores []componentStorer

	bitsetWidth int

	traceRing *trace.Ring
	fanout    *fanoutTracer

	owners     sync.Map // owner (any) -> *Transaction
	txnCounter atomic.Uint64

	observers *observerRegistry

	closed atomic.Bool
}

// New constructs an ECS from its component registrations. Registration
// order is permanent for the lifetime of the instance: it fixes the lock
// acquisition order (SPEC_FULL §4.4) and the cross-type observer
// delivery order (§4.6).
func New(tunables Tunables, regs ...ComponentRegistration) (*ECS, error) {
	if err := tunables.Validate(); err != nil {
		return nil, err
	}

	reg, err := newRegistry(regs)
	if err != nil {
		return nil, err
	}

	ecsID := entity.NextID()
	bitsetWidth := 1 + reg.count()

	ems := storage.NewEntityStore(ecsID, bitsetWidth, tunables.SpinlockRetryYield)

	stores := make([]componentStorer, reg.count())
	for i, r := range regs {
		stores[i] = r.newStore(tunables.SpinlockRetryYield)
		if r.global {
			// Globals use a fixed length-1 backing slice (slot 0 only);
			// they never grow in lockstep with the EMS (SPEC_FULL §3).
			stores[i].Grow(1)
		}
	}

	traceRing := trace.NewRing(tunables.PerformanceTracingMaxEvents)
	fanout := &fanoutTracer{listeners: []lockproto.Tracer{traceRing}}

	ems.Mutex.SetTracer(fanout)
	for _, s := range stores {
		s.GetMutex().SetTracer(fanout)
	}

	ecs := &ECS{
		id:          ecsID,
		uid:         uuid.New(),
		tunables:    tunables,
		reg:         reg,
		ems:         ems,
		stores:      stores,
		bitsetWidth: bitsetWidth,
		traceRing:   traceRing,
		fanout:      fanout,
		observers:   newObserverRegistry(reg.count()),
	}

	ecs.withECS().Debug().Int("component_count", reg.count()).Msg("ecs constructed")
	return ecs, nil
}

// ID returns this instance's process-unique diagnostic identifier.
func (ecs *ECS) ID() uuid.UUID { return ecs.uid }

// ComponentCount returns the number of registered component types.
func (ecs *ECS) ComponentCount() int { return ecs.reg.count() }

// ComponentName returns the diagnostic name passed to Register/
// RegisterGlobal for component index idx.
func (ecs *ECS) ComponentName(idx int) string { return ecs.reg.name(idx) }

// BytesPerEntity estimates the per-entity storage footprint: the EMS
// bitset-and-generation bookkeeping plus one value slot per registered
// component type.
func (ecs *ECS) BytesPerEntity() int {
	total := ((ecs.bitsetWidth+7)/8)*2 + 8 // cur+prev validity bitset bytes, cur+prev generation
	for _, r := range ecs.reg.regs {
		total += int(r.typ.Size())
	}
	return total
}

// Close stops tracing and marks the instance closed. It does not release
// any locks held by in-flight transactions; callers are responsible for
// closing every Transaction before calling Close.
func (ecs *ECS) Close() error {
	if !ecs.closed.CompareAndSwap(false, true) {
		return nil
	}
	ecs.traceRing.Disable()
	ecs.withECS().Debug().Msg("ecs closed")
	return nil
}

// Begin opens a transaction with a static permission set, blocking until
// every required lock is acquired in declaration order (EMS first, then
// components in registration order), per SPEC_FULL §4.4. owner
// identifies the logical caller for nested-transaction detection (§4.4a);
// a second Begin with the same owner while its transaction is still open
// returns ErrNestedTransaction.
func (ecs *ECS) Begin(owner any, perms ...Permission) (*Transaction, error) {
	ps, err := newPermissionSet(ecs.reg, perms)
	if err != nil {
		return nil, err
	}
	return ecs.begin(owner, ps)
}

// BeginDynamic opens a transaction from a foreign-interface-friendly
// PermissionBits value instead of a []Permission list (SPEC_FULL §4.1).
func (ecs *ECS) BeginDynamic(owner any, bits PermissionBits) (*Transaction, error) {
	ps := bits.toPermissionSet(ecs.reg)
	return ecs.begin(owner, ps)
}

func (ecs *ECS) begin(owner any, ps *PermissionSet) (*Transaction, error) {
	if _, loaded := ecs.owners.LoadOrStore(owner, (*Transaction)(nil)); loaded {
		return nil, fmt.Errorf("%w: owner already has an open transaction", ErrNestedTransaction)
	}

	txn := &Transaction{
		ecs:   ecs,
		owner: owner,
		perms: ps,
		id:    ecs.txnCounter.Add(1),
	}
	ecs.owners.Store(owner, txn)

	txn.acquire()
	return txn, nil
}

// GoroutineOwner returns a fresh, comparable token suitable for Begin's
// owner parameter, for callers that confine one transaction to one
// goroutine at a time and just want the C++-reference semantics of
// keying nesting detection off the calling thread (SPEC_FULL §4.4a). The
// returned token must be reused for any nested Begin call the same
// logical caller might attempt — calling GoroutineOwner again returns a
// different token and defeats nesting detection.
func GoroutineOwner() any {
	// Not new(struct{}): zero-size allocations may all share one address,
	// which would make every token compare equal.
	return new(byte)
}
