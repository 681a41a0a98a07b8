package tecs

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hexlayer/tecs/internal/entity"
)

// EventKind distinguishes the three observer event kinds of SPEC_FULL
// §4.6.
type EventKind int

const (
	// EventAdded fires when a component's presence bit transitions from
	// absent to present on a live entity.
	EventAdded EventKind = iota
	// EventRemoved fires when a component's presence bit transitions from
	// present to absent.
	EventRemoved
	// EventModified fires when a present component's value may have
	// changed, reported when an AddRemove transaction commits. Observer
	// events are only dispatched by AddRemove commits, so writes committed
	// by a transaction without AddRemove produce no EventModified (that
	// commit also clears the store's write-access flag). This implementation derives
	// it from the owning store's write-access flag rather than a
	// per-entity dirty bit (see DESIGN.md): every entity that had the
	// component both before and after the commit is reported, which is a
	// conservative superset of "this exact entity's value changed".
	EventModified
)

// ObserverEvent is one delivered notification.
type ObserverEvent struct {
	Kind   EventKind
	Entity Entity
}

// Observer is a handle returned by Watch. Poll drains events accumulated
// since the last Poll; StopWatching (or Close) ends delivery and frees
// the registry slot.
type Observer struct {
	reg     *observerRegistry
	id      uint64
	kind    EventKind
	typeIdx int // component index for EventModified; unused for Added/Removed

	mu     sync.Mutex
	queue  []ObserverEvent
	closed atomic.Bool
}

// Poll returns and clears every event accumulated since the previous
// Poll call. Returns ErrObserverClosed if StopWatching/Close was already
// called.
func (o *Observer) Poll() ([]ObserverEvent, error) {
	if o.closed.Load() {
		return nil, ErrObserverClosed
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	events := o.queue
	o.queue = nil
	return events, nil
}

// StopWatching ends delivery to this observer and removes it from the
// registry. Safe to call more than once.
func (o *Observer) StopWatching() {
	if !o.closed.CompareAndSwap(false, true) {
		return
	}
	o.reg.remove(o.id)
}

// Close is an alias for StopWatching, so Observer can be used with
// defer the way Transaction can.
func (o *Observer) Close() { o.StopWatching() }

func (o *Observer) deliver(e ObserverEvent) {
	o.mu.Lock()
	o.queue = append(o.queue, e)
	o.mu.Unlock()
}

// observerRegistry tracks every live Observer for one ECS instance.
// The registry holds a strong reference to each Observer. StopWatching
// removes the entry at once, and compact, run during AddRemove commits,
// drops any entry whose handle is marked closed. An Observer dropped
// without StopWatching/Close is never detected: it stays registered and
// keeps queueing events.
type observerRegistry struct {
	componentCount int

	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]*Observer
}

func newObserverRegistry(componentCount int) *observerRegistry {
	return &observerRegistry{
		componentCount: componentCount,
		entries:        make(map[uint64]*Observer),
	}
}

func (r *observerRegistry) watch(kind EventKind, typeIdx int) *Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	o := &Observer{reg: r, id: r.nextID, kind: kind, typeIdx: typeIdx}
	r.entries[o.id] = o
	return o
}

func (r *observerRegistry) remove(id uint64) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// compact drops entries whose handle was already closed. Called once
// per AddRemove commit, matching the original's weak-ownership sweep
// cadence (it only needs to run as often as membership can change).
func (r *observerRegistry) compact() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, o := range r.entries {
		if o.closed.Load() {
			delete(r.entries, id)
		}
	}
}

// dispatch delivers one event to every live observer matching kind (and,
// for EventModified, typeIdx).
func (r *observerRegistry) dispatch(kind EventKind, typeIdx int, e Entity) {
	r.mu.Lock()
	matches := make([]*Observer, 0, len(r.entries))
	for _, o := range r.entries {
		if o.closed.Load() {
			continue
		}
		if o.kind != kind {
			continue
		}
		if o.typeIdx != typeIdx {
			continue
		}
		matches = append(matches, o)
	}
	r.mu.Unlock()

	for _, o := range matches {
		o.deliver(ObserverEvent{Kind: kind, Entity: e})
	}
}

// dispatchObserverEvents diffs every slot's per-type presence bit
// between the EMS's current (write-side) and previous (committed)
// snapshots and dispatches Added/Removed/Modified accordingly. Must run
// before the EMS and component stores' own Commit calls, since those
// overwrite the very state (prevValid, writeAccessed) being diffed here
// (SPEC_FULL §4.6).
func (ecs *ECS) dispatchObserverEvents() {
	n := ecs.reg.count()
	capacity := ecs.ems.Cap()

	// Component declaration order outer, slot order inner, so that
	// cross-type delivery order matches declaration order within one
	// commit (SPEC_FULL §4.6, §9's resolved open question).
	for i := 0; i < n; i++ {
		writeAccessed := ecs.stores[i].WriteAccessed()
		bit := i + 1
		for slot := 0; slot < capacity; slot++ {
			s := uint32(slot)
			curAlive := ecs.ems.HasBit(s, 0, true)
			prevAlive := ecs.ems.HasBit(s, 0, false)
			if !curAlive && !prevAlive {
				continue
			}
			cur := curAlive && ecs.ems.HasBit(s, bit, true)
			prev := prevAlive && ecs.ems.HasBit(s, bit, false)
			switch {
			case cur && !prev:
				ecs.observers.dispatch(EventAdded, i, entity.Entity{Index: s, Generation: ecs.ems.CurrentGeneration(s)})
			case !cur && prev:
				ecs.observers.dispatch(EventRemoved, i, entity.Entity{Index: s, Generation: ecs.ems.PreviousGeneration(s)})
			case cur && prev:
				if writeAccessed {
					ecs.observers.dispatch(EventModified, i, entity.Entity{Index: s, Generation: ecs.ems.CurrentGeneration(s)})
				}
			}
		}
	}
}

// Watch registers an observer for Added or Removed events on component
// type T (SPEC_FULL §4.6). Use WatchModified for EventModified, which
// additionally needs T to select the right presence bit.
func Watch[T any](ecs *ECS, kind EventKind) (*Observer, error) {
	if kind == EventModified {
		return WatchModified[T](ecs)
	}
	idx := typeIndex[T](ecs.reg)
	if idx < 0 {
		return nil, fmt.Errorf("tecs: %T is not a registered component type", *new(T))
	}
	return ecs.observers.watch(kind, idx), nil
}

// WatchModified registers an observer for EventModified events on
// component type T.
func WatchModified[T any](ecs *ECS) (*Observer, error) {
	idx := typeIndex[T](ecs.reg)
	if idx < 0 {
		return nil, fmt.Errorf("tecs: %T is not a registered component type", *new(T))
	}
	return ecs.observers.watch(EventModified, idx), nil
}
