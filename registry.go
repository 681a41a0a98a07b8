package tecs

import (
	"fmt"
	"reflect"

	"github.com/hexlayer/tecs/internal/lockproto"
	"github.com/hexlayer/tecs/internal/storage"
)

// componentStorer is the type-erased view of a storage.ComponentStore[T]
// that the registry and the ECS's commit path operate on without
// knowing T. Typed access recovers T via getStore.
type componentStorer interface {
	Commit(addRemove bool)
	Grow(count int)
	Global() bool
	GetMutex() *lockproto.RWCommitMutex
	Len() int
	// RemoveSlot tombstones slot in this store's dense valid-entity list,
	// a no-op if slot did not have this component. Used by Destroy to
	// clear every store's membership for a destroyed entity without
	// needing a typed Unset[T] call per registered type.
	RemoveSlot(slot uint32)
}

// ComponentRegistration declares one component type to New. Register[T]
// produces one of these; component declaration order becomes the fixed,
// ordered type list SPEC_FULL §2 describes, which in turn fixes the lock
// acquisition order (§4.4) and cross-type observer delivery order (§4.6).
type ComponentRegistration struct {
	typ      reflect.Type
	name     string
	global   bool
	newStore func(retryYield int) componentStorer
}

// Register declares component type T for inclusion in an ECS built with
// New. name is used in diagnostics (ECS.ComponentName) and error
// messages; it has no effect on wire compatibility since this engine
// never persists anything (SPEC_FULL §6, "Persisted state: None").
func Register[T any](name string) ComponentRegistration {
	return ComponentRegistration{
		typ:  reflect.TypeOf((*T)(nil)).Elem(),
		name: name,
		newStore: func(retryYield int) componentStorer {
			return storage.NewComponentStore[T](false, retryYield)
		},
	}
}

// RegisterGlobal declares a singleton component type: only slot 0 is
// ever used and no entity handle is required to access it (SPEC_FULL
// §3, §4.5).
func RegisterGlobal[T any](name string) ComponentRegistration {
	return ComponentRegistration{
		typ:  reflect.TypeOf((*T)(nil)).Elem(),
		name: name,
		global: true,
		newStore: func(retryYield int) componentStorer {
			return storage.NewComponentStore[T](true, retryYield)
		},
	}
}

// registry is the resolved, ordered component-type table built once at
// New time. It implements the "static registry mapping component-type
// tag to storage" design SPEC_FULL §9 describes for languages without
// C++-style templates.
type registry struct {
	regs    []ComponentRegistration
	indexOf map[reflect.Type]int
}

func newRegistry(regs []ComponentRegistration) (*registry, error) {
	indexOf := make(map[reflect.Type]int, len(regs))
	for i, r := range regs {
		if _, dup := indexOf[r.typ]; dup {
			return nil, fmt.Errorf("tecs: component type %s registered more than once", r.typ)
		}
		indexOf[r.typ] = i
	}
	return &registry{regs: regs, indexOf: indexOf}, nil
}

func (r *registry) count() int { return len(r.regs) }

func (r *registry) indexOfType(t reflect.Type) (int, bool) {
	i, ok := r.indexOf[t]
	return i, ok
}

func (r *registry) name(i int) string { return r.regs[i].name }

func (r *registry) isGlobal(i int) bool { return r.regs[i].global }

// typeIndex returns the registered index of T, or -1 if T was never
// registered.
func typeIndex[T any](r *registry) int {
	t := reflect.TypeOf((*T)(nil)).Elem()
	i, ok := r.indexOfType(t)
	if !ok {
		return -1
	}
	return i
}

// getStore recovers the typed store for T from the type-erased slice.
// Panics if T was never registered or the slice entry is some other
// type's store — both are programmer errors (caller must check
// typeIndex first), not user-facing conditions.
func getStore[T any](stores []componentStorer, idx int) *storage.ComponentStore[T] {
	return stores[idx].(*storage.ComponentStore[T])
}
