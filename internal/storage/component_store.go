package storage

import (
	"sync/atomic"

	"github.com/hexlayer/tecs/internal/entity"
	"github.com/hexlayer/tecs/internal/lockproto"
)

// ComponentStore is the double-buffered backing store for one registered
// component type (SPEC_FULL §3/§4.3). Index i of read/write corresponds
// to entity slot i; readValid/writeValid are the dense "entities having
// this component" lists invariant I1 talks about.
type ComponentStore[T any] struct {
	Mutex *lockproto.RWCommitMutex

	read  []T
	write []T

	readValid  []entity.Entity
	writeValid []entity.Entity
	// writeValidPos[slot] is the index of slot's entity within writeValid,
	// or -1 if slot does not currently have this component in the write
	// buffer. Sized identically to read/write. readValidPos is the same
	// thing for the committed side, needed by global components (which
	// have no EMS presence bit of their own to consult).
	writeValidPos []int
	readValidPos  []int

	writeAccessed atomic.Bool
	global        bool
	retryYield    int
}

// NewComponentStore constructs an empty store. global marks a singleton
// component that only ever uses slot 0 (SPEC_FULL §3).
func NewComponentStore[T any](global bool, retryYield int) *ComponentStore[T] {
	return &ComponentStore[T]{
		Mutex:      lockproto.New(retryYield),
		global:     global,
		retryYield: retryYield,
	}
}

// Global reports whether this store is a singleton component store.
func (s *ComponentStore[T]) Global() bool { return s.global }

// GetMutex returns the store's lock, for the ECS-wide type-erased
// componentStorer interface.
func (s *ComponentStore[T]) GetMutex() *lockproto.RWCommitMutex { return s.Mutex }

// Len returns the number of slots currently backing this store.
func (s *ComponentStore[T]) Len() int { return len(s.write) }

// Grow appends count freshly default-initialized slots.
func (s *ComponentStore[T]) Grow(count int) {
	var zero T
	for i := 0; i < count; i++ {
		s.read = append(s.read, zero)
		s.write = append(s.write, zero)
		s.writeValidPos = append(s.writeValidPos, -1)
		s.readValidPos = append(s.readValidPos, -1)
	}
}

// MarkWriteAccessed flags that the write buffer was touched, so Commit
// knows not to skip this type (SPEC_FULL §4.3: "If the type's
// write-access bit is clear, skip the entire commit for that type").
func (s *ComponentStore[T]) MarkWriteAccessed() {
	s.writeAccessed.Store(true)
}

// WriteAccessed reports whether a write occurred since the last commit.
func (s *ComponentStore[T]) WriteAccessed() bool {
	return s.writeAccessed.Load()
}

// HasWrite reports write-buffer presence for slot.
func (s *ComponentStore[T]) HasWrite(slot uint32) bool {
	return int(slot) < len(s.writeValidPos) && s.writeValidPos[slot] >= 0
}

// HasRead reports committed (read-buffer) presence for slot. Entity
// components have a dedicated EMS presence bit for this; global
// components have no entity handle to hang one off, so this is the
// presence check GetGlobal/SetGlobal/HasGlobal fall back to.
func (s *ComponentStore[T]) HasRead(slot uint32) bool {
	return int(slot) < len(s.readValidPos) && s.readValidPos[slot] >= 0
}

// GetRead returns the read-buffer value for slot.
func (s *ComponentStore[T]) GetRead(slot uint32) T {
	return s.read[slot]
}

// GetWrite returns a pointer into the write buffer for slot, for
// in-place mutation by Set/Get-with-Write-permission.
func (s *ComponentStore[T]) GetWrite(slot uint32) *T {
	return &s.write[slot]
}

// SetWrite assigns the write-buffer value for slot.
func (s *ComponentStore[T]) SetWrite(slot uint32, v T) {
	s.write[slot] = v
}

// Add marks slot present in the write buffer, appending it to the dense
// valid-entity list if it was not already there. Requires AddRemove.
func (s *ComponentStore[T]) Add(e entity.Entity) {
	slot := e.Index
	if s.writeValidPos[slot] >= 0 {
		return
	}
	s.writeValidPos[slot] = len(s.writeValid)
	s.writeValid = append(s.writeValid, e)
}

// Remove tombstones slot's entry in the dense valid-entity list. Per
// SPEC_FULL §4.3 ("Unsetting a component... marks the dense-list entry
// invalid; reconciliation happens during commit"), the tombstone is left
// in place and compacted only when a subsequent AddRemove commit runs.
func (s *ComponentStore[T]) Remove(slot uint32) {
	pos := s.writeValidPos[slot]
	if pos < 0 {
		return
	}
	s.writeValid[pos] = entity.Invalid
	s.writeValidPos[slot] = -1

	var zero T
	s.write[slot] = zero
}

// RemoveSlot is Remove under its type-erased name, for the root
// package's componentStorer interface. Also marks the store
// write-accessed, since Destroy bypasses the typed Unset[T] path that
// normally does so.
func (s *ComponentStore[T]) RemoveSlot(slot uint32) {
	s.Remove(slot)
	s.writeAccessed.Store(true)
}

// ReadValid returns the committed dense list of entities with this
// component.
func (s *ComponentStore[T]) ReadValid() []entity.Entity { return s.readValid }

// WriteValid returns the in-progress dense list of entities with this
// component, tombstones and all; callers that need a clean view (e.g.
// EntitiesWith during an AddRemove transaction) should skip tombstones
// via entity.Entity.IsValid.
func (s *ComponentStore[T]) WriteValid() []entity.Entity { return s.writeValid }

// compact drops tombstoned entries from writeValid and rebuilds
// writeValidPos. Only ever needed at AddRemove commit time, when
// membership may have changed.
func (s *ComponentStore[T]) compact() {
	out := s.writeValid[:0]
	for _, e := range s.writeValid {
		if !e.IsValid() {
			continue
		}
		s.writeValidPos[e.Index] = len(out)
		out = append(out, e)
	}
	s.writeValid = out
}

// Commit publishes the write buffer into the read buffer, per the
// algorithm in SPEC_FULL §4.3. addRemove selects between the full-copy
// path (membership may have changed) and the sparse/bulk value-only path.
func (s *ComponentStore[T]) Commit(addRemove bool) {
	if !s.writeAccessed.Load() {
		return
	}

	if addRemove {
		s.compact()
		s.read = append(s.read[:0], s.write...)
		s.readValid = append(s.readValid[:0], s.writeValid...)
		s.readValidPos = append(s.readValidPos[:0], s.writeValidPos...)
	} else {
		// Bulk-copy once the touched fraction crosses roughly 1/6 of the
		// store, otherwise copy only the entries actually present.
		if len(s.writeValid) > len(s.write)/6 {
			copy(s.read, s.write)
		} else {
			for _, e := range s.writeValid {
				if e.IsValid() {
					s.read[e.Index] = s.write[e.Index]
				}
			}
		}
	}

	s.writeAccessed.Store(false)
}
