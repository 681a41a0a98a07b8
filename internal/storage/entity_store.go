package storage

import (
	"sync/atomic"

	"github.com/hexlayer/tecs/internal/entity"
	"github.com/hexlayer/tecs/internal/lockproto"
)

// EntityStore is the entity metadata store (EMS) of SPEC_FULL §2/§3: one
// record per entity slot (current/previous validity bitset, current/
// previous generation), plus the dense "live entities" list and the free
// list that backs allocation.
//
// Unlike a ComponentStore, the EMS is only ever committed as the
// AddRemove transaction does (§4.4: "For the EMS: same pattern (writer
// commit if AddRemove, reader release otherwise)"), so its Commit always
// takes the full-copy-and-compact path; there is no sparse/bulk split to
// choose between.
type EntityStore struct {
	Mutex *lockproto.RWCommitMutex

	ecsID       uint8
	bitsetWidth int // 1 (alive marker) + number of registered component types

	curValid  []Bitset
	prevValid []Bitset
	curGen    []uint32
	prevGen   []uint32

	free []uint32

	liveWrite    []entity.Entity
	liveRead     []entity.Entity
	livePosWrite []int

	writeAccessed atomic.Bool
}

// NewEntityStore constructs an empty EMS. bitsetWidth must be 1 plus the
// number of registered component types.
func NewEntityStore(ecsID uint8, bitsetWidth, retryYield int) *EntityStore {
	return &EntityStore{
		Mutex:       lockproto.New(retryYield),
		ecsID:       ecsID,
		bitsetWidth: bitsetWidth,
	}
}

// Cap returns the number of slots currently allocated (live or free).
func (es *EntityStore) Cap() int { return len(es.curValid) }

func (es *EntityStore) growBatch(batch int) {
	for i := 0; i < batch; i++ {
		es.curValid = append(es.curValid, NewBitset(es.bitsetWidth))
		es.prevValid = append(es.prevValid, NewBitset(es.bitsetWidth))
		es.curGen = append(es.curGen, 0)
		es.prevGen = append(es.prevGen, 0)
		es.livePosWrite = append(es.livePosWrite, -1)
	}
}

// GrowFunc is called once per registered component store whenever the EMS
// grows, so every store's backing slices stay the same length as the
// EMS's. Passed in by the ECS rather than imported, since EntityStore
// knows nothing about component types.
type GrowFunc func(count int)

// Allocate pops a free slot (growing by batch first if the free list is
// empty) and returns a fresh entity handle for it, per SPEC_FULL §4.3.
// grow is invoked with the batch size exactly when a growth happens, so
// callers can grow their own parallel component stores in lockstep.
func (es *EntityStore) Allocate(batch int, grow GrowFunc) entity.Entity {
	var idx uint32
	if len(es.free) == 0 {
		idx = uint32(len(es.curValid))
		es.growBatch(batch)
		if grow != nil {
			grow(batch)
		}
		// Pushed in descending order so that popping from the end hands
		// out idx+1, idx+2, ... in ascending order.
		for i := idx + uint32(batch) - 1; i > idx; i-- {
			es.free = append(es.free, i)
		}
	} else {
		idx = es.free[len(es.free)-1]
		es.free = es.free[:len(es.free)-1]
	}

	gen := es.curGen[idx]
	if gen == 0 {
		gen = entity.Encode(1, es.ecsID)
		es.curGen[idx] = gen
	}

	e := entity.Entity{Index: idx, Generation: gen}
	es.curValid[idx].Set(0, true)

	pos := len(es.liveWrite)
	es.livePosWrite[idx] = pos
	es.liveWrite = append(es.liveWrite, e)

	es.writeAccessed.Store(true)
	return e
}

// Destroy clears slot's alive bit and every component-presence bit,
// bumps its generation (preserving the embedded ECS identifier), removes
// it from the dense live list, and returns it to the free list.
func (es *EntityStore) Destroy(idx uint32) {
	es.curValid[idx] = NewBitset(es.bitsetWidth)

	old := entity.Entity{Generation: es.curGen[idx]}
	es.curGen[idx] = entity.Encode(old.Counter()+1, old.ECSIdentifier())

	if pos := es.livePosWrite[idx]; pos >= 0 {
		es.liveWrite[pos] = entity.Invalid
		es.livePosWrite[idx] = -1
	}

	es.free = append(es.free, idx)
	es.writeAccessed.Store(true)
}

// HasBit reports the presence bit for (slot, bit), reading the current
// (write-side) bitset if useCurrent is set, else the previous
// (committed) snapshot.
func (es *EntityStore) HasBit(slot uint32, bit int, useCurrent bool) bool {
	if useCurrent {
		return es.curValid[slot].Get(bit)
	}
	return es.prevValid[slot].Get(bit)
}

// SetBit mutates the current (write-side) bitset; only ever valid under
// an AddRemove transaction.
func (es *EntityStore) SetBit(slot uint32, bit int, v bool) {
	es.curValid[slot].Set(bit, v)
}

// CurrentGeneration returns the write-side generation for slot.
func (es *EntityStore) CurrentGeneration(slot uint32) uint32 { return es.curGen[slot] }

// PreviousGeneration returns the last-committed generation for slot.
func (es *EntityStore) PreviousGeneration(slot uint32) uint32 { return es.prevGen[slot] }

// LiveWrite returns the in-progress dense list of live entities,
// tombstones included; see ComponentStore.WriteValid for the same
// caveat.
func (es *EntityStore) LiveWrite() []entity.Entity { return es.liveWrite }

// LiveRead returns the last-committed dense list of live entities.
func (es *EntityStore) LiveRead() []entity.Entity { return es.liveRead }

// WriteAccessed reports whether any allocation/destruction/bit mutation
// happened since the last commit.
func (es *EntityStore) WriteAccessed() bool { return es.writeAccessed.Load() }

// MarkWriteAccessed flags that a write occurred (used when a non-NewEntity/
// Destroy operation, e.g. Set's implicit Add, mutates a presence bit).
func (es *EntityStore) MarkWriteAccessed() { es.writeAccessed.Store(true) }

func (es *EntityStore) compactLive() {
	out := es.liveWrite[:0]
	for _, e := range es.liveWrite {
		if !e.IsValid() {
			continue
		}
		es.livePosWrite[e.Index] = len(out)
		out = append(out, e)
	}
	es.liveWrite = out
}

// Commit publishes the current bitsets, generations, and live list into
// the previous/committed snapshot, per SPEC_FULL §4.3/§4.4.
func (es *EntityStore) Commit() {
	if !es.writeAccessed.Load() {
		return
	}

	es.compactLive()

	for i := range es.curValid {
		es.prevValid[i].CopyFrom(es.curValid[i])
	}
	copy(es.prevGen, es.curGen)
	es.liveRead = append(es.liveRead[:0], es.liveWrite...)

	es.writeAccessed.Store(false)
}
