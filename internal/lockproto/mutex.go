// Copyright 2020 Nathan Taylor (nbtaylor@gmail.com)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package lockproto implements the reader/writer/commit state machine that
// backs every double-buffered component store in tecs.
//
// A RWCommitMutex admits any number of concurrent readers, at most one
// writer, and a commit phase that is exclusive against both. New readers
// are admitted throughout a write right up until the writer calls
// CommitLock: that call raises the writer field to commitState *before*
// waiting for existing readers to drain, so any reader arriving during
// commit sees the commit marker and blocks. This is what gives a
// committing writer priority without starving readers the rest of the
// time.
//
// The acquisition fast path is a lock-free CAS loop, same shape as
// dijkstracula/go-ilock's registerX functions. Unlike the C++ reference,
// Go has no futex-style atomic.Wait, so the slow path parks on a
// sync.Cond (as go-ilock does) instead of a platform wait primitive;
// callers that need the C++ reference's precise wake latency should keep
// SpinlockRetryYield high enough that the
// cond path is rarely hit under real contention.
package lockproto

import (
	"sync"
	"sync/atomic"
)

// Reader-count states. Any value other than readerLocked is a live count.
const (
	readerFree   uint32 = 0
	readerLocked uint32 = ^uint32(0)
)

// Writer states.
const (
	writerFree  uint32 = 0
	writerHeld  uint32 = 1
	writerOwned uint32 = 2 // commit in progress
)

// Event is a lock-protocol transition, emitted to an optional Tracer so the
// performance-trace subsystem (an external collaborator, see SPEC_FULL §6)
// can record it without this package knowing anything about ring buffers
// or CSV export.
type Event int

const (
	EventReadLockWait Event = iota
	EventReadLock
	EventReadUnlock
	EventWriteLockWait
	EventWriteLock
	EventCommitLockWait
	EventCommitLock
	EventCommitUnlock
	EventWriteUnlock
)

// Tracer receives lock-protocol events. Implementations must be cheap and
// non-blocking; they run on the critical path of every lock transition.
type Tracer interface {
	Trace(Event)
}

// ProtocolViolation is returned when Commit*/Write* is called outside of
// the precondition the state machine requires. It always indicates a bug
// in the caller (tecs's own transaction lifecycle code), never a runtime
// condition a well-behaved caller can hit.
type ProtocolViolation struct {
	Op  string
	Msg string
}

func (e *ProtocolViolation) Error() string {
	return "lockproto: " + e.Op + ": " + e.Msg
}

// RWCommitMutex is the per-component-type (or per-EMS) lock described in
// SPEC_FULL §4.2.
type RWCommitMutex struct {
	mu   sync.Mutex
	cond *sync.Cond

	readers atomic.Uint32
	writer  atomic.Uint32

	retryYield int
	tracer     Tracer
}

// New returns an unlocked mutex. retryYield is the number of failed CAS
// attempts ("SpinlockRetryYield" in SPEC_FULL §6) before a blocking
// acquisition parks on the condition variable instead of busy-retrying.
func New(retryYield int) *RWCommitMutex {
	m := &RWCommitMutex{retryYield: retryYield}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// SetTracer installs (or clears, with nil) the event tracer. Not safe to
// call concurrently with lock operations; callers install it once, before
// the mutex is shared.
func (m *RWCommitMutex) SetTracer(t Tracer) {
	m.tracer = t
}

func (m *RWCommitMutex) trace(e Event) {
	if m.tracer != nil {
		m.tracer.Trace(e)
	}
}

// park blocks until cond is false, evaluated under the mutex so that a
// Broadcast from an unlocking goroutine can't be lost between the caller's
// last failed CAS and the Wait call.
func (m *RWCommitMutex) park(stillBlocked func() bool) {
	m.mu.Lock()
	for stillBlocked() {
		m.cond.Wait()
	}
	m.mu.Unlock()
}

func (m *RWCommitMutex) wake() {
	m.mu.Lock()
	m.cond.Broadcast()
	m.mu.Unlock()
}

// ReadLock acquires a shared read lock. It succeeds whenever readers is
// not exclusively locked and no commit is in progress. If block is false
// it returns immediately with false instead of waiting.
func (m *RWCommitMutex) ReadLock(block bool) bool {
	retry := 0
	tracedWait := false
	for {
		r := m.readers.Load()
		w := m.writer.Load()
		if r != readerLocked && w != writerOwned {
			if m.readers.CompareAndSwap(r, r+1) {
				m.trace(EventReadLock)
				return true
			}
			continue
		}

		if !block {
			return false
		}
		if !tracedWait {
			m.trace(EventReadLockWait)
			tracedWait = true
		}

		retry++
		if retry > m.retryYield {
			retry = 0
			m.park(func() bool {
				return m.readers.Load() == readerLocked || m.writer.Load() == writerOwned
			})
		}
	}
}

// ReadUnlock releases a previously acquired read lock.
func (m *RWCommitMutex) ReadUnlock() error {
	for {
		r := m.readers.Load()
		if r == readerFree || r == readerLocked {
			return &ProtocolViolation{Op: "ReadUnlock", Msg: "called without a held read lock"}
		}
		if m.readers.CompareAndSwap(r, r-1) {
			m.trace(EventReadUnlock)
			m.wake()
			return nil
		}
	}
}

// WriteLock acquires the single writer slot. Readers may still come and
// go freely while a writer holds this lock; only CommitLock excludes them.
func (m *RWCommitMutex) WriteLock(block bool) bool {
	retry := 0
	tracedWait := false
	for {
		w := m.writer.Load()
		if w == writerFree {
			if m.writer.CompareAndSwap(w, writerHeld) {
				m.trace(EventWriteLock)
				return true
			}
			continue
		}

		if !block {
			return false
		}
		if !tracedWait {
			m.trace(EventWriteLockWait)
			tracedWait = true
		}

		retry++
		if retry > m.retryYield {
			retry = 0
			m.park(func() bool { return m.writer.Load() != writerFree })
		}
	}
}

// CommitLock transitions a held write lock into the exclusive commit
// phase. It raises writer to the commit marker first (blocking new
// readers immediately) and then waits for in-flight readers to drain.
// Precondition: the calling goroutine holds the write lock.
func (m *RWCommitMutex) CommitLock() error {
	w := m.writer.Load()
	if w != writerHeld {
		return &ProtocolViolation{Op: "CommitLock", Msg: "called outside of WriteLock"}
	}
	if !m.writer.CompareAndSwap(w, writerOwned) {
		return &ProtocolViolation{Op: "CommitLock", Msg: "writer state changed unexpectedly"}
	}

	retry := 0
	tracedWait := false
	for {
		r := m.readers.Load()
		if r == readerFree {
			if m.readers.CompareAndSwap(r, readerLocked) {
				m.trace(EventCommitLock)
				return nil
			}
			continue
		}

		if !tracedWait {
			m.trace(EventCommitLockWait)
			tracedWait = true
		}

		retry++
		if retry > m.retryYield {
			retry = 0
			m.park(func() bool { return m.readers.Load() != readerFree })
		}
	}
}

// CommitUnlock ends the commit phase, admitting new readers again and
// dropping the writer back to the plain write-held state. Must be called
// between CommitLock and WriteUnlock.
func (m *RWCommitMutex) CommitUnlock() error {
	r := m.readers.Load()
	if r != readerLocked {
		return &ProtocolViolation{Op: "CommitUnlock", Msg: "called outside of CommitLock"}
	}
	if !m.readers.CompareAndSwap(r, readerFree) {
		return &ProtocolViolation{Op: "CommitUnlock", Msg: "readers state changed unexpectedly"}
	}

	w := m.writer.Load()
	if w != writerOwned {
		return &ProtocolViolation{Op: "CommitUnlock", Msg: "called outside of CommitLock"}
	}
	if !m.writer.CompareAndSwap(w, writerHeld) {
		return &ProtocolViolation{Op: "CommitUnlock", Msg: "writer state changed unexpectedly"}
	}

	m.trace(EventCommitUnlock)
	m.wake()
	return nil
}

// WriteUnlock releases the writer slot. It also clears a lingering commit
// marker (readers still locked, writer still in the commit state),
// covering the case where CommitLock was called but CommitUnlock was
// skipped.
func (m *RWCommitMutex) WriteUnlock() error {
	r := m.readers.Load()
	if r == readerLocked {
		if !m.readers.CompareAndSwap(r, readerFree) {
			return &ProtocolViolation{Op: "WriteUnlock", Msg: "readers state changed unexpectedly"}
		}
	}

	w := m.writer.Load()
	if w != writerHeld && w != writerOwned {
		return &ProtocolViolation{Op: "WriteUnlock", Msg: "called outside of WriteLock"}
	}
	if !m.writer.CompareAndSwap(w, writerFree) {
		return &ProtocolViolation{Op: "WriteUnlock", Msg: "writer state changed unexpectedly"}
	}

	m.trace(EventWriteUnlock)
	m.wake()
	return nil
}
