package tecs

import "errors"

// Error classification codes (SPEC_FULL §7).
//
// All but ErrLockProtocolViolation are ordinary recoverable errors:
// callers classify them with errors.Is and retry with a fresh
// transaction if they wish. ErrLockProtocolViolation indicates a bug in
// tecs's own lock bookkeeping, not a condition a caller can recover
// from; see FatalHandler.
var (
	// ErrNestedTransaction is raised when an owner that already has an
	// open transaction on this ECS tries to begin another one (I7).
	ErrNestedTransaction = errors.New("tecs: nested transaction")

	// ErrInsufficientPermissions is returned by Subset when the requested
	// permission set is wider than the transaction's own, and by the
	// entity and component accessors when the transaction lacks the
	// permission the call needs. TryNarrow reports the same condition as
	// a false result instead.
	ErrInsufficientPermissions = errors.New("tecs: insufficient permissions")

	// ErrMissingComponent is returned by Get/GetPrevious/Set when the
	// component is absent and the transaction has no AddRemove
	// permission to auto-insert it.
	ErrMissingComponent = errors.New("tecs: missing component")

	// ErrForeignEntity is returned when a handle's embedded ECS
	// identifier does not match the instance the transaction belongs to.
	ErrForeignEntity = errors.New("tecs: entity belongs to a different ECS instance")

	// ErrStaleEntity is returned when a handle's generation does not
	// match the slot's current generation.
	ErrStaleEntity = errors.New("tecs: stale entity handle")

	// ErrOutOfBounds is returned for invalid slot indices in checked
	// mode; see UncheckedMode.
	ErrOutOfBounds = errors.New("tecs: index out of bounds")

	// ErrObserverClosed is returned by Poll after StopWatching/Close.
	ErrObserverClosed = errors.New("tecs: observer closed")

	// ErrLockProtocolViolation indicates a commit/unlock call happened
	// without its required precondition. Always a bug, never a runtime
	// condition callers can hit through normal API use; see
	// FatalHandler.
	ErrLockProtocolViolation = errors.New("tecs: lock protocol violation")
)
