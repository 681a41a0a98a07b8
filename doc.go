// Package tecs provides a thread-safe, transactional entity-component-
// system storage engine.
//
// Every registered component type gets its own double-buffered store: a
// write buffer transactions mutate and a read buffer other transactions
// observe, reconciled only when a write-holding transaction commits.
// Reads never block on writes in progress, and a commit only needs to
// exclude readers for the instant it takes to swap the buffers.
//
// # Basic Usage
//
//	type Position struct{ X, Y float64 }
//	type Velocity struct{ X, Y float64 }
//
//	ecs, err := tecs.New(tecs.DefaultTunables(),
//	    tecs.Register[Position]("Position"),
//	    tecs.Register[Velocity]("Velocity"),
//	)
//	if err != nil {
//	    // handle invalid tunables or a duplicate registration
//	}
//	defer ecs.Close()
//
//	owner := tecs.GoroutineOwner()
//	txn, err := ecs.Begin(owner, tecs.AddRemove(), tecs.Write[Position](), tecs.Write[Velocity]())
//	if err != nil {
//	    // handle [ErrNestedTransaction]
//	}
//	defer txn.Close()
//
//	e, _ := tecs.NewEntity(txn)
//	_ = tecs.Set(txn, e, Position{})
//	_ = tecs.Set(txn, e, Velocity{X: 1})
//
// # Concurrency
//
// [ECS.Begin] blocks until every lock the requested [Permission] set
// needs is acquired, in a fixed order (the entity metadata store first,
// then component stores in registration order), which is what makes the
// engine deadlock-free under concurrent transactions requesting
// overlapping permission sets. [Transaction.Close] — call it with defer,
// the idiomatic guaranteed-cleanup point for a transaction's scope —
// commits every write-accessed store and releases every held lock in the
// reverse order.
//
// # Error Handling
//
// Recoverable errors ([ErrMissingComponent], [ErrInsufficientPermissions],
// [ErrForeignEntity], [ErrStaleEntity], [ErrOutOfBounds],
// [ErrObserverClosed]): returned to the caller, classify with errors.Is
// and retry with a fresh transaction if appropriate.
//
// Protocol errors ([ErrLockProtocolViolation]): always indicate a bug in
// tecs's own lock bookkeeping, never a condition reachable through
// ordinary API use. Reported through [FatalHandler] rather than
// returned, since they surface from Close, which callers invoke via
// defer and cannot usefully handle an error return from.
package tecs
