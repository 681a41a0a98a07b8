package tecs

import (
	"fmt"
	"reflect"
)

// permKind distinguishes the handful of permission primitives SPEC_FULL
// §4.1 allows. Go has no variadic template parameter pack to express
// "Read<A, B, C>...", so a transaction's static permission set is built
// from a plain slice of these markers instead (§9, "Design Notes: no
// parameter packs").
type permKind int

const (
	permRead permKind = iota
	permWrite
	permReadAll
	permWriteAll
	permAddRemove
)

// Permission is one entry in the list passed to Begin. Construct values
// with Read, Write, ReadAll, WriteAll, AddRemove, and Optional.
type Permission struct {
	kind     permKind
	typ      reflect.Type
	optional bool
}

// Read grants read access to component type T.
func Read[T any]() Permission {
	return Permission{kind: permRead, typ: reflect.TypeOf((*T)(nil)).Elem()}
}

// Write grants read and write access to component type T.
func Write[T any]() Permission {
	return Permission{kind: permWrite, typ: reflect.TypeOf((*T)(nil)).Elem()}
}

// ReadAll grants read access to every registered component type,
// including ones not yet known at the call site (SPEC_FULL §4.1).
func ReadAll() Permission { return Permission{kind: permReadAll} }

// WriteAll grants read and write access to every registered component
// type.
func WriteAll() Permission { return Permission{kind: permWriteAll} }

// AddRemove grants permission to create and destroy entities and to add
// or remove components, per SPEC_FULL §4.1. It does not by itself grant
// read or write access to any component's value.
func AddRemove() Permission { return Permission{kind: permAddRemove} }

// Optional marks a Read or Write permission as optional (SPEC_FULL §4.1,
// "Optional<Permission>"). For a wrapped Read permission, Get,
// GetPrevious and GetGlobal return T's zero value and a nil error when
// the component is absent, instead of ErrMissingComponent. Optional
// does not change lock acquisition: Begin still blocks until the
// underlying lock is held. Has and Had are not affected, and a wrapped
// Write permission is recorded (IsOptionalWrite) but changes no
// accessor's behavior.
func Optional(p Permission) Permission {
	p.optional = true
	return p
}

// PermissionSet is the resolved, per-component-index form of a
// Permission list, built once when a transaction begins (or narrows).
// It is what every Get/Set/Has/Destroy call actually checks against.
type PermissionSet struct {
	read          []bool
	write         []bool
	optionalRead  []bool
	optionalWrite []bool
	readAll       bool
	writeAll      bool
	addRemove     bool
}

func newPermissionSet(r *registry, perms []Permission) (*PermissionSet, error) {
	n := r.count()
	ps := &PermissionSet{
		read:          make([]bool, n),
		write:         make([]bool, n),
		optionalRead:  make([]bool, n),
		optionalWrite: make([]bool, n),
	}
	for _, p := range perms {
		switch p.kind {
		case permRead:
			idx, ok := r.indexOfType(p.typ)
			if !ok {
				return nil, fmt.Errorf("tecs: %s is not a registered component type", p.typ)
			}
			ps.read[idx] = true
			if p.optional {
				ps.optionalRead[idx] = true
			}
		case permWrite:
			idx, ok := r.indexOfType(p.typ)
			if !ok {
				return nil, fmt.Errorf("tecs: %s is not a registered component type", p.typ)
			}
			ps.write[idx] = true
			if p.optional {
				ps.optionalWrite[idx] = true
			}
		case permReadAll:
			ps.readAll = true
		case permWriteAll:
			ps.writeAll = true
		case permAddRemove:
			ps.addRemove = true
		default:
			return nil, fmt.Errorf("tecs: unknown permission kind %d", p.kind)
		}
	}
	return ps, nil
}

// CanRead reports whether idx may be read, either directly, via a write
// grant (write implies read), or via a blanket *All grant.
func (ps *PermissionSet) CanRead(idx int) bool {
	return ps.readAll || ps.writeAll || ps.read[idx] || ps.write[idx]
}

// CanWrite reports whether idx may be written.
func (ps *PermissionSet) CanWrite(idx int) bool {
	return ps.writeAll || ps.write[idx]
}

// IsOptionalRead reports whether idx's read grant (if any) was wrapped
// in Optional.
func (ps *PermissionSet) IsOptionalRead(idx int) bool {
	return idx < len(ps.optionalRead) && ps.optionalRead[idx]
}

// IsOptionalWrite reports whether idx's write grant (if any) was wrapped
// in Optional.
func (ps *PermissionSet) IsOptionalWrite(idx int) bool {
	return idx < len(ps.optionalWrite) && ps.optionalWrite[idx]
}

// HasAddRemove reports whether entities/components may be created,
// destroyed, added, or removed.
func (ps *PermissionSet) HasAddRemove() bool { return ps.addRemove }

// ReadAll reports whether every component type is readable.
func (ps *PermissionSet) ReadAll() bool { return ps.readAll }

// WriteAll reports whether every component type is writable.
func (ps *PermissionSet) WriteAll() bool { return ps.writeAll }

// IsSubsetOf reports whether every access ps grants is also granted by
// parent, for every currently registered component index. Used by
// TryNarrow to refuse narrowing into a wider permission set than the
// transaction it narrows from actually acquired (SPEC_FULL §4.1,
// I-subset).
func (ps *PermissionSet) IsSubsetOf(parent *PermissionSet, n int) bool {
	if ps.addRemove && !parent.addRemove {
		return false
	}
	if (ps.readAll || ps.writeAll) && !(parent.readAll || parent.writeAll) {
		if ps.readAll && !parent.readAll {
			return false
		}
		if ps.writeAll && !parent.writeAll {
			return false
		}
	}
	for i := 0; i < n; i++ {
		if ps.CanWrite(i) && !parent.CanWrite(i) {
			return false
		}
		if ps.CanRead(i) && !parent.CanRead(i) {
			return false
		}
	}
	return true
}
