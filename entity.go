package tecs

import "github.com/hexlayer/tecs/internal/entity"

// Entity is an opaque (index, generation) identity for a slot in an ECS
// instance (SPEC_FULL §3). The zero value, InvalidEntity, never refers to
// a live slot.
type Entity = entity.Entity

// InvalidEntity is the zero-value handle; Entity.IsValid reports false
// for it.
var InvalidEntity = entity.Invalid
