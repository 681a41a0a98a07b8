package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitsetSetGet(t *testing.T) {
	b := NewBitset(70) // spans two words
	assert.False(t, b.Get(0))
	assert.False(t, b.Get(69))

	b.Set(0, true)
	b.Set(69, true)
	assert.True(t, b.Get(0))
	assert.True(t, b.Get(69))
	assert.False(t, b.Get(1))

	b.Set(0, false)
	assert.False(t, b.Get(0))
}

func TestBitsetCloneIsIndependent(t *testing.T) {
	b := NewBitset(8)
	b.Set(3, true)

	c := b.Clone()
	c.Set(3, false)

	assert.True(t, b.Get(3))
	assert.False(t, c.Get(3))
}

func TestBitsetCopyFrom(t *testing.T) {
	src := NewBitset(8)
	src.Set(5, true)

	dst := NewBitset(8)
	dst.CopyFrom(src)

	assert.True(t, dst.Get(5))
}

func TestBitsetOutOfRangeIsSafe(t *testing.T) {
	b := NewBitset(8)
	assert.False(t, b.Get(1000))
	b.Set(1000, true) // must not panic
}
