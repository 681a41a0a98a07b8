package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvalidEntityString(t *testing.T) {
	assert.Equal(t, "Entity(invalid)", Invalid.String())
	assert.False(t, Invalid.IsValid())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	gen := Encode(42, 7)
	e := Entity{Index: 3, Generation: gen}

	assert.True(t, e.IsValid())
	assert.Equal(t, uint32(42), e.Counter())
	assert.Equal(t, uint8(7), e.ECSIdentifier())
	assert.Equal(t, "Entity(ecs 7, gen 42, index 3)", e.String())
}

func TestEqualAndLess(t *testing.T) {
	a := Entity{Index: 1, Generation: Encode(1, 1)}
	b := Entity{Index: 1, Generation: Encode(1, 1)}
	c := Entity{Index: 1, Generation: Encode(2, 1)}
	d := Entity{Index: 2, Generation: Encode(1, 1)}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, a.Less(c))
	assert.True(t, a.Less(d))
	assert.False(t, d.Less(a))
}

func TestNextIDSkipsZero(t *testing.T) {
	seen := make(map[uint8]bool)
	for i := 0; i < 512; i++ {
		id := NextID()
		assert.NotZero(t, id)
		seen[id] = true
	}
	assert.True(t, len(seen) > 1)
}
