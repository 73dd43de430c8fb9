package bitmask

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToUnsigned32(t *testing.T) {
	assert.Equal(t, uint32(4294967295), ToUnsigned32(-1))
	assert.Equal(t, uint32(5), ToUnsigned32(5))
	assert.Equal(t, uint32(0), ToUnsigned32(0))
	assert.Equal(t, uint32(1<<31), ToUnsigned32(math.MinInt32))
	assert.Equal(t, uint32(math.MaxInt32), ToUnsigned32(math.MaxInt32))

	t.Run("idempotent on normalized values", func(t *testing.T) {
		for _, v := range []int64{-1, -2, math.MinInt32, 0, 7, math.MaxInt32} {
			once := ToUnsigned32(v)
			assert.Equal(t, once, ToUnsigned32(int64(once)))
		}
	})
}

func TestLength(t *testing.T) {
	assert.Equal(t, 0, Length(0))
	assert.Equal(t, 1, Length(0b1))
	assert.Equal(t, 3, Length(0b101))
	assert.Equal(t, 32, Length(ToUnsigned32(-1)))
}

func TestCount(t *testing.T) {
	assert.Equal(t, 0, Count(0))
	assert.Equal(t, 2, Count(0b101))
	// a negative channel value must be normalized before counting
	assert.Equal(t, 32, Count(ToUnsigned32(-1)))
}

func TestBitsRoundTrip(t *testing.T) {
	states := Bits(0b1011, 5)
	assert.Equal(t, []bool{true, true, false, true, false}, states)
	assert.Equal(t, uint32(0b1011), FromBits(states))

	assert.Len(t, Bits(1, 40), 32)
	assert.Empty(t, Bits(1, -3))
}

func TestFromMax(t *testing.T) {
	assert.Equal(t, uint32(0), FromMax(0))
	assert.Equal(t, uint32(0b111), FromMax(3))
	assert.Equal(t, ^uint32(0), FromMax(32))
	assert.Equal(t, 3, Length(FromMax(3)))
}

func TestIsSet(t *testing.T) {
	assert.True(t, IsSet(0b100, 2))
	assert.False(t, IsSet(0b100, 1))
	assert.False(t, IsSet(0b100, 40))
	assert.True(t, IsSet(ToUnsigned32(-1), 31))
}
