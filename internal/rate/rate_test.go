package rate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantize(t *testing.T) {
	tests := []struct {
		requested float64
		want      float64
	}{
		{15, 10},
		{0.5, 0},
		{120, 120},
		{121, 120},
		{10, 10},
		{9.99, 1},
		{1, 1},
		{0, 0},
		{-4, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Quantize(tt.requested), "Quantize(%v)", tt.requested)
	}
}

func TestQuantizeNeverRoundsUp(t *testing.T) {
	for r := 0.0; r < 300; r += 0.25 {
		q := Quantize(r)
		assert.LessOrEqual(t, q, r)
		assert.Contains(t, ValidRates, q)
	}
}

func TestIndex(t *testing.T) {
	assert.Equal(t, 0, Index(500))
	assert.Equal(t, 1, Index(10))
	assert.Equal(t, 2, Index(3))
	assert.Equal(t, 3, Index(0))
}

func TestFromOutputBits(t *testing.T) {
	assert.Equal(t, 120.0, FromOutputBits(0b111))
	assert.Equal(t, 120.0, FromOutputBits(0b100))
	assert.Equal(t, 10.0, FromOutputBits(0b011))
	assert.Equal(t, 1.0, FromOutputBits(0b001))
	assert.Equal(t, 0.0, FromOutputBits(0b1000))
}

func TestLabels(t *testing.T) {
	assert.Equal(t, []string{"120 Hz", "10 Hz", "1 Hz", "0 Hz"}, Labels())
}
