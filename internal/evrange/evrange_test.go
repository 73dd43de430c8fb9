package evrange

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var bounds = []float64{100, 200, 1000, 1500, 2500}

func TestRanges(t *testing.T) {
	t.Run("single run from zero", func(t *testing.T) {
		assert.Equal(t, []Range{{0, 200}}, Ranges(0b00011, bounds))
	})

	t.Run("separate runs", func(t *testing.T) {
		assert.Equal(t, []Range{{0, 100}, {200, 1500}}, Ranges(0b01101, bounds))
	})

	t.Run("run open at the end", func(t *testing.T) {
		assert.Equal(t, []Range{{1000, 2500}}, Ranges(0b11000, bounds))
	})

	t.Run("bits past bounds ignored", func(t *testing.T) {
		assert.Empty(t, Ranges(1<<10, bounds))
	})

	t.Run("negative mask normalized", func(t *testing.T) {
		assert.Equal(t, []Range{{0, 2500}}, Ranges(-1, bounds))
	})
}

func TestTooltip(t *testing.T) {
	t.Run("not loaded", func(t *testing.T) {
		assert.Equal(t, NotLoaded, Tooltip(0b1, nil))
		assert.Equal(t, NotLoaded, Tooltip(0b1, []float64{}))
	})

	t.Run("nothing allowed", func(t *testing.T) {
		assert.Equal(t, "<pre>No eV range allowed.</pre>", Tooltip(0, bounds))
	})

	t.Run("aligned columns", func(t *testing.T) {
		want := "<pre>" +
			"Allow     0eV &lt; energy &lt;  100.0eV\n" +
			"Allow 200.0eV &lt; energy &lt; 1500.0eV" +
			"</pre>"
		assert.Equal(t, want, Tooltip(0b01101, bounds))
	})

	t.Run("fractional bounds", func(t *testing.T) {
		assert.Equal(t, "<pre>Allow 0eV &lt; energy &lt; 0.5eV</pre>", Tooltip(1, []float64{0.5}))
	})

	t.Run("whole bounds keep a decimal", func(t *testing.T) {
		assert.Equal(t, "<pre>Allow 1000.0eV &lt; energy &lt; 2500.0eV</pre>", Tooltip(0b11000, bounds))
		assert.Equal(t, "<pre>Allow 0eV &lt; energy &lt; 100.0eV</pre>", Tooltip(0b1, bounds))
	})
}
