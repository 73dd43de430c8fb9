package beamclass

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const row2Table = `+-------+--------------+--------+--------+--------+---------------+--------------+-------------------+-------------------------+---------------+
| Index | Display Name | ∆T (s) | dt (s) | Q (pC) | Rate max (Hz) | Current (nA) | Power @ 4 GeV (W) | Int. Energy @ 4 GeV (J) |     Notes     |
+-------+--------------+--------+--------+--------+---------------+--------------+-------------------+-------------------------+---------------+
|   2   |    BC1Hz     |   1    |   1    |  350   |       1       |     0.35     |        1.4        |           1.4           | 350 pC x 1 Hz |
+-------+--------------+--------+--------+--------+---------------+--------------+-------------------+-------------------------+---------------+`

func TestLoadVariants(t *testing.T) {
	for _, variant := range Variants() {
		t.Run(variant, func(t *testing.T) {
			table, err := Load(variant)
			require.NoError(t, err)
			assert.Equal(t, variant, table.Variant())
			require.Equal(t, Rows, table.Len())
			for i := 0; i < Rows; i++ {
				row, err := table.Row(i)
				require.NoError(t, err)
				assert.Equal(t, i, row.Index)
			}
		})
	}

	_, err := Load("v9")
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestVariantDifferences(t *testing.T) {
	v1, err := Load(VariantV1)
	require.NoError(t, err)
	v2 := Default()

	assert.Equal(t, "Spare", v1.Description(15))
	assert.Equal(t, "Unlimited", v2.Description(15))
	assert.Equal(t, "Diagnostic", v1.Description(4))
	assert.Equal(t, "BC120Hz", v2.Description(4))
}

func TestRowOutOfRange(t *testing.T) {
	table := Default()
	for _, index := range []int{-1, 16, 100} {
		_, err := table.Row(index)
		var oor *OutOfRangeError
		require.ErrorAs(t, err, &oor)
		assert.Equal(t, index, oor.Index)
		assert.Equal(t, InvalidName, table.Description(index))
	}
}

func TestLabelText(t *testing.T) {
	table := Default()
	assert.Equal(t, "13: Unlimited", table.LabelText("13"))
	assert.Equal(t, "0: Beam Off", table.LabelText("0"))
	assert.Equal(t, "20: Invalid", table.LabelText("20"))
	assert.Equal(t, "", table.LabelText(""))
	assert.Equal(t, "abc", table.LabelText("abc"))
}

func TestMaxFromBitmask(t *testing.T) {
	v2 := Default()
	assert.Equal(t, 0, v2.MaxFromBitmask(0))
	assert.Equal(t, 1, v2.MaxFromBitmask(0b1))
	assert.Equal(t, 3, v2.MaxFromBitmask(0b101))
	assert.Equal(t, 15, v2.MaxFromBitmask(0x7fff))
	assert.Equal(t, 15, v2.MaxFromBitmask(0xffffffff))

	t.Run("spare rows are skipped", func(t *testing.T) {
		v1, err := Load(VariantV1)
		require.NoError(t, err)
		assert.Equal(t, 13, v1.MaxFromBitmask(0x7fff))
		assert.Equal(t, 13, v1.MaxFromBitmask(1<<13))
		assert.Equal(t, 12, v1.MaxFromBitmask(1<<11))
	})
}

func TestPowers(t *testing.T) {
	powers := Default().Powers()
	require.Len(t, powers, Rows)
	assert.Equal(t, 0.0, powers[0])
	assert.Equal(t, 1.4, powers[2])
	assert.Equal(t, 120000.0, powers[12])
	assert.True(t, math.IsInf(powers[13], 1))
	for i := 1; i < len(powers); i++ {
		assert.LessOrEqual(t, powers[i-1], powers[i])
	}
}

func TestRowTooltip(t *testing.T) {
	table := Default()
	tip, err := table.RowTooltip(2)
	require.NoError(t, err)
	assert.Equal(t, "<pre>"+row2Table+"</pre>", tip)

	_, err = table.RowTooltip(16)
	assert.Error(t, err)
	assert.Empty(t, table.TooltipOrEmpty(16))
}

func TestBitmaskTooltip(t *testing.T) {
	table := Default()
	indices := func(rows []Row) []int {
		out := make([]int, len(rows))
		for i, r := range rows {
			out[i] = r.Index
		}
		return out
	}

	assert.Equal(t, []int{0}, indices(table.BitmaskRows(0)))
	assert.Equal(t, []int{0, 1, 2}, indices(table.BitmaskRows(0b11)))
	assert.Equal(t, []int{0, 2, 4}, indices(table.BitmaskRows(0b1010)))
	assert.Equal(t, []int{0, 15}, indices(table.BitmaskRows(1<<14|1<<20)))

	tip := table.BitmaskTooltip(0b11)
	assert.True(t, strings.HasPrefix(tip, "<pre>+"))
	assert.True(t, strings.HasSuffix(tip, "+</pre>"))
	assert.Contains(t, tip, "Kicker STBY")
	assert.Contains(t, tip, "BC1Hz")
	assert.NotContains(t, tip, "BC10Hz")
}

func TestRender(t *testing.T) {
	text := Default().Render()
	lines := strings.Split(text, "\n")
	require.Len(t, lines, Rows+4)
	for _, line := range lines {
		assert.Equal(t, len([]rune(lines[0])), len([]rune(line)))
	}
	assert.Contains(t, lines[1], "| Index | Display Name | ∆T (s) |")
}

func TestCenter(t *testing.T) {
	assert.Equal(t, "  ab ", center("ab", 5))
	assert.Equal(t, " abc  ", center("abc", 6))
	assert.Equal(t, " ab ", center("ab", 4))
	assert.Equal(t, "abcdef", center("abcdef", 3))
}

func TestHeaderTooltips(t *testing.T) {
	tips := HeaderTooltips()
	require.Len(t, tips, len(Header))
	assert.Equal(t, "dt (s) is the the minimum bunch spacing\n"+
		"(including non-periodic bunch patterns).\n"+
		"When included, this effectively limits\n"+
		"the rep rate of the beam for periodic\n"+
		"bunch patterns. When omitted, any rep\n"+
		"rate could be allowed if it passes the\n"+
		"integrated electron charge measurement.", tips[3])
	for _, tip := range tips {
		for _, line := range strings.Split(tip, "\n") {
			assert.LessOrEqual(t, len([]rune(line)), HeaderTooltipWidth)
		}
	}
}

func TestWrapHyphen(t *testing.T) {
	assert.Equal(t, "a human-\nreadable", Wrap("a human-readable", 10))
	assert.Equal(t, "abcd\nefgh\nij", Wrap("abcdefghij", 4))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	data, err := dataFS.ReadFile("data/v1.tsv")
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(dir, "table.tsv")
		require.NoError(t, os.WriteFile(path, data, 0644))
		table, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "Spare", table.Description(14))
	})

	t.Run("short table", func(t *testing.T) {
		path := filepath.Join(dir, "short.tsv")
		short := strings.Join(strings.Split(string(data), "\n")[:10], "\n")
		require.NoError(t, os.WriteFile(path, []byte(short), 0644))
		_, err := LoadFile(path)
		assert.ErrorContains(t, err, "expected 16 rows")
	})

	t.Run("out of order", func(t *testing.T) {
		_, err := Parse(strings.NewReader("1\tA\t-\t-\t-\t-\t-\t-\t-\t-\n"))
		assert.ErrorContains(t, err, "expected index 0")
	})

	t.Run("bad power", func(t *testing.T) {
		_, err := Parse(strings.NewReader("0\tA\t-\t-\t-\t-\t-\tlots\t-\t-\n"))
		assert.ErrorContains(t, err, "invalid power")
	})

	t.Run("missing", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(dir, "nope.tsv"))
		assert.Error(t, err)
	})
}
