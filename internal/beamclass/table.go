// Package beamclass owns the versioned 16-row beam-class table and the
// index and bitmask queries built on it.
package beamclass

import (
	"bufio"
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pcdshub/pmps-ui/internal/bitmask"
)

//go:embed data/*.tsv
var dataFS embed.FS

// Rows is the number of beam classes in every table revision.
const Rows = 16

// NotApplicable marks a column that does not apply to a row.
const NotApplicable = "-"

// Spare is the display name of reserved rows.
const Spare = "Spare"

// InvalidName is the description used for indices outside the table.
const InvalidName = "Invalid"

// Table variants shipped with the binary.
const (
	VariantV1      = "v1"
	VariantV2      = "v2"
	DefaultVariant = VariantV2
)

// Header is the column header shared by every rendering of the table.
var Header = []string{
	"Index",
	"Display Name",
	"∆T (s)",
	"dt (s)",
	"Q (pC)",
	"Rate max (Hz)",
	"Current (nA)",
	"Power @ 4 GeV (W)",
	"Int. Energy @ 4 GeV (J)",
	"Notes",
}

// ErrUnknownVariant is returned by Load for a variant that is not embedded.
var ErrUnknownVariant = errors.New("unknown beam-class table variant")

// OutOfRangeError reports a lookup outside the table.
type OutOfRangeError struct {
	Index int
	Len   int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("beam class %d out of range [0, %d)", e.Index, e.Len)
}

// Row is one beam class. Numeric columns keep their source text so the
// renderings match the published table exactly.
type Row struct {
	Index                int    `json:"index" msgpack:"index"`
	DisplayName          string `json:"displayName" msgpack:"displayName"`
	IntegrationWindowS   string `json:"integrationWindowS" msgpack:"integrationWindowS"`
	MinBunchSpacingS     string `json:"minBunchSpacingS" msgpack:"minBunchSpacingS"`
	MaxChargePC          string `json:"maxChargePc" msgpack:"maxChargePc"`
	MaxRateHz            string `json:"maxRateHz" msgpack:"maxRateHz"`
	MaxCurrentNA         string `json:"maxCurrentNa" msgpack:"maxCurrentNa"`
	MaxPowerW            string `json:"maxPowerW" msgpack:"maxPowerW"`
	MaxIntegratedEnergyJ string `json:"maxIntegratedEnergyJ" msgpack:"maxIntegratedEnergyJ"`
	Notes                string `json:"notes" msgpack:"notes"`
}

// Cells returns the row in Header order.
func (r Row) Cells() []string {
	return []string{
		strconv.Itoa(r.Index),
		r.DisplayName,
		r.IntegrationWindowS,
		r.MinBunchSpacingS,
		r.MaxChargePC,
		r.MaxRateHz,
		r.MaxCurrentNA,
		r.MaxPowerW,
		r.MaxIntegratedEnergyJ,
		r.Notes,
	}
}

// IsSpare reports whether the row is a reserved placeholder.
func (r Row) IsSpare() bool {
	return r.DisplayName == Spare
}

// Power returns the power limit in watts. Rows without a limit are
// unlimited and report +Inf.
func (r Row) Power() float64 {
	p, err := strconv.ParseFloat(r.MaxPowerW, 64)
	if err != nil {
		return math.Inf(1)
	}
	return p
}

// Table is an immutable beam-class table revision.
type Table struct {
	variant string
	rows    []Row
}

// Default returns the current embedded revision.
func Default() *Table {
	t, err := Load(DefaultVariant)
	if err != nil {
		panic(err)
	}
	return t
}

// Variants lists the embedded revisions.
func Variants() []string {
	return []string{VariantV1, VariantV2}
}

// Load returns an embedded table revision by name.
func Load(variant string) (*Table, error) {
	if variant == "" {
		variant = DefaultVariant
	}
	data, err := dataFS.ReadFile("data/" + variant + ".tsv")
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
	t, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("embedded table %s: %w", variant, err)
	}
	t.variant = variant
	return t, nil
}

// LoadFile reads a table revision from a tab separated file.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open beam-class table: %w", err)
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.variant = path
	return t, nil
}

// Parse reads tab separated rows. Blank lines and lines starting with '#'
// are skipped. The result must hold exactly Rows rows indexed 0..15 in
// order.
func Parse(r io.Reader) (*Table, error) {
	var rows []Row
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != len(Header) {
			return nil, fmt.Errorf("line %d: expected %d columns, got %d", lineNo, len(Header), len(fields))
		}
		index, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid index %q", lineNo, fields[0])
		}
		if index != len(rows) {
			return nil, fmt.Errorf("line %d: expected index %d, got %d", lineNo, len(rows), index)
		}
		power := strings.TrimSpace(fields[7])
		if power != NotApplicable {
			if _, err := strconv.ParseFloat(power, 64); err != nil {
				return nil, fmt.Errorf("line %d: invalid power %q", lineNo, fields[7])
			}
		}
		rows = append(rows, Row{
			Index:                index,
			DisplayName:          fields[1],
			IntegrationWindowS:   fields[2],
			MinBunchSpacingS:     fields[3],
			MaxChargePC:          fields[4],
			MaxRateHz:            fields[5],
			MaxCurrentNA:         fields[6],
			MaxPowerW:            power,
			MaxIntegratedEnergyJ: fields[8],
			Notes:                fields[9],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read beam-class table: %w", err)
	}
	if len(rows) != Rows {
		return nil, fmt.Errorf("expected %d rows, got %d", Rows, len(rows))
	}
	return &Table{rows: rows}, nil
}

// Variant names the revision the table was loaded from.
func (t *Table) Variant() string {
	return t.variant
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Rows returns a copy of all rows in index order.
func (t *Table) Rows() []Row {
	out := make([]Row, len(t.rows))
	copy(out, t.rows)
	return out
}

// Row returns the row at index, or an *OutOfRangeError.
func (t *Table) Row(index int) (Row, error) {
	if index < 0 || index >= len(t.rows) {
		return Row{}, &OutOfRangeError{Index: index, Len: len(t.rows)}
	}
	return t.rows[index], nil
}

// Description returns the display name at index, or InvalidName.
func (t *Table) Description(index int) string {
	row, err := t.Row(index)
	if err != nil {
		return InvalidName
	}
	return row.DisplayName
}

// LabelText appends the description to a label showing a bare beam class
// number, so "13" reads "13: Unlimited". Anything that is not an integer
// is returned unchanged.
func (t *Table) LabelText(text string) string {
	index, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return text
	}
	return fmt.Sprintf("%s: %s", text, t.Description(index))
}

// ComboItems returns the "N: name" entries of the beam-class selector.
func (t *Table) ComboItems() []string {
	items := make([]string, len(t.rows))
	for i, row := range t.rows {
		items[i] = fmt.Sprintf("%d: %s", i, row.DisplayName)
	}
	return items
}

// MaxFromBitmask returns the highest beam class allowed by a beam-class
// range bitmask. Bit i allows class i+1, so the answer is the bit length
// of mask. Spare rows are skipped on the way down and the result never
// exceeds the last row.
func (t *Table) MaxFromBitmask(mask uint32) int {
	maxBC := bitmask.Length(mask)
	if maxBC >= len(t.rows) {
		maxBC = len(t.rows) - 1
	}
	for maxBC > 0 && t.rows[maxBC].IsSpare() {
		maxBC--
	}
	return maxBC
}

// Powers returns the power column indexed by beam class.
func (t *Table) Powers() []float64 {
	out := make([]float64, len(t.rows))
	for i, row := range t.rows {
		out[i] = row.Power()
	}
	return out
}

// Render returns the full table as text.
func (t *Table) Render() string {
	return render(Header, t.cells(t.rows...))
}

// RowTooltip returns the header and a single row as a rich-text tooltip.
func (t *Table) RowTooltip(index int) (string, error) {
	row, err := t.Row(index)
	if err != nil {
		return "", err
	}
	return preformatted(render(Header, t.cells(row))), nil
}

// TooltipOrEmpty is RowTooltip for label callbacks, where an unknown
// class clears the tooltip.
func (t *Table) TooltipOrEmpty(index int) string {
	tip, err := t.RowTooltip(index)
	if err != nil {
		return ""
	}
	return tip
}

// BitmaskRows returns row 0 followed by row i+1 for every set bit i.
// Bits addressing rows beyond the table are ignored.
func (t *Table) BitmaskRows(mask uint32) []Row {
	out := []Row{t.rows[0]}
	for bit := 0; bit < 32; bit++ {
		index := bit + 1
		if index >= len(t.rows) {
			break
		}
		if bitmask.IsSet(mask, bit) {
			out = append(out, t.rows[index])
		}
	}
	return out
}

// BitmaskTooltip renders BitmaskRows as a rich-text tooltip.
func (t *Table) BitmaskTooltip(mask uint32) string {
	return preformatted(render(Header, t.cells(t.BitmaskRows(mask)...)))
}

func (t *Table) cells(rows ...Row) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = row.Cells()
	}
	return out
}

func preformatted(text string) string {
	return "<pre>" + text + "</pre>"
}
