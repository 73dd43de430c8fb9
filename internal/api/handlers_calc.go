// handlers_calc.go - Stateless calculator handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/pcdshub/pmps-ui/internal/beamclass"
	"github.com/pcdshub/pmps-ui/internal/bitmask"
	"github.com/pcdshub/pmps-ui/internal/evrange"
	"github.com/pcdshub/pmps-ui/internal/judgement"
	"github.com/pcdshub/pmps-ui/internal/rate"
)

// CalculatorHandlerImpl implements the CalculatorHandler interface
type CalculatorHandlerImpl struct {
	table *beamclass.Table
}

// NewCalculatorHandler creates a new calculator handler
func NewCalculatorHandler(table *beamclass.Table) CalculatorHandler {
	return &CalculatorHandlerImpl{table: table}
}

func queryFloat(c echo.Context, name string, def float64) (float64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, NewValidationError(name)
	}
	return v, nil
}

// HandleQuantizeRate snaps ?rate= onto the valid rate list
func (h *CalculatorHandlerImpl) HandleQuantizeRate(c echo.Context) error {
	if c.QueryParam("rate") == "" {
		return NewValidationError("rate")
	}
	hz, err := queryFloat(c, "rate", 0)
	if err != nil {
		return err
	}
	q := rate.Quantize(hz)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"requested": hz,
		"quantized": q,
		"index":     rate.Index(hz),
		"label":     rate.Label(q),
	})
}

// HandleBitmask decomposes a signed channel value into bits. ?bits= sets
// how many bits are listed and defaults to 32.
func (h *CalculatorHandlerImpl) HandleBitmask(c echo.Context) error {
	raw, err := strconv.ParseInt(c.Param("value"), 0, 64)
	if err != nil {
		return NewBadRequestError("value must be an integer", err)
	}
	n := 32
	if s := c.QueryParam("bits"); s != "" {
		if n, err = strconv.Atoi(s); err != nil {
			return NewValidationError("bits")
		}
	}
	mask := bitmask.ToUnsigned32(raw)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"value":  mask,
		"length": bitmask.Length(mask),
		"count":  bitmask.Count(mask),
		"bits":   bitmask.Bits(mask, n),
	})
}

// EVRangeRequest is the body of an eV range tooltip request
type EVRangeRequest struct {
	Mask   int64     `json:"mask"`
	Bounds []float64 `json:"bounds"`
}

// HandleEVRangeTooltip renders the allowed photon energy ranges of a mask
func (h *CalculatorHandlerImpl) HandleEVRangeTooltip(c echo.Context) error {
	var req EVRangeRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("Invalid request body", err)
	}
	ranges := evrange.Ranges(req.Mask, req.Bounds)
	if ranges == nil {
		ranges = []evrange.Range{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ranges":  ranges,
		"tooltip": evrange.Tooltip(req.Mask, req.Bounds),
	})
}

// JudgementRequest is the body of a mapping request. Powers default to the
// loaded beam-class table.
type JudgementRequest struct {
	Powers       []float64 `json:"powers,omitempty"`
	Setting      float64   `json:"setting"`
	Transmission *float64  `json:"transmission,omitempty"`
	Active       bool      `json:"active"`
}

// HandleJudgementMapping computes the beam-class mapping of a judgement
// factor override
func (h *CalculatorHandlerImpl) HandleJudgementMapping(c echo.Context) error {
	var req JudgementRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("Invalid request body", err)
	}
	powers := req.Powers
	if len(powers) == 0 {
		powers = h.table.Powers()
	}
	transmission := 1.0
	if req.Transmission != nil {
		transmission = *req.Transmission
	}
	m := judgement.BuildMapping(powers, req.Setting, transmission, req.Active)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"factor":    judgement.EffectiveFactor(req.Setting, req.Active),
		"mapping":   m,
		"monotonic": m.Monotonic(),
	})
}

// HandleJudgementInverse returns the original class to request so the
// arbiter allows at most ?desired=
func (h *CalculatorHandlerImpl) HandleJudgementInverse(c echo.Context) error {
	desired, err := strconv.Atoi(c.QueryParam("desired"))
	if err != nil {
		return NewValidationError("desired")
	}
	setting, err := queryFloat(c, "setting", judgement.DefaultFactor)
	if err != nil {
		return err
	}
	transmission, err := queryFloat(c, "transmission", 1)
	if err != nil {
		return err
	}
	active, _ := strconv.ParseBool(c.QueryParam("active"))
	m := judgement.BuildMapping(h.table.Powers(), setting, transmission, active)
	goal := m.Inverse(desired)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"desired": desired,
		"goal":    goal,
		"label":   h.table.LabelText(strconv.Itoa(m.Lookup(goal))),
	})
}
