// handlers_beamclass.go - Beam-class table handlers
package api

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pcdshub/pmps-ui/internal/beamclass"
	"github.com/pcdshub/pmps-ui/internal/bitmask"
	"github.com/pcdshub/pmps-ui/internal/report"
)

// BeamClassHandlerImpl implements the BeamClassHandler interface
type BeamClassHandlerImpl struct {
	table *beamclass.Table
}

// NewBeamClassHandler creates a new beam-class handler
func NewBeamClassHandler(table *beamclass.Table) BeamClassHandler {
	return &BeamClassHandlerImpl{table: table}
}

type beamClassTableResponse struct {
	Variant        string          `json:"variant" msgpack:"variant"`
	Header         []string        `json:"header" msgpack:"header"`
	HeaderTooltips []string        `json:"headerTooltips" msgpack:"headerTooltips"`
	Rows           []beamclass.Row `json:"rows" msgpack:"rows"`
}

// HandleListBeamClasses returns every row of the table. ?format=msgpack
// returns MessagePack instead of JSON.
func (h *BeamClassHandlerImpl) HandleListBeamClasses(c echo.Context) error {
	resp := beamClassTableResponse{
		Variant:        h.table.Variant(),
		Header:         beamclass.Header,
		HeaderTooltips: beamclass.HeaderTooltips(),
		Rows:           h.table.Rows(),
	}
	if c.QueryParam("format") != "msgpack" {
		return c.JSON(http.StatusOK, resp)
	}
	data, err := msgpack.Marshal(resp)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleBeamClassText returns the table rendered as fixed-width text
func (h *BeamClassHandlerImpl) HandleBeamClassText(c echo.Context) error {
	return c.String(http.StatusOK, h.table.Render())
}

// HandleBeamClassPDF returns the printable table
func (h *BeamClassHandlerImpl) HandleBeamClassPDF(c echo.Context) error {
	var buf bytes.Buffer
	if err := report.BeamClassPDF(h.table, &buf); err != nil {
		return NewInternalError("failed to render PDF", err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `inline; filename="beamclass_table.pdf"`)
	return c.Blob(http.StatusOK, "application/pdf", buf.Bytes())
}

func (h *BeamClassHandlerImpl) index(c echo.Context) (int, error) {
	raw := c.Param("index")
	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, NewValidationError("index")
	}
	if _, err := h.table.Row(index); err != nil {
		return 0, FromDomainError(err)
	}
	return index, nil
}

// HandleGetBeamClass returns one row with its label text
func (h *BeamClassHandlerImpl) HandleGetBeamClass(c echo.Context) error {
	index, err := h.index(c)
	if err != nil {
		return err
	}
	row, _ := h.table.Row(index)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"row":   row,
		"label": h.table.LabelText(strconv.Itoa(index)),
	})
}

// HandleBeamClassTooltip returns the preformatted tooltip of one row
func (h *BeamClassHandlerImpl) HandleBeamClassTooltip(c echo.Context) error {
	index, err := h.index(c)
	if err != nil {
		return err
	}
	tip, err := h.table.RowTooltip(index)
	if err != nil {
		return FromDomainError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"tooltip": tip})
}

// HandleBeamClassBitmask decodes a beam-class range bitmask into the
// highest allowed class and the rows it allows.
func (h *BeamClassHandlerImpl) HandleBeamClassBitmask(c echo.Context) error {
	raw, err := strconv.ParseInt(c.Param("mask"), 0, 64)
	if err != nil {
		return NewBadRequestError("mask must be an integer", err)
	}
	mask := bitmask.ToUnsigned32(raw)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"mask":    mask,
		"max":     h.table.MaxFromBitmask(mask),
		"rows":    h.table.BitmaskRows(mask),
		"tooltip": h.table.BitmaskTooltip(mask),
	})
}
