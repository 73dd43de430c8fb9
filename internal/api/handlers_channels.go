// handlers_channels.go - Channel read, write and history handlers
package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pcdshub/pmps-ui/internal/channel"
	"github.com/pcdshub/pmps-ui/internal/models"
	"github.com/pcdshub/pmps-ui/internal/storage"
)

// Channel write modes.
const (
	// PutModePut writes through the gateway, the way a widget does.
	PutModePut = "put"
	// PutModePublish injects a value as if the gateway had reported it.
	PutModePublish = "publish"
)

// ChannelHandlerImpl implements the ChannelHandler interface
type ChannelHandlerImpl struct {
	bus     ChannelBus
	archive storage.Archive
}

// NewChannelHandler creates a new channel handler. archive may be nil.
func NewChannelHandler(bus ChannelBus, archive storage.Archive) ChannelHandler {
	return &ChannelHandlerImpl{bus: bus, archive: archive}
}

// HandleGetChannels returns the last known state of channels. With
// ?addr= it returns one channel, with ?prefix= the matching ones.
func (h *ChannelHandlerImpl) HandleGetChannels(c echo.Context) error {
	if addr := c.QueryParam("addr"); addr != "" {
		if _, err := channel.ParseAddress(addr); err != nil {
			return FromDomainError(err)
		}
		v, ok := h.bus.Get(addr)
		if !ok {
			return NewNotFoundError("channel", addr)
		}
		return c.JSON(http.StatusOK, v)
	}

	prefix := c.QueryParam("prefix")
	all := h.bus.Snapshot()
	out := make([]models.ChannelValue, 0, len(all))
	for _, v := range all {
		if strings.HasPrefix(v.Address, prefix) {
			out = append(out, v)
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"channels": out,
		"total":    len(out),
	})
}

// PutChannelRequest is the body of a channel write
type PutChannelRequest struct {
	Address string `json:"address"`
	Value   any    `json:"value"`
	Mode    string `json:"mode,omitempty"`
}

// HandlePutChannel writes a value to a channel
func (h *ChannelHandlerImpl) HandlePutChannel(c echo.Context) error {
	var req PutChannelRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("Invalid request body", err)
	}
	if req.Address == "" {
		return NewValidationError("address")
	}
	if req.Value == nil {
		return NewValidationError("value")
	}

	var err error
	switch req.Mode {
	case "", PutModePut:
		err = h.bus.Put(req.Address, req.Value)
	case PutModePublish:
		err = h.bus.Update(req.Address, req.Value)
	default:
		return NewValidationError("mode")
	}
	if err != nil {
		return FromDomainError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"address": req.Address,
		"value":   req.Value,
	})
}

// HandleChannelHistory returns archived updates of one channel. start and
// end are RFC 3339 timestamps.
func (h *ChannelHandlerImpl) HandleChannelHistory(c echo.Context) error {
	if h.archive == nil {
		return NewServiceUnavailableError("history archive is disabled")
	}
	addr := c.QueryParam("addr")
	if addr == "" {
		return NewValidationError("addr")
	}
	a, err := channel.ParseAddress(addr)
	if err != nil {
		return FromDomainError(err)
	}

	q := models.HistoryQuery{Address: a.Key()}
	if s := c.QueryParam("start"); s != "" {
		if q.Range.Start, err = time.Parse(time.RFC3339, s); err != nil {
			return NewValidationError("start")
		}
	}
	if s := c.QueryParam("end"); s != "" {
		if q.Range.End, err = time.Parse(time.RFC3339, s); err != nil {
			return NewValidationError("end")
		}
	}
	if s := c.QueryParam("limit"); s != "" {
		if q.Limit, err = strconv.Atoi(s); err != nil {
			return NewValidationError("limit")
		}
	}

	result, err := h.archive.Query(c.Request().Context(), q)
	if err != nil {
		return NewInternalError("history query failed", err)
	}
	return c.JSON(http.StatusOK, result)
}
