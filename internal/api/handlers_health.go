// handlers_health.go - Health check handlers
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version  string
	line     string
	started  time.Time
	bus      ChannelBus
	sessions SessionManager
	gateway  func() bool
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(deps *Dependencies) HealthHandler {
	return &HealthHandlerImpl{
		version:  deps.Version,
		line:     deps.DefaultLine,
		started:  time.Now(),
		bus:      deps.Bus,
		sessions: deps.Sessions,
		gateway:  deps.GatewayConnected,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
		"line":    h.line,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	}
	if h.bus != nil {
		resp["subscriptions"] = h.bus.SubscriptionCount()
	}
	if h.sessions != nil {
		resp["sessions"] = h.sessions.Count()
	}
	if h.gateway != nil {
		resp["gateway"] = h.gateway()
	}
	return c.JSON(http.StatusOK, resp)
}
