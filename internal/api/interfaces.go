// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/pcdshub/pmps-ui/internal/display"
	"github.com/pcdshub/pmps-ui/internal/models"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// BeamClassHandler serves the beam-class table and its renderings
type BeamClassHandler interface {
	HandleListBeamClasses(c echo.Context) error
	HandleBeamClassText(c echo.Context) error
	HandleBeamClassPDF(c echo.Context) error
	HandleGetBeamClass(c echo.Context) error
	HandleBeamClassTooltip(c echo.Context) error
	HandleBeamClassBitmask(c echo.Context) error
}

// CalculatorHandler exposes the pure calculators
type CalculatorHandler interface {
	HandleQuantizeRate(c echo.Context) error
	HandleBitmask(c echo.Context) error
	HandleEVRangeTooltip(c echo.Context) error
	HandleJudgementMapping(c echo.Context) error
	HandleJudgementInverse(c echo.Context) error
}

// ChannelHandler reads and writes channels on the bus
type ChannelHandler interface {
	HandleGetChannels(c echo.Context) error
	HandlePutChannel(c echo.Context) error
	HandleChannelHistory(c echo.Context) error
}

// SessionHandler handles display session operations
type SessionHandler interface {
	HandleStartSession(c echo.Context) error
	HandleListSessions(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleDeleteSession(c echo.Context) error
	HandleSessionKeepAlive(c echo.Context) error
	HandleGetDisplay(c echo.Context) error
	HandleDisplayAction(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	StartSession(line string) (*models.DisplaySession, error)
	GetSession(id string) (*models.DisplaySession, bool)
	ListSessions() []*models.DisplaySession
	TouchSession(id string) bool
	CloseSession(id string) error
	Count() int
	Display(ctx context.Context, id, name string) (display.Display, error)
	Act(ctx context.Context, id, name string, a display.Action) error
}

// ChannelBus is the part of the channel bus the handlers use
type ChannelBus interface {
	Get(addr string) (models.ChannelValue, bool)
	Snapshot() []models.ChannelValue
	Put(addr string, value any) error
	Update(addr string, value any) error
	SubscriptionCount() int64
}
