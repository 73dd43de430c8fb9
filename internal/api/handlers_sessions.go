// handlers_sessions.go - Display session handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pcdshub/pmps-ui/internal/display"
)

// SessionHandlerImpl implements the SessionHandler interface
type SessionHandlerImpl struct {
	sessions    SessionManager
	defaultLine string
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions SessionManager, defaultLine string) SessionHandler {
	return &SessionHandlerImpl{sessions: sessions, defaultLine: defaultLine}
}

// StartSessionRequest is the body of a session start. Line defaults to the
// line the server was started with.
type StartSessionRequest struct {
	Line string `json:"line"`
}

// HandleStartSession opens a display session for a line
func (h *SessionHandlerImpl) HandleStartSession(c echo.Context) error {
	var req StartSessionRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return NewBadRequestError("Invalid request body", err)
		}
	}
	if req.Line == "" {
		req.Line = h.defaultLine
	}
	if req.Line == "" {
		return NewValidationError("line")
	}
	sess, err := h.sessions.StartSession(req.Line)
	if err != nil {
		return FromDomainError(err)
	}
	return c.JSON(http.StatusCreated, sess)
}

// HandleListSessions lists open sessions
func (h *SessionHandlerImpl) HandleListSessions(c echo.Context) error {
	sessions := h.sessions.ListSessions()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    len(sessions),
		"displays": display.Names(),
	})
}

// HandleGetSession returns one session
func (h *SessionHandlerImpl) HandleGetSession(c echo.Context) error {
	id := c.Param("id")
	sess, ok := h.sessions.GetSession(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, sess)
}

// HandleDeleteSession closes a session and its displays
func (h *SessionHandlerImpl) HandleDeleteSession(c echo.Context) error {
	if err := h.sessions.CloseSession(c.Param("id")); err != nil {
		return FromDomainError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleSessionKeepAlive refreshes the idle timer of a session
func (h *SessionHandlerImpl) HandleSessionKeepAlive(c echo.Context) error {
	id := c.Param("id")
	if !h.sessions.TouchSession(id) {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleGetDisplay opens the display on first use and returns a snapshot of
// its view. ?format=msgpack returns MessagePack instead of JSON.
func (h *SessionHandlerImpl) HandleGetDisplay(c echo.Context) error {
	d, err := h.sessions.Display(c.Request().Context(), c.Param("id"), c.Param("name"))
	if err != nil {
		return FromDomainError(err)
	}
	snap := d.View().Snapshot()
	if c.QueryParam("format") != "msgpack" {
		return c.JSON(http.StatusOK, snap)
	}
	data, err := msgpack.Marshal(snap)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleDisplayAction applies an operator action and returns the view as
// it stands afterwards.
func (h *SessionHandlerImpl) HandleDisplayAction(c echo.Context) error {
	var a display.Action
	if err := c.Bind(&a); err != nil {
		return NewBadRequestError("Invalid request body", err)
	}
	if a.Type == "" {
		return NewValidationError("type")
	}
	ctx := c.Request().Context()
	id, name := c.Param("id"), c.Param("name")
	if err := h.sessions.Act(ctx, id, name, a); err != nil {
		return FromDomainError(err)
	}
	d, err := h.sessions.Display(ctx, id, name)
	if err != nil {
		return FromDomainError(err)
	}
	return c.JSON(http.StatusOK, d.View().Snapshot())
}
