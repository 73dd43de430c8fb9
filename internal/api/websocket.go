package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/labstack/echo/v4"
	xrate "golang.org/x/time/rate"

	"github.com/pcdshub/pmps-ui/internal/channel"
	"github.com/pcdshub/pmps-ui/internal/display"
	"github.com/pcdshub/pmps-ui/internal/models"
)

// WebSocket message types
const (
	// Client -> Server messages
	MsgTypeAction = "action"
	MsgTypePing   = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeSnapshot  = "snapshot"
	MsgTypeAck       = "ack"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"

	// Gateway protocol, server -> gateway
	MsgTypeMonitor   = "monitor"
	MsgTypeUnmonitor = "unmonitor"
	MsgTypePut       = "put"

	// Gateway protocol, gateway -> server
	MsgTypeUpdate     = "update"
	MsgTypeConnection = "connection"
	MsgTypeSeverity   = "severity"
	MsgTypeEnums      = "enums"
)

// WSMessage is the envelope of every WebSocket message
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WSErrorResponse is the payload of an error message
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ChannelPayload is the payload of every gateway protocol message
type ChannelPayload struct {
	Name      string          `json:"name"`
	Value     any             `json:"value"`
	Connected *bool           `json:"connected,omitempty"`
	Severity  models.Severity `json:"severity,omitempty"`
	// Enums carries the state strings of enumerated channels.
	Enums []string `json:"enums,omitempty"`
}

func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 64 * 1024,
	}
}

func newMessage(typ, id string, payload any) WSMessage {
	return WSMessage{Type: typ, ID: id, Payload: mustJSON(payload), Timestamp: time.Now().UnixMilli()}
}

func mustJSON(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(msg WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) sendError(id, message, code string) error {
	return c.send(newMessage(MsgTypeError, id, WSErrorResponse{Message: message, Code: code}))
}

// ViewStreamHandler pushes display snapshots to a browser and accepts
// operator actions on the same socket.
type ViewStreamHandler struct {
	sessions   SessionManager
	upgrader   websocket.Upgrader
	pushRate   float64
	maxMessage int64
	log        hclog.Logger
}

// NewViewStreamHandler creates a stream handler. pushRate caps snapshots
// per second and connection.
func NewViewStreamHandler(sessions SessionManager, pushRate float64, maxMessage int64, logger hclog.Logger) *ViewStreamHandler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if pushRate <= 0 {
		pushRate = 10
	}
	return &ViewStreamHandler{
		sessions:   sessions,
		upgrader:   newUpgrader(),
		pushRate:   pushRate,
		maxMessage: maxMessage,
		log:        logger.Named("ws"),
	}
}

// HandleSessionStream streams ?display= of session :id. A snapshot is sent
// on connect and after changes, at most pushRate times a second.
func (h *ViewStreamHandler) HandleSessionStream(c echo.Context) error {
	id := c.Param("id")
	name := c.QueryParam("display")
	if name == "" {
		return NewValidationError("display")
	}
	d, err := h.sessions.Display(c.Request().Context(), id, name)
	if err != nil {
		return FromDomainError(err)
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	if h.maxMessage > 0 {
		ws.SetReadLimit(h.maxMessage)
	}
	conn := &wsConn{ws: ws}
	log := h.log.With("session", id, "display", name)
	log.Debug("client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := conn.send(newMessage(MsgTypeConnected, id, map[string]string{"display": name})); err != nil {
		return nil
	}

	pushDone := make(chan struct{})
	go func() {
		defer close(pushDone)
		h.push(ctx, conn, d.View(), log)
	}()

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("connection error", "error", err)
			}
			break
		}
		h.sessions.TouchSession(id)

		switch msg.Type {
		case MsgTypePing:
			err = conn.send(newMessage(MsgTypePong, msg.ID, nil))
		case MsgTypeAction:
			var a display.Action
			if jerr := json.Unmarshal(msg.Payload, &a); jerr != nil {
				err = conn.sendError(msg.ID, "Invalid action payload: "+jerr.Error(), "INVALID_PAYLOAD")
				break
			}
			if aerr := h.sessions.Act(ctx, id, name, a); aerr != nil {
				apiErr := FromDomainError(aerr)
				err = conn.sendError(msg.ID, apiErr.Message, apiErr.Code)
				break
			}
			err = conn.send(newMessage(MsgTypeAck, msg.ID, nil))
		default:
			err = conn.sendError(msg.ID, "Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
		if err != nil {
			break
		}
	}

	cancel()
	<-pushDone
	log.Debug("client disconnected")
	return nil
}

func (h *ViewStreamHandler) push(ctx context.Context, conn *wsConn, view *display.View, log hclog.Logger) {
	changed, stop := view.Watch()
	defer stop()
	limiter := xrate.NewLimiter(xrate.Limit(h.pushRate), 1)

	var sent uint64
	first := true
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		snap := view.Snapshot()
		if first || snap.Version != sent {
			if err := conn.send(newMessage(MsgTypeSnapshot, "", snap)); err != nil {
				log.Debug("snapshot push failed", "error", err)
				return
			}
			sent = snap.Version
			first = false
		}
		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
	}
}

// ErrGatewayOffline is returned by puts while no gateway client is
// connected.
var ErrGatewayOffline = fmt.Errorf("%w: gateway client offline", channel.ErrNoGateway)

// GatewayBridge is the bus gateway served over a WebSocket. An external
// Channel Access client connects to it, receives monitor, unmonitor and put
// requests, and reports value, connection, severity and enum string changes
// back.
type GatewayBridge struct {
	bus      *channel.Bus
	log      hclog.Logger
	upgrader websocket.Upgrader
	buffer   int

	mu        sync.Mutex
	out       chan WSMessage
	monitored map[string]struct{}
}

// NewGatewayBridge creates a bridge. buffer bounds the outbound queue of
// the connected client.
func NewGatewayBridge(bus *channel.Bus, buffer int, logger hclog.Logger) *GatewayBridge {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &GatewayBridge{
		bus:       bus,
		log:       logger.Named("gateway"),
		upgrader:  newUpgrader(),
		buffer:    buffer,
		monitored: make(map[string]struct{}),
	}
}

// Connected reports whether a gateway client is attached.
func (g *GatewayBridge) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.out != nil
}

// Monitor implements channel.Gateway.
func (g *GatewayBridge) Monitor(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.monitored[name] = struct{}{}
	g.enqueueLocked(newMessage(MsgTypeMonitor, "", ChannelPayload{Name: name}))
}

// Unmonitor implements channel.Gateway.
func (g *GatewayBridge) Unmonitor(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.monitored, name)
	g.enqueueLocked(newMessage(MsgTypeUnmonitor, "", ChannelPayload{Name: name}))
}

// Put implements channel.Gateway.
func (g *GatewayBridge) Put(name string, value any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.out == nil {
		return ErrGatewayOffline
	}
	if !g.enqueueLocked(newMessage(MsgTypePut, "", ChannelPayload{Name: name, Value: value})) {
		return errors.New("gateway outbound queue is full")
	}
	return nil
}

func (g *GatewayBridge) enqueueLocked(msg WSMessage) bool {
	if g.out == nil {
		return false
	}
	select {
	case g.out <- msg:
		return true
	default:
		g.log.Warn("outbound queue full, dropping message", "type", msg.Type)
		return false
	}
}

// Monitored returns the names currently monitored, sorted.
func (g *GatewayBridge) Monitored() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.monitored))
	for name := range g.monitored {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HandleGateway serves the gateway client. Only one client is accepted at
// a time.
func (g *GatewayBridge) HandleGateway(c echo.Context) error {
	out := make(chan WSMessage, g.buffer)
	g.mu.Lock()
	if g.out != nil {
		g.mu.Unlock()
		return &APIError{Status: http.StatusConflict, Code: "CONFLICT", Message: "a gateway client is already connected"}
	}
	g.out = out
	for name := range g.monitored {
		out <- newMessage(MsgTypeMonitor, "", ChannelPayload{Name: name})
		if len(out) == cap(out) {
			break
		}
	}
	g.mu.Unlock()

	ws, err := g.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		g.detach(out)
		return err
	}
	defer ws.Close()
	conn := &wsConn{ws: ws}
	g.log.Info("gateway client connected", "remote", c.RealIP())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range out {
			if err := conn.send(msg); err != nil {
				g.log.Warn("gateway write failed", "error", err)
				ws.Close()
				for range out {
				}
				return
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.Warn("gateway connection error", "error", err)
			}
			break
		}
		if err := g.handleInbound(data); err != nil {
			g.log.Warn("bad gateway message", "error", err)
		}
	}

	g.detach(out)
	<-done
	g.log.Info("gateway client disconnected")
	return nil
}

// detach forgets the client and marks every monitored channel
// disconnected.
func (g *GatewayBridge) detach(out chan WSMessage) {
	g.mu.Lock()
	if g.out == out {
		g.out = nil
		close(out)
	}
	names := make([]string, 0, len(g.monitored))
	for name := range g.monitored {
		names = append(names, name)
	}
	g.mu.Unlock()
	for _, name := range names {
		_ = g.bus.SetConnection(channel.CA(name), false)
	}
}

func (g *GatewayBridge) handleInbound(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var msg WSMessage
	if err := dec.Decode(&msg); err != nil {
		return err
	}
	var p ChannelPayload
	pdec := json.NewDecoder(bytes.NewReader(msg.Payload))
	pdec.UseNumber()
	if err := pdec.Decode(&p); err != nil {
		return fmt.Errorf("%s payload: %w", msg.Type, err)
	}
	if p.Name == "" {
		return fmt.Errorf("%s payload has no name", msg.Type)
	}
	addr := channel.CA(p.Name)

	switch msg.Type {
	case MsgTypeUpdate:
		if p.Enums != nil {
			if err := g.bus.SetEnums(addr, p.Enums); err != nil {
				return err
			}
		}
		return g.bus.Update(addr, normalizeValue(p.Value))
	case MsgTypeEnums:
		if p.Enums == nil {
			return fmt.Errorf("enums payload for %s has no strings", p.Name)
		}
		return g.bus.SetEnums(addr, p.Enums)
	case MsgTypeConnection:
		if p.Connected == nil {
			return fmt.Errorf("connection payload for %s has no state", p.Name)
		}
		return g.bus.SetConnection(addr, *p.Connected)
	case MsgTypeSeverity:
		return g.bus.SetSeverity(addr, p.Severity)
	case MsgTypePing:
		return nil
	}
	return fmt.Errorf("unknown message type %q", msg.Type)
}

// normalizeValue turns decoded JSON into the value types displays expect:
// integers as int64, other numbers as float64 and numeric arrays as
// []float64.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case []any:
		if fs, ok := models.ToFloat64s(x); ok {
			return fs
		}
		return x
	}
	return v
}
