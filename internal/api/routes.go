// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pcdshub/pmps-ui/internal/beamclass"
	"github.com/pcdshub/pmps-ui/internal/observability"
	"github.com/pcdshub/pmps-ui/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Bus      ChannelBus
	Sessions SessionManager
	Table    *beamclass.Table
	Archive  storage.Archive
	Metrics  *observability.Collector
	Logger   hclog.Logger

	// Gateway is nil when the loopback gateway is in use.
	Gateway *GatewayBridge
	// GatewayConnected feeds the health report.
	GatewayConnected func() bool

	Version      string
	DefaultLine  string
	ViewPushRate float64
	// MaxMessageSize bounds inbound WebSocket messages in bytes.
	MaxMessageSize int64
}

// Handlers holds all handler instances
type Handlers struct {
	Health     HealthHandler
	BeamClass  BeamClassHandler
	Calculator CalculatorHandler
	Channels   ChannelHandler
	Sessions   SessionHandler
	Stream     *ViewStreamHandler
	Gateway    *GatewayBridge
	Metrics    *observability.Collector
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	table := deps.Table
	if table == nil {
		table = beamclass.Default()
	}
	return &Handlers{
		Health:     NewHealthHandler(deps),
		BeamClass:  NewBeamClassHandler(table),
		Calculator: NewCalculatorHandler(table),
		Channels:   NewChannelHandler(deps.Bus, deps.Archive),
		Sessions:   NewSessionHandler(deps.Sessions, deps.DefaultLine),
		Stream:     NewViewStreamHandler(deps.Sessions, deps.ViewPushRate, deps.MaxMessageSize, deps.Logger),
		Gateway:    deps.Gateway,
		Metrics:    deps.Metrics,
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Beam-class table
	bcGroup := apiGroup.Group("/beamclass")
	bcGroup.GET("", handlers.BeamClass.HandleListBeamClasses)
	bcGroup.GET("/table", handlers.BeamClass.HandleBeamClassText)
	bcGroup.GET("/table.pdf", handlers.BeamClass.HandleBeamClassPDF)
	bcGroup.GET("/bitmask/:mask", handlers.BeamClass.HandleBeamClassBitmask)
	bcGroup.GET("/:index", handlers.BeamClass.HandleGetBeamClass)
	bcGroup.GET("/:index/tooltip", handlers.BeamClass.HandleBeamClassTooltip)

	// Calculators
	apiGroup.GET("/rate/quantize", handlers.Calculator.HandleQuantizeRate)
	apiGroup.GET("/bitmask/:value", handlers.Calculator.HandleBitmask)
	apiGroup.POST("/evrange/tooltip", handlers.Calculator.HandleEVRangeTooltip)
	apiGroup.POST("/judgement/mapping", handlers.Calculator.HandleJudgementMapping)
	apiGroup.GET("/judgement/inverse", handlers.Calculator.HandleJudgementInverse)

	// Channels
	apiGroup.GET("/channels", handlers.Channels.HandleGetChannels)
	apiGroup.PUT("/channels", handlers.Channels.HandlePutChannel)
	apiGroup.GET("/channels/history", handlers.Channels.HandleChannelHistory)

	// Display sessions
	sessGroup := apiGroup.Group("/sessions")
	sessGroup.POST("", handlers.Sessions.HandleStartSession)
	sessGroup.GET("", handlers.Sessions.HandleListSessions)
	sessGroup.GET("/:id", handlers.Sessions.HandleGetSession)
	sessGroup.DELETE("/:id", handlers.Sessions.HandleDeleteSession)
	sessGroup.POST("/:id/keepalive", handlers.Sessions.HandleSessionKeepAlive)
	sessGroup.GET("/:id/displays/:name", handlers.Sessions.HandleGetDisplay)
	sessGroup.POST("/:id/displays/:name/actions", handlers.Sessions.HandleDisplayAction)

	RegisterWebSocketRoutes(e, handlers)

	if handlers.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(handlers.Metrics.Handler()))
	}
}

// RegisterWebSocketRoutes registers WebSocket routes
func RegisterWebSocketRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/ws/sessions/:id", handlers.Stream.HandleSessionStream)
	if handlers.Gateway != nil {
		e.GET("/api/ws/gateway", handlers.Gateway.HandleGateway)
	}
}

// MiddlewareConfig selects the optional middleware
type MiddlewareConfig struct {
	Logger         hclog.Logger
	Metrics        *observability.Collector
	RequestLogging bool
	RequestTimeout time.Duration
	BodyLimit      string
	Gzip           bool
	GzipLevel      int
	CORSOrigins    []string
}

func isStreaming(c echo.Context) bool {
	return strings.HasPrefix(c.Request().URL.Path, "/api/ws/")
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig) {
	e.HTTPErrorHandler = ErrorHandler

	if cfg.Metrics != nil {
		e.Use(cfg.Metrics.Middleware())
	}

	if cfg.RequestLogging && cfg.Logger != nil {
		log := cfg.Logger.Named("http")
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogMethod:  true,
			LogURI:     true,
			LogStatus:  true,
			LogLatency: true,
			LogError:   true,
			Skipper: func(c echo.Context) bool {
				return c.Request().URL.Path == "/api/health" || c.Request().URL.Path == "/metrics"
			},
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				args := []interface{}{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
				if v.Error != nil {
					log.Warn("request failed", append(args, "error", v.Error)...)
					return nil
				}
				log.Debug("request", args...)
				return nil
			},
		}))
	}

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 * 1024,
	}))

	if cfg.RequestTimeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout:      cfg.RequestTimeout,
			Skipper:      isStreaming,
			ErrorMessage: "Request timeout",
		}))
	}

	if cfg.Gzip {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level:   cfg.GzipLevel,
			Skipper: isStreaming,
		}))
	}

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	if len(cfg.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}
