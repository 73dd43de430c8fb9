// Package observability holds the Prometheus collectors of the service and
// the echo middleware that feeds them.
package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pcdshub/pmps-ui/internal/models"
)

// Collector bundles the service metrics.
type Collector struct {
	gatherer prometheus.Gatherer
	reg      prometheus.Registerer

	ChannelUpdates  *prometheus.CounterVec
	DisplaySessions prometheus.Gauge
	HTTPRequests    *prometheus.CounterVec
	HTTPDurations   *prometheus.HistogramVec
	ArchiveDropped  prometheus.Counter
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil. Registering twice against one registry returns the
// existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	updates, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pmps_channel_updates_total",
		Help: "Channel state changes dispatched by the bus, labeled by address scheme.",
	}, []string{"scheme"}), "pmps_channel_updates_total")
	if err != nil {
		return nil, err
	}

	sessions, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pmps_display_sessions",
		Help: "Current number of open display sessions.",
	}), "pmps_display_sessions")
	if err != nil {
		return nil, err
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pmps_http_requests_total",
		Help: "Handled HTTP requests, labeled by method, route and status code.",
	}, []string{"method", "route", "code"}), "pmps_http_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pmps_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
	}, []string{"method", "route"}), "pmps_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	dropped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pmps_archive_dropped_total",
		Help: "Channel updates dropped because the history archive fell behind.",
	}), "pmps_archive_dropped_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:        gatherer,
		reg:             reg,
		ChannelUpdates:  updates,
		DisplaySessions: sessions,
		HTTPRequests:    requests,
		HTTPDurations:   durations,
		ArchiveDropped:  dropped,
	}, nil
}

// ObserveSubscriptions exposes the live subscription count of the bus as
// pmps_channel_subscriptions.
func (c *Collector) ObserveSubscriptions(count func() int64) error {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pmps_channel_subscriptions",
		Help: "Current number of channel subscriptions held by displays.",
	}, func() float64 { return float64(count()) })
	if err := c.reg.Register(gauge); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// ObserveQueue exposes the bus backlog as pmps_channel_queue_depth.
func (c *Collector) ObserveQueue(pending func() int) error {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pmps_channel_queue_depth",
		Help: "Callbacks queued on the channel bus and not yet dispatched.",
	}, func() float64 { return float64(pending()) })
	if err := c.reg.Register(gauge); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// RecordChannel counts one channel state change. It has the shape of a bus
// tap.
func (c *Collector) RecordChannel(v models.ChannelValue) {
	if c == nil || c.ChannelUpdates == nil {
		return
	}
	scheme, _, found := strings.Cut(v.Address, "://")
	if !found {
		scheme = "unknown"
	}
	c.ChannelUpdates.WithLabelValues(scheme).Inc()
}

// SetSessions implements the session manager's metrics hook.
func (c *Collector) SetSessions(n int) {
	if c == nil || c.DisplaySessions == nil {
		return
	}
	c.DisplaySessions.Set(float64(n))
}

// ArchiveDrop implements the archive recorder's metrics hook.
func (c *Collector) ArchiveDrop() {
	if c == nil || c.ArchiveDropped == nil {
		return
	}
	c.ArchiveDropped.Inc()
}

// Middleware records request counts and durations. The route label is the
// registered path pattern, so ids do not explode the label space.
func (c *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)
			if err != nil {
				ctx.Error(err)
			}

			route := ctx.Path()
			if route == "" {
				route = "unmatched"
			}
			code := ctx.Response().Status
			if code == 0 {
				code = http.StatusOK
			}
			method := ctx.Request().Method
			c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
			c.HTTPDurations.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
