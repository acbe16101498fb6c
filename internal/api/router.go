// Package api exposes the payment method saga over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yourorg/payment-flow/internal/monitor"
	"github.com/yourorg/payment-flow/internal/reporting"
	"github.com/yourorg/payment-flow/internal/saga"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Option customises the router.
type Option func(*Handler)

// WithHealthCheck adds a dependency probed by /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) { h.health[name] = check }
}

// Handler serves the payment method endpoints.
type Handler struct {
	saga      *saga.PaymentMethodSaga
	reporter  *reporting.RetrospectiveReporter
	create    *monitor.ContractMonitor
	operation *monitor.ContractMonitor
	health    map[string]HealthCheck
	log       zerolog.Logger
}

// NewRouter builds the gin engine. Request bodies are checked against the
// embedded JSON schemas before they reach the saga.
func NewRouter(s *saga.PaymentMethodSaga, logger zerolog.Logger, opts ...Option) *gin.Engine {
	h := &Handler{
		saga:      s,
		reporter:  reporting.NewRetrospectiveReporter(),
		create:    monitor.MustLoad(monitor.SchemaCreatePaymentMethod),
		operation: monitor.MustLoad(monitor.SchemaOperationRequest),
		health:    make(map[string]HealthCheck),
		log:       logger.With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}

	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware("payflow"), h.requestLogger())

	router.GET("/healthz", h.healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	methods := router.Group("/payment-methods")
	methods.POST("", h.createPaymentMethod)
	methods.GET("/:id", h.getPaymentMethod)
	methods.GET("/:id/report", h.getReport)
	methods.POST("/:id/operations/:operation", h.executeOperation)
	return router
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		evt := h.log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			evt = h.log.Error()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request served")
	}
}

func (h *Handler) healthz(c *gin.Context) {
	failures := gin.H{}
	for name, check := range h.health {
		if err := check(c.Request.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failures": failures})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
