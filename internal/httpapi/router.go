package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// RouterOptions задаёт зависимости маршрутизатора.
type RouterOptions struct {
	Idempotency    domain.IdempotencyRepository
	IdempotencyTTL time.Duration
	Logger         *log.Entry

	// ServiceName включает otelgin-трассировку запросов, если не пуст.
	ServiceName string
	// TracerProvider по умолчанию берётся из otel.GetTracerProvider.
	TracerProvider trace.TracerProvider
}

// NewRouter собирает gin.Engine с маршрутами API продаж.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}

	router := gin.New()
	router.Use(gin.Recovery(), accessLog(logger))
	if opts.ServiceName != "" {
		var tracing []otelgin.Option
		if opts.TracerProvider != nil {
			tracing = append(tracing, otelgin.WithTracerProvider(opts.TracerProvider))
		}
		router.Use(otelgin.Middleware(opts.ServiceName, tracing...))
	}

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	api := router.Group("/api")
	api.POST("/sales", Idempotency(opts.Idempotency, opts.IdempotencyTTL, logger), h.RegisterSale)
	api.GET("/sales/history", h.SalesHistory)
	api.GET("/sales/report", h.SalesReport)
	api.GET("/dashboard/summary", h.DashboardSummary)
	api.GET("/products/:id", h.GetProduct)
	api.GET("/products/:id/movements", h.ProductMovements)

	return router
}

// accessLog пишет одну строку logrus на каждый запрос. otelgin подменяет
// c.Request ниже по цепочке, поэтому trace_id читается после c.Next().
func accessLog(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		entry := logger.WithFields(log.Fields{
			"method":      c.Request.Method,
			"route":       route,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		})
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			entry = entry.WithField("trace_id", sc.TraceID().String())
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("http request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("http request rejected")
		default:
			entry.Debug("http request served")
		}
	}
}
