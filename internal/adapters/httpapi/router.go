// Package httpapi exposes the document service over HTTP using gin.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"cellvault/docs/openapi"
	"cellvault/internal/core"
	"cellvault/internal/identity"
)

// DefaultMaxBodyBytes bounds request bodies when Options leaves it unset.
const DefaultMaxBodyBytes = 2 << 20

// Options configures the router.
type Options struct {
	Service        *core.Service
	Resolver       identity.Resolver
	Logger         *slog.Logger
	MetricsHandler http.Handler
	MaxBodyBytes   int64
	ServiceName    string
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "cellvault"
	}
	h := &handlers{svc: opts.Service}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(opts.ServiceName))
	router.Use(requestLogger(opts.Logger))
	router.Use(limitBody(opts.MaxBodyBytes))
	router.Use(AuthMiddleware(opts.Resolver))

	router.GET("/health", h.health)
	router.GET("/ping", h.ping)
	router.GET("/openapi.yaml", func(c *gin.Context) { c.Data(http.StatusOK, "application/yaml", openapi.YAML()) })
	if opts.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(opts.MetricsHandler))
	}

	excel := router.Group("/excel")
	{
		excel.GET("/public", h.publicURL)
		excel.GET("/download", h.download)
		excel.GET("/sheets", h.sheets)
		excel.GET("/get", h.cell)
		excel.GET("/preview", h.preview)
		excel.GET("/meta", h.metadata)
		excel.GET("/export/:format", h.export)
		excel.POST("/update", h.update)
		excel.GET("/audit", h.audit)
	}

	roles := router.Group("/roles")
	{
		roles.GET("/me", RequireAuthenticated(), h.me)
		roles.POST("/self-edit", RequireAdmin(), h.selfEdit)
		roles.GET("/guide", h.guide)
	}
	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("route", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("user", GetIdentity(c).UserID),
		)
	}
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
