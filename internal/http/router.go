package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/regardsoss/dataprovider/internal/http/handlers"
	httpMW "github.com/regardsoss/dataprovider/internal/http/middleware"
	"github.com/regardsoss/dataprovider/internal/observability"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	ServiceName    string
	AllowedOrigins []string
	AuthMiddleware *httpMW.AuthMiddleware

	HealthHandler  *httpH.HealthHandler
	ChainHandler   *httpH.ChainHandler
	ProductHandler *httpH.ProductHandler
	JobHandler     *httpH.JobHandler
	IngestHandler  *httpH.IngestHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		h := cfg.Metrics.Handler()
		r.GET("/metrics", func(c *gin.Context) { h.ServeHTTP(c.Writer, c.Request) })
	}

	api := r.Group("/api")

	// Ingestion callback sits outside admin auth.
	if cfg.IngestHandler != nil {
		api.POST("/ingest/events", cfg.IngestHandler.Events)
	}

	protected := api.Group("/")
	if cfg.AuthMiddleware != nil {
		protected.Use(cfg.AuthMiddleware.RequireAuth())
	}

	// Chains
	if h := cfg.ChainHandler; h != nil {
		protected.GET("/chains", h.List)
		protected.POST("/chains", h.Create)
		protected.GET("/chains/:id", h.Get)
		protected.PUT("/chains/:id", h.Update)
		protected.DELETE("/chains/:id", h.Delete)
		protected.PATCH("/chains/:id/active", h.SetActive)
		protected.POST("/chains/:id/start", h.Start)
		protected.POST("/chains/:id/stop", h.Stop)
		protected.POST("/chains/:id/relaunch", h.Relaunch)
		protected.POST("/chains/:id/files/retry", h.RetryFiles)
		protected.GET("/chains/:id/sessions", h.Sessions)
		protected.DELETE("/chains/:id/sessions/:session", h.DeleteSession)
	}

	// Products
	if cfg.ProductHandler != nil {
		protected.GET("/products/:name", cfg.ProductHandler.GetProduct)
	}

	// Job
	if cfg.JobHandler != nil {
		protected.GET("/jobs/:id", cfg.JobHandler.GetJob)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "route not found", "code": "not_found"}})
	})
	return r
}
