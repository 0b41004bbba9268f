package app

import (
	"gorm.io/gorm"

	dphttp "github.com/regardsoss/dataprovider/internal/http"
	httpH "github.com/regardsoss/dataprovider/internal/http/handlers"
	httpMW "github.com/regardsoss/dataprovider/internal/http/middleware"
	"github.com/regardsoss/dataprovider/internal/observability"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
)

type Handlers struct {
	Health  *httpH.HealthHandler
	Chain   *httpH.ChainHandler
	Product *httpH.ProductHandler
	Job     *httpH.JobHandler
	Ingest  *httpH.IngestHandler
}

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

func wireHandlers(log *logger.Logger, theDB *gorm.DB, svc Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:  httpH.NewHealthHandler(theDB),
		Chain:   httpH.NewChainHandler(svc.Chains, svc.Runner, svc.SIP, svc.Files),
		Product: httpH.NewProductHandler(svc.Aggregator),
		Job:     httpH.NewJobHandler(svc.Jobs),
		Ingest:  httpH.NewIngestHandler(svc.SIP),
	}
}

func wireMiddleware(log *logger.Logger, cfg Config) Middleware {
	log.Info("Wiring middleware...")
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET_KEY not set; admin API is unauthenticated")
		return Middleware{}
	}
	return Middleware{Auth: httpMW.NewAuthMiddleware(log, cfg.JWTSecret, cfg.JWTIssuer)}
}

func wireServer(log *logger.Logger, cfg Config, metrics *observability.Metrics, handlers Handlers, middleware Middleware) *dphttp.Server {
	return dphttp.NewServer(dphttp.RouterConfig{
		Log:            log,
		Metrics:        metrics,
		ServiceName:    cfg.ServiceName,
		AllowedOrigins: cfg.AllowedOrigins,
		AuthMiddleware: middleware.Auth,
		HealthHandler:  handlers.Health,
		ChainHandler:   handlers.Chain,
		ProductHandler: handlers.Product,
		JobHandler:     handlers.Job,
		IngestHandler:  handlers.Ingest,
	})
}
