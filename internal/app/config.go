package app

import (
	"strings"

	"github.com/regardsoss/dataprovider/internal/platform/envutil"
)

type Config struct {
	LogMode string

	HTTPAddr       string
	AllowedOrigins []string
	JWTSecret      string
	JWTIssuer      string

	// DBDriver is "postgres" or "sqlite".
	DBDriver  string
	SQLiteDSN string

	// ChainsDir holds YAML chain definitions. Empty disables loading and watching.
	ChainsDir string

	// Roles toggle the HTTP server, job execution and periodic triggers of this process.
	RunServer    bool
	RunWorker    bool
	RunScheduler bool

	// IngestSink is "http" or "memory".
	IngestSink   string
	BulkLimit    int
	SessionOwner string

	ScanConcurrency int
	ScanPageSize    int

	// EventBus is "redis", "memory" or "none".
	EventBus string

	ServiceName string
	Environment string
	Version     string
	MetricsAddr string
}

func LoadConfig() Config {
	return Config{
		LogMode: envutil.String("LOG_MODE", "development"),

		HTTPAddr:       envutil.String("HTTP_ADDR", ":8080"),
		AllowedOrigins: envutil.List("CORS_ALLOWED_ORIGINS"),
		JWTSecret:      envutil.String("JWT_SECRET_KEY", ""),
		JWTIssuer:      envutil.String("JWT_ISSUER", ""),

		DBDriver:  strings.ToLower(envutil.String("DB_DRIVER", "postgres")),
		SQLiteDSN: envutil.String("SQLITE_DSN", "file:dataprovider.db?_busy_timeout=5000"),

		ChainsDir: envutil.String("CHAINS_DIR", ""),

		RunServer:    envutil.Bool("RUN_SERVER", true),
		RunWorker:    envutil.Bool("RUN_WORKER", true),
		RunScheduler: envutil.Bool("RUN_SCHEDULER", true),

		IngestSink:   strings.ToLower(envutil.String("INGEST_SINK", "http")),
		BulkLimit:    envutil.Int("SIP_BULK_LIMIT", 10000),
		SessionOwner: envutil.String("INGEST_SESSION_OWNER", "dataprovider"),

		ScanConcurrency: envutil.Int("SCAN_CONCURRENCY", 4),
		ScanPageSize:    envutil.Int("SCAN_PAGE_SIZE", 500),

		EventBus: strings.ToLower(envutil.String("EVENT_BUS", "memory")),

		ServiceName: envutil.String("SERVICE_NAME", "dataprovider"),
		Environment: envutil.String("ENVIRONMENT", "development"),
		Version:     envutil.String("SERVICE_VERSION", "dev"),
		MetricsAddr: envutil.String("METRICS_ADDR", ""),
	}
}
