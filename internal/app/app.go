package app

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/regardsoss/dataprovider/internal/data/repos"
	dphttp "github.com/regardsoss/dataprovider/internal/http"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/chains"
	"github.com/regardsoss/dataprovider/internal/observability"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
	"github.com/regardsoss/dataprovider/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Server   *dphttp.Server
	Cfg      Config
	Repos    repos.Set
	Services Services
	Metrics  *observability.Metrics

	watcher      *chains.Watcher
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	return NewWithConfig(LoadConfig())
}

func NewWithConfig(cfg Config) (*App, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log.Info("Loaded configuration", "db_driver", cfg.DBDriver, "server", cfg.RunServer, "worker", cfg.RunWorker, "scheduler", cfg.RunScheduler)

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
	metrics := observability.Init(log)

	theDB, err := openDB(log, cfg)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}

	reposet := wireRepos(theDB, log)
	serviceset, err := wireServices(theDB, log, cfg, reposet)
	if err != nil {
		log.Sync()
		return nil, err
	}

	a := &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Repos:        reposet,
		Services:     serviceset,
		Metrics:      metrics,
		otelShutdown: otelShutdown,
	}
	if cfg.RunServer {
		a.Server = wireServer(log, cfg, metrics, wireHandlers(log, theDB, serviceset), wireMiddleware(log, cfg))
	}
	if cfg.ChainsDir != "" {
		a.watcher, err = chains.NewWatcher(cfg.ChainsDir, serviceset.Chains, log)
		if err != nil {
			log.Sync()
			return nil, fmt.Errorf("watch %s: %w", cfg.ChainsDir, err)
		}
	}
	return a, nil
}

// Start launches the background roles: chain definition watcher, job execution and periodic
// triggers. It does not block.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Metrics != nil && a.Cfg.MetricsAddr != "" {
		a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
	}
	if a.watcher != nil {
		a.watcher.Start(ctx)
	}
	if a.Services.TemporalWorker != nil {
		if err := a.Services.TemporalWorker.Start(ctx); err != nil {
			return fmt.Errorf("start temporal worker: %w", err)
		}
	}
	if a.Services.JobWorker != nil {
		a.Services.JobWorker.Start(ctx)
	}
	if a.Services.Scheduler != nil {
		a.Services.Scheduler.Start(ctx)
	}
	if a.Services.Bus != nil {
		if err := a.Services.Bus.StartForwarder(ctx, a.logEvent); err != nil {
			a.Log.Warn("event forwarder not started", "error", err)
		}
	}
	return nil
}

func (a *App) logEvent(m realtime.Message) {
	a.Log.Debug("event", "channel", m.Channel, "event", m.Event)
}

// Run serves the admin API until Close.
func (a *App) Run() error {
	if a == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Server == nil {
		return fmt.Errorf("http server disabled (RUN_SERVER=false)")
	}
	a.Log.Info("Serving admin API", "addr", a.Cfg.HTTPAddr)
	return a.Server.Run(a.Cfg.HTTPAddr)
}

// RecoverRunningChains releases chains left locked by a previous process whose job is terminal.
func (a *App) RecoverRunningChains(ctx context.Context) error {
	list, err := a.Repos.Chains.List(dbctx.Context{Ctx: ctx})
	if err != nil {
		return err
	}
	for _, c := range list {
		if !c.Running || c.LastJobID == nil {
			continue
		}
		job, err := a.Services.Jobs.Get(dbctx.Context{Ctx: ctx}, *c.LastJobID)
		if err != nil || job.Terminal() {
			if rerr := a.Services.Runner.Release(dbctx.Context{Ctx: ctx}, c.ID, *c.LastJobID); rerr != nil {
				return rerr
			}
			a.Log.Warn("released stale chain lock", "chain", c.Label, "job_id", *c.LastJobID)
		}
	}
	return nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Log.Warn("http shutdown", "error", err)
		}
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.JobWorker != nil {
		a.Services.JobWorker.Wait()
	}
	if a.Services.Scheduler != nil {
		a.Services.Scheduler.Wait()
	}
	if a.Services.TemporalClient != nil {
		a.Services.TemporalClient.Close()
	}
	if a.Services.Bus != nil {
		_ = a.Services.Bus.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(ctx)
	}
	a.Log.Sync()
}
