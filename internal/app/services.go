package app

import (
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/gorm"

	"github.com/regardsoss/dataprovider/internal/data/aggregates"
	"github.com/regardsoss/dataprovider/internal/data/repos"
	"github.com/regardsoss/dataprovider/internal/jobs/pipeline/post_process"
	"github.com/regardsoss/dataprovider/internal/jobs/pipeline/product_acquisition"
	"github.com/regardsoss/dataprovider/internal/jobs/pipeline/sip_generation"
	"github.com/regardsoss/dataprovider/internal/jobs/pipeline/sip_submission"
	jobrt "github.com/regardsoss/dataprovider/internal/jobs/runtime"
	"github.com/regardsoss/dataprovider/internal/jobs/scheduler"
	"github.com/regardsoss/dataprovider/internal/jobs/worker"
	acquisitionmod "github.com/regardsoss/dataprovider/internal/modules/acquisition"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/chains"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/events"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/files"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/ingest"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/plugins"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/products"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/runner"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/sip"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
	"github.com/regardsoss/dataprovider/internal/realtime/bus"
	"github.com/regardsoss/dataprovider/internal/services"
	"github.com/regardsoss/dataprovider/internal/temporalx"
	"github.com/regardsoss/dataprovider/internal/temporalx/temporalworker"
)

type Services struct {
	Bus      bus.Bus
	Events   *events.Publisher
	Plugins  *plugins.Registry
	Notifier services.JobNotifier
	Jobs     services.JobService

	Chains     *chains.Service
	Files      *files.Registry
	Aggregator *products.Aggregator
	SIP        *sip.Service
	Runner     *runner.Runner

	JobRegistry    *jobrt.Registry
	JobWorker      *worker.Worker
	TemporalClient temporalsdkclient.Client
	TemporalWorker *temporalworker.Runner
	Scheduler      *scheduler.Scheduler
}

func wireBus(log *logger.Logger, cfg Config) (bus.Bus, error) {
	switch cfg.EventBus {
	case "redis":
		return bus.NewRedisBus(log)
	case "memory", "":
		return bus.NewMemoryBus(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown EVENT_BUS %q", cfg.EventBus)
	}
}

func wireSink(log *logger.Logger, cfg Config) (ingest.Sink, error) {
	switch cfg.IngestSink {
	case "memory":
		log.Warn("Using in-memory ingestion sink; SIPs are accepted without delivery")
		return ingest.NewMemorySink(), nil
	case "http", "":
		return ingest.NewHTTPSink(ingest.LoadHTTPConfig(), log)
	default:
		return nil, fmt.Errorf("unknown INGEST_SINK %q", cfg.IngestSink)
	}
}

func wireServices(theDB *gorm.DB, log *logger.Logger, cfg Config, reposet repos.Set) (Services, error) {
	log.Info("Wiring services...")
	var out Services

	b, err := wireBus(log, cfg)
	if err != nil {
		return out, fmt.Errorf("init event bus: %w", err)
	}
	out.Bus = b
	out.Events = events.NewPublisher(b, log)
	out.Plugins = plugins.NewDefaultRegistry()
	out.Notifier = services.NewJobNotifier(b, log)

	tcfg := temporalx.LoadConfig()
	tc, err := temporalx.NewClient(log, tcfg)
	if err != nil {
		return out, fmt.Errorf("init temporal client: %w", err)
	}
	out.TemporalClient = tc
	out.Jobs = services.NewJobService(theDB, log, reposet.Jobs, out.Notifier, tc, tcfg.TaskQueue)

	sink, err := wireSink(log, cfg)
	if err != nil {
		return out, fmt.Errorf("init ingestion sink: %w", err)
	}

	tx := aggregates.NewGormTxRunner(theDB)
	out.Chains = chains.NewService(tx, reposet, out.Plugins, log)
	out.Files = files.NewRegistry(reposet.Files, reposet.Chains, log)
	out.Aggregator = products.NewAggregator(tx, reposet.Products, reposet.Files, out.Events, log)
	out.SIP = sip.NewService(tx, reposet, out.Jobs, out.Plugins, sink, out.Events, sip.Config{
		BulkLimit:    cfg.BulkLimit,
		SessionOwner: cfg.SessionOwner,
	}, log)
	out.Runner = runner.New(tx, reposet, out.Jobs, out.Events, log)

	acq := acquisitionmod.New(acquisitionmod.UsecasesDeps{
		Log:         log,
		Files:       out.Files,
		Aggregator:  out.Aggregator,
		Plugins:     out.Plugins,
		Concurrency: cfg.ScanConcurrency,
		PageSize:    cfg.ScanPageSize,
	})

	out.JobRegistry = jobrt.NewRegistry()
	handlers := []jobrt.Handler{
		product_acquisition.New(log, reposet.Chains, acq, out.Runner, out.SIP, out.Events),
		sip_generation.New(log, out.SIP),
		sip_submission.New(log, out.SIP),
		post_process.New(log, out.SIP),
	}
	for _, h := range handlers {
		if err := out.JobRegistry.Register(h); err != nil {
			return out, fmt.Errorf("register %s pipeline: %w", h.Type(), err)
		}
	}

	if cfg.RunWorker {
		if tc != nil {
			out.TemporalWorker, err = temporalworker.NewRunner(log, tcfg, tc, theDB, reposet.Jobs, out.JobRegistry, out.Notifier)
			if err != nil {
				return out, fmt.Errorf("init temporal worker: %w", err)
			}
		} else {
			out.JobWorker = worker.NewWorker(theDB, log, reposet.Jobs, out.JobRegistry, out.Notifier, worker.LoadConfig())
		}
	}
	if cfg.RunScheduler {
		out.Scheduler = scheduler.New(log, out.Runner, out.SIP, scheduler.LoadConfig())
	}
	return out, nil
}
