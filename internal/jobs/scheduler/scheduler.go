package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/regardsoss/dataprovider/internal/modules/acquisition/runner"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/sip"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
	"github.com/regardsoss/dataprovider/internal/platform/envutil"
)

// ChainStarter starts AUTOMATIC chains whose period elapsed.
type ChainStarter interface {
	StartAutomaticChains(dbc dbctx.Context) ([]*runner.Started, error)
}

// SubmissionScheduler batches GENERATED products into submission jobs.
type SubmissionScheduler interface {
	ScheduleSubmission(dbc dbctx.Context) (sip.SubmissionReport, error)
}

type Config struct {
	ChainTick      time.Duration
	SubmissionTick time.Duration
}

func LoadConfig() Config {
	return Config{
		ChainTick:      envutil.Seconds("SCHEDULER_CHAIN_TICK_SECONDS", 10*time.Second),
		SubmissionTick: envutil.Seconds("SCHEDULER_SUBMISSION_TICK_SECONDS", 30*time.Second),
	}
}

// Scheduler runs the two periodic triggers of the pipeline. Each tick is independent; a failed
// tick is logged and retried on the next one.
type Scheduler struct {
	log    *logger.Logger
	chains ChainStarter
	sip    SubmissionScheduler
	cfg    Config
	wg     sync.WaitGroup
}

func New(baseLog *logger.Logger, chains ChainStarter, sipSvc SubmissionScheduler, cfg Config) *Scheduler {
	if cfg.ChainTick <= 0 {
		cfg.ChainTick = 10 * time.Second
	}
	if cfg.SubmissionTick <= 0 {
		cfg.SubmissionTick = 30 * time.Second
	}
	return &Scheduler{
		log:    baseLog.With("component", "Scheduler"),
		chains: chains,
		sip:    sipSvc,
		cfg:    cfg,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("Starting scheduler", "chain_tick", s.cfg.ChainTick, "submission_tick", s.cfg.SubmissionTick)
	s.loop(ctx, s.cfg.ChainTick, s.TriggerChains)
	s.loop(ctx, s.cfg.SubmissionTick, s.TriggerSubmission)
}

func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) loop(ctx context.Context, every time.Duration, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn(ctx)
			}
		}
	}()
}

func (s *Scheduler) TriggerChains(ctx context.Context) {
	started, err := s.chains.StartAutomaticChains(dbctx.Context{Ctx: ctx})
	if err != nil {
		s.log.Warn("automatic chain trigger failed", "error", err)
	}
	for _, st := range started {
		s.log.Info("automatic chain started", "chain", st.Chain.Label, "session", st.Session, "job_id", st.Job.ID)
	}
}

func (s *Scheduler) TriggerSubmission(ctx context.Context) {
	rep, err := s.sip.ScheduleSubmission(dbctx.Context{Ctx: ctx})
	if err != nil {
		s.log.Warn("submission scheduling failed", "error", err)
	}
	if len(rep.Jobs) > 0 || rep.Skipped > 0 {
		s.log.Debug("submission pass", "jobs", len(rep.Jobs), "products", rep.Products, "skipped", rep.Skipped)
	}
}
