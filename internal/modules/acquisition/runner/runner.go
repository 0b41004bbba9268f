package runner

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/regardsoss/dataprovider/internal/data/aggregates"
	"github.com/regardsoss/dataprovider/internal/data/repos"
	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	jobtypes "github.com/regardsoss/dataprovider/internal/domain/jobs"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/events"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	apperr "github.com/regardsoss/dataprovider/internal/pkg/errors"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
	"github.com/regardsoss/dataprovider/internal/services"
)

const sessionTimeLayout = "20060102T150405Z"

// Runner owns the IDLE/RUNNING lifecycle of chains. A start takes the chain lock and creates the
// acquisition job in one transaction, so two concurrent starts cannot both succeed.
type Runner struct {
	tx     aggregates.TxRunner
	chains repos.ChainRepo
	jobs   services.JobService
	events *events.Publisher
	log    *logger.Logger
	now    func() time.Time
}

func New(tx aggregates.TxRunner, set repos.Set, jobs services.JobService, pub *events.Publisher, baseLog *logger.Logger) *Runner {
	return &Runner{
		tx:     tx,
		chains: set.Chains,
		jobs:   jobs,
		events: pub,
		log:    baseLog.With("service", "ChainRunner"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type Started struct {
	Chain   *types.Chain     `json:"chain"`
	Session string           `json:"session"`
	Job     *jobtypes.JobRun `json:"job"`
}

// DefaultSession names a session after the chain and the start instant: <label>-<UTC timestamp>.
// The label is shortened so the name fits the session column.
func DefaultSession(label string, at time.Time) string {
	ts := at.UTC().Format(sessionTimeLayout)
	room := types.MaxSessionLength - len(ts) - 1
	return types.Truncate(label, room) + "-" + ts
}

// StartManualChain starts a MANUAL chain on request. An empty session gets a generated name.
func (r *Runner) StartManualChain(dbc dbctx.Context, chainID uuid.UUID, session string) (*Started, error) {
	chain, err := r.chains.GetByID(dbc, chainID)
	if err != nil {
		return nil, err
	}
	if chain.Mode != types.ModeManual {
		return nil, fmt.Errorf("chain %q is %s and cannot be started manually: %w", chain.Label, chain.Mode, apperr.ErrNotEligible)
	}
	session = strings.TrimSpace(session)
	if len(session) > types.MaxSessionLength {
		return nil, fmt.Errorf("%w: session longer than %d characters", apperr.ErrInvalidArgument, types.MaxSessionLength)
	}
	return r.start(dbc, chain, session)
}

// StartAutomaticChains starts every AUTOMATIC chain whose period elapsed. Chains that another
// scheduler started first are skipped.
func (r *Runner) StartAutomaticChains(dbc dbctx.Context) ([]*Started, error) {
	chains, err := r.chains.ListAutomatic(dbc)
	if err != nil {
		return nil, err
	}
	now := r.now()
	var out []*Started
	var errs []error
	for _, c := range chains {
		if !c.Due(now) {
			continue
		}
		st, err := r.start(dbc, c, "")
		if err != nil {
			if errors.Is(err, apperr.ErrChainRunning) || errors.Is(err, apperr.ErrNotEligible) {
				continue
			}
			r.log.Warn("automatic start failed", "chain", c.Label, "error", err)
			errs = append(errs, fmt.Errorf("chain %q: %w", c.Label, err))
			continue
		}
		out = append(out, st)
	}
	return out, errors.Join(errs...)
}

func (r *Runner) start(dbc dbctx.Context, chain *types.Chain, session string) (*Started, error) {
	now := r.now()
	if session == "" {
		session = DefaultSession(chain.Label, now)
	}
	var job *jobtypes.JobRun
	err := r.tx.InTx(dbc, func(dbc dbctx.Context) error {
		var err error
		job, err = r.jobs.Enqueue(dbc, jobtypes.TypeProductAcquisition, jobtypes.EntityChain, &chain.ID, map[string]any{
			"chain_id": chain.ID.String(),
			"session":  session,
		})
		if err != nil {
			return err
		}
		locked, err := r.chains.TryLock(dbc, chain.ID, job.ID, now)
		if err != nil {
			return err
		}
		if locked {
			return nil
		}
		running, err := r.chains.IsRunning(dbc, chain.ID)
		if err != nil {
			return err
		}
		if running {
			return fmt.Errorf("chain %q: %w", chain.Label, apperr.ErrChainRunning)
		}
		return fmt.Errorf("chain %q is inactive: %w", chain.Label, apperr.ErrNotEligible)
	})
	if err != nil {
		return nil, err
	}
	chain.Running = true
	chain.LastActivationDate = &now
	chain.LastJobID = &job.ID

	if dbc.Tx == nil {
		if err := r.jobs.Dispatch(dbctx.Context{Ctx: dbc.Ctx}, job.ID); err != nil {
			// The job was marked failed; the pipeline never runs so the lock is ours to release.
			_ = r.Release(dbctx.Context{Ctx: dbc.Ctx}, chain.ID, job.ID)
			return nil, err
		}
	}
	r.log.Info("chain started", "chain", chain.Label, "session", session, "job_id", job.ID)
	r.events.ChainStarted(dbc.Context(), chain, session, job.ID)
	return &Started{Chain: chain, Session: session, Job: job}, nil
}

// StopChain clears the running flag and cancels the acquisition job if no worker claimed it yet.
// A job already running notices the stop between steps. Stopping an idle chain is a no-op.
func (r *Runner) StopChain(dbc dbctx.Context, chainID uuid.UUID) (bool, error) {
	chain, err := r.chains.GetByID(dbc, chainID)
	if err != nil {
		return false, err
	}
	if !chain.Running {
		return false, nil
	}
	stopped := false
	err = r.tx.InTx(dbc, func(dbc dbctx.Context) error {
		ok, err := r.chains.Unlock(dbc, chain.ID, nil)
		if err != nil {
			return err
		}
		stopped = ok
		if chain.LastJobID != nil {
			if _, err := r.jobs.Cancel(dbc, *chain.LastJobID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if stopped {
		r.log.Info("chain stopped", "chain", chain.Label)
	}
	return stopped, nil
}

// Release unlocks the chain if jobID still holds it.
func (r *Runner) Release(dbc dbctx.Context, chainID uuid.UUID, jobID uuid.UUID) error {
	_, err := r.chains.Unlock(dbc, chainID, &jobID)
	return err
}

// Holds reports whether jobID is still the run owning the chain. It turns false after a stop.
func (r *Runner) Holds(dbc dbctx.Context, chainID uuid.UUID, jobID uuid.UUID) (bool, error) {
	chain, err := r.chains.GetByID(dbc, chainID)
	if err != nil {
		return false, err
	}
	return chain.Running && chain.LastJobID != nil && *chain.LastJobID == jobID, nil
}
