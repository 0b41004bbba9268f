package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/regardsoss/dataprovider/internal/data/repos"
	types "github.com/regardsoss/dataprovider/internal/domain/jobs"
	"github.com/regardsoss/dataprovider/internal/observability"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
	"github.com/regardsoss/dataprovider/internal/services"
)

// Executor runs claimed job runs through their registered handler.
type Executor struct {
	DB       *gorm.DB
	Log      *logger.Logger
	Repo     repos.JobRunRepo
	Registry *Registry
	Notify   services.JobNotifier
}

// Execute runs job, which must already be marked running. The run always ends terminal: a handler
// returning an error or panicking fails it, one returning nil without finishing succeeds it.
func (e *Executor) Execute(ctx context.Context, job *types.JobRun) {
	if job == nil {
		return
	}
	started := time.Now()
	jc := NewContext(ctx, e.DB, job, e.Repo, e.Notify)
	defer func() {
		if m := observability.Current(); m != nil {
			m.ObserveJob(job.JobType, jc.Job.Status, time.Since(started))
		}
	}()

	h, ok := e.Registry.Get(job.JobType)
	if !ok {
		e.Log.Warn("No handler registered for job_type", "job_type", job.JobType, "job_id", job.ID)
		jc.Fail("dispatch", fmt.Errorf("no handler registered for job_type=%s", job.JobType))
		return
	}

	returnedNil := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				e.Log.Error("Job handler panic", "job_id", job.ID, "job_type", job.JobType, "panic", r)
				jc.Fail("panic", fmt.Errorf("panic: %v", r))
			}
		}()
		if runErr := h.Run(jc); runErr != nil {
			// Most pipelines call jc.Fail themselves; this is a safety net.
			jc.Fail("run", runErr)
			return
		}
		returnedNil = true
	}()

	if !returnedNil || jc.Job.Terminal() {
		return
	}
	rows, err := e.Repo.GetByIDs(dbctx.Context{Ctx: ctx, Tx: e.DB}, []uuid.UUID{job.ID})
	if err != nil || len(rows) == 0 {
		return
	}
	if rows[0].Status == types.StatusRunning {
		e.Log.Warn("Job handler returned nil without terminal status; marking succeeded", "job_id", job.ID, "job_type", job.JobType)
		jc.Succeed("done", nil)
		return
	}
	jc.Job.Status = rows[0].Status
}
