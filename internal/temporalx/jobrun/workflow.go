package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	types "github.com/regardsoss/dataprovider/internal/domain/jobs"
)

// Workflow drives one job_run row, identified by the workflow id, to a terminal status.
// Acquisition jobs run to completion in a single tick; the loop only covers a run still
// marked running after a worker restart.
func Workflow(ctx workflow.Context) error {
	jobID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if jobID == "" {
		return fmt.Errorf("jobrun: missing job_id")
	}

	const (
		pollInterval = 2 * time.Second
		maxTicks     = 50
	)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 24 * time.Hour,
		HeartbeatTimeout:    30 * time.Second,
		// Business retries are explicit (relaunch); a failed tick is not replayed.
		RetryPolicy: &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	for tick := 1; tick <= maxTicks; tick++ {
		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, jobID).Get(ctx, &out); err != nil {
			return err
		}
		switch out.Status {
		case types.StatusSucceeded, types.StatusCanceled:
			return nil
		case types.StatusFailed:
			return fmt.Errorf("job failed (stage=%s): %s", out.Stage, out.Error)
		}
		if err := workflow.Sleep(ctx, pollInterval); err != nil {
			return err
		}
	}
	return workflow.NewContinueAsNewError(ctx, Workflow)
}
