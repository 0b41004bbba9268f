package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/regardsoss/dataprovider/internal/data/repos/testutil"
	types "github.com/regardsoss/dataprovider/internal/domain/jobs"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
)

func TestJobRunRepo(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewJobRunRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	chainID := uuid.New()

	queued := &types.JobRun{
		JobType:    "product_acquisition",
		EntityType: "chain",
		EntityID:   testutil.PtrUUID(chainID),
		Status:     types.StatusQueued,
		Payload:    datatypes.JSON([]byte("{}")),
		Result:     datatypes.JSON([]byte("{}")),
		CreatedAt:  now.Add(-3 * time.Hour),
		UpdatedAt:  now.Add(-3 * time.Hour),
	}
	failed := &types.JobRun{
		JobType:     "sip_generation",
		EntityType:  "product",
		EntityID:    testutil.PtrUUID(uuid.New()),
		Status:      types.StatusFailed,
		LastErrorAt: testutil.PtrTime(now.Add(-2 * time.Hour)),
		Payload:     datatypes.JSON([]byte("{}")),
		Result:      datatypes.JSON([]byte("{}")),
		CreatedAt:   now.Add(-2 * time.Hour),
		UpdatedAt:   now.Add(-2 * time.Hour),
	}
	exhausted := &types.JobRun{
		JobType:     "sip_generation",
		Status:      types.StatusFailed,
		Attempts:    1,
		MaxAttempts: 1,
		Payload:     datatypes.JSON([]byte("{}")),
		Result:      datatypes.JSON([]byte("{}")),
		CreatedAt:   now.Add(-150 * time.Minute),
		UpdatedAt:   now.Add(-150 * time.Minute),
	}
	staleRunning := &types.JobRun{
		JobType:     "sip_submission",
		Status:      types.StatusRunning,
		HeartbeatAt: testutil.PtrTime(now.Add(-10 * time.Hour)),
		Payload:     datatypes.JSON([]byte("{}")),
		Result:      datatypes.JSON([]byte("{}")),
		CreatedAt:   now.Add(-1 * time.Hour),
		UpdatedAt:   now.Add(-1 * time.Hour),
	}

	created, err := repo.Create(dbc, []*types.JobRun{queued, failed, exhausted, staleRunning})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(created) != 4 {
		t.Fatalf("Create: expected 4, got %d", len(created))
	}

	if rows, err := repo.GetByIDs(dbc, []uuid.UUID{queued.ID, failed.ID, staleRunning.ID}); err != nil || len(rows) != 3 {
		t.Fatalf("GetByIDs: err=%v len=%d", err, len(rows))
	}

	latest, err := repo.GetLatestByEntity(dbc, "chain", chainID, "product_acquisition")
	if err != nil || latest == nil || latest.ID != queued.ID {
		t.Fatalf("GetLatestByEntity: err=%v job=%v", err, latest)
	}

	ok, err := repo.ExistsRunnable(dbc, "product_acquisition", "chain", &chainID)
	if err != nil || !ok {
		t.Fatalf("ExistsRunnable: ok=%v err=%v", ok, err)
	}

	// Oldest first: queued, then failed under budget, then the stale running job.
	want := []uuid.UUID{queued.ID, failed.ID, staleRunning.ID}
	for i, id := range want {
		job, err := repo.ClaimNextRunnable(dbc, 3, time.Minute, time.Hour)
		if err != nil {
			t.Fatalf("ClaimNextRunnable #%d: %v", i, err)
		}
		if job == nil || job.ID != id {
			t.Fatalf("ClaimNextRunnable #%d: want %s got %v", i, id, job)
		}
		if job.Status != types.StatusRunning || job.Attempts < 1 {
			t.Fatalf("claimed job not running: %+v", job)
		}
	}
	if job, err := repo.ClaimNextRunnable(dbc, 3, time.Minute, time.Hour); err != nil || job != nil {
		t.Fatalf("expected nothing claimable (exhausted job has max_attempts=1), got job=%v err=%v", job, err)
	}

	if err := repo.Heartbeat(dbc, queued.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	// Canceled rows are protected from later progress writes.
	fresh := &types.JobRun{JobType: "post_process", Payload: datatypes.JSON([]byte("{}")), Result: datatypes.JSON([]byte("{}"))}
	if _, err := repo.Create(dbc, []*types.JobRun{fresh}); err != nil {
		t.Fatalf("Create fresh: %v", err)
	}
	canceled, err := repo.CancelIfQueued(dbc, fresh.ID)
	if err != nil || !canceled {
		t.Fatalf("CancelIfQueued: ok=%v err=%v", canceled, err)
	}
	if again, _ := repo.CancelIfQueued(dbc, fresh.ID); again {
		t.Fatalf("CancelIfQueued twice should be a no-op")
	}
	updated, err := repo.UpdateFieldsUnlessStatus(dbc, fresh.ID, []string{types.StatusCanceled}, map[string]interface{}{"stage": "scan"})
	if err != nil || updated {
		t.Fatalf("UpdateFieldsUnlessStatus on canceled: updated=%v err=%v", updated, err)
	}

	if err := repo.UpdateFields(dbc, queued.ID, map[string]interface{}{"status": types.StatusSucceeded}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	rows, _ := repo.GetByIDs(dbc, []uuid.UUID{queued.ID})
	if len(rows) != 1 || !rows[0].Terminal() {
		t.Fatalf("expected terminal job, got %+v", rows)
	}
}
