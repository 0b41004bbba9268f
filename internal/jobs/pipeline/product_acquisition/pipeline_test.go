package product_acquisition_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/regardsoss/dataprovider/internal/data/aggregates"
	"github.com/regardsoss/dataprovider/internal/data/repos"
	"github.com/regardsoss/dataprovider/internal/data/repos/testutil"
	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	jobtypes "github.com/regardsoss/dataprovider/internal/domain/jobs"
	"github.com/regardsoss/dataprovider/internal/jobs/pipeline/post_process"
	"github.com/regardsoss/dataprovider/internal/jobs/pipeline/product_acquisition"
	"github.com/regardsoss/dataprovider/internal/jobs/pipeline/sip_generation"
	"github.com/regardsoss/dataprovider/internal/jobs/pipeline/sip_submission"
	jobrt "github.com/regardsoss/dataprovider/internal/jobs/runtime"
	"github.com/regardsoss/dataprovider/internal/jobs/worker"
	acquisitionmod "github.com/regardsoss/dataprovider/internal/modules/acquisition"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/events"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/files"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/ingest"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/plugins"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/products"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/runner"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/sip"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	"github.com/regardsoss/dataprovider/internal/services"
)

type harness struct {
	db     *gorm.DB
	set    repos.Set
	runner *runner.Runner
	sip    *sip.Service
	sink   *ingest.MemorySink
	worker *worker.Worker
}

func newHarness(t *testing.T) harness {
	t.Helper()
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	set := repos.NewSet(gdb, log)
	tx := aggregates.NewGormTxRunner(gdb)
	reg := plugins.NewDefaultRegistry()
	pub := events.NewPublisher(nil, log)
	notify := services.NewJobNotifier(nil, log)
	jobs := services.NewJobService(gdb, log, set.Jobs, notify, nil, "")
	sink := ingest.NewMemorySink()
	sipSvc := sip.NewService(tx, set, jobs, reg, sink, pub, sip.Config{}, log)
	run := runner.New(tx, set, jobs, pub, log)
	fileReg := files.NewRegistry(set.Files, set.Chains, log)
	acq := acquisitionmod.New(acquisitionmod.UsecasesDeps{
		Log:         log,
		Files:       fileReg,
		Aggregator:  products.NewAggregator(tx, set.Products, set.Files, pub, log),
		Plugins:     reg,
		Concurrency: 2,
		PageSize:    10,
	})

	registry := jobrt.NewRegistry()
	for _, h := range []jobrt.Handler{
		product_acquisition.New(log, set.Chains, acq, run, sipSvc, pub),
		sip_generation.New(log, sipSvc),
		sip_submission.New(log, sipSvc),
		post_process.New(log, sipSvc),
	} {
		require.NoError(t, registry.Register(h))
	}
	w := worker.NewWorker(gdb, log, set.Jobs, registry, notify, worker.Config{Concurrency: 1})
	return harness{db: gdb, set: set, runner: run, sip: sipSvc, sink: sink, worker: w}
}

func (h harness) drain(t *testing.T, ctx context.Context) int {
	t.Helper()
	ran := 0
	for i := 0; i < 100; i++ {
		ok, err := h.worker.RunOnce(ctx)
		require.NoError(t, err)
		if !ok {
			return ran
		}
		ran++
	}
	t.Fatal("job queue did not drain")
	return ran
}

func writeFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("payload of "+name), 0o644))
}

func TestChainRunEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	dir := t.TempDir()
	writeFile(t, dir, "P1.dat")
	writeFile(t, dir, "P2.dat")

	chain := testutil.SeedChain(t, ctx, h.db, "e2e", testutil.FileInfoSpec{Mandatory: true, ScanDir: dir})

	started, err := h.runner.StartManualChain(dbc, chain.ID, "s1")
	require.NoError(t, err)

	// acquisition + two generations
	assert.Equal(t, 3, h.drain(t, ctx))

	acqJob, err := h.set.Jobs.GetByIDs(dbc, []uuid.UUID{started.Job.ID})
	require.NoError(t, err)
	require.Len(t, acqJob, 1)
	assert.Equal(t, jobtypes.StatusSucceeded, acqJob[0].Status)

	got, err := h.set.Chains.GetByID(dbc, chain.ID)
	require.NoError(t, err)
	assert.False(t, got.Running, "lock released after the run")

	for _, name := range []string{"P1", "P2"} {
		p, err := h.set.Products.FindByName(dbc, name, false)
		require.NoError(t, err)
		require.NotNil(t, p, name)
		assert.True(t, p.State.Ready(), p.State)
		assert.Equal(t, types.SIPGenerated, p.SIPState)
		assert.NotEmpty(t, p.SIP)
	}

	rep, err := h.sip.ScheduleSubmission(dbc)
	require.NoError(t, err)
	require.Len(t, rep.Jobs, 1)
	assert.Equal(t, 1, h.drain(t, ctx))

	batches := h.sink.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, "DefaultIngestChain", batches[0].IngestChain)
	assert.Equal(t, "s1", batches[0].Session)
	assert.Len(t, batches[0].SIPs, 2)

	for _, name := range []string{"P1", "P2"} {
		p, err := h.set.Products.FindByName(dbc, name, false)
		require.NoError(t, err)
		assert.Equal(t, types.SIPSubmitted, p.SIPState, name)
	}

	// A second run over unchanged files registers nothing new.
	_, err = h.runner.StartManualChain(dbc, chain.ID, "s2")
	require.NoError(t, err)
	assert.Equal(t, 1, h.drain(t, ctx))
	n, err := h.set.Files.CountByChainAndStates(dbc, chain.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestFailedRunReleasesChain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	missing := filepath.Join(t.TempDir(), "gone")

	chain := testutil.SeedChain(t, ctx, h.db, "broken", testutil.FileInfoSpec{Mandatory: true, ScanDir: missing})

	started, err := h.runner.StartManualChain(dbc, chain.ID, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, h.drain(t, ctx))

	jobs, err := h.set.Jobs.GetByIDs(dbc, []uuid.UUID{started.Job.ID})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobtypes.StatusFailed, jobs[0].Status)

	got, err := h.set.Chains.GetByID(dbc, chain.ID)
	require.NoError(t, err)
	assert.False(t, got.Running, "lock released after a failed run")

	again, err := h.runner.StartManualChain(dbc, chain.ID, "s2")
	require.NoError(t, err)
	assert.Equal(t, "s2", again.Session)
}
