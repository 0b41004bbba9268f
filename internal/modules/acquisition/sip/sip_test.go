package sip

import (
	"context"
	"encoding/json"
	"errors"
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
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/events"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/ingest"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/plugins"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	apperr "github.com/regardsoss/dataprovider/internal/pkg/errors"
	"github.com/regardsoss/dataprovider/internal/services"
)

type fixture struct {
	ctx      context.Context
	dbc      dbctx.Context
	db       *gorm.DB
	set      repos.Set
	registry *plugins.Registry
	sink     *ingest.MemorySink
	svc      *Service
}

func newFixture(t *testing.T, bulkLimit int) fixture {
	t.Helper()
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	set := repos.NewSet(gdb, log)
	reg := plugins.NewDefaultRegistry()
	sink := ingest.NewMemorySink()
	jobs := services.NewJobService(gdb, log, set.Jobs, services.NewJobNotifier(nil, log), nil, "")
	svc := NewService(aggregates.NewGormTxRunner(gdb), set, jobs, reg, sink, events.NewPublisher(nil, log), Config{BulkLimit: bulkLimit}, log)
	ctx := context.Background()
	return fixture{ctx: ctx, dbc: dbctx.Context{Ctx: ctx}, db: gdb, set: set, registry: reg, sink: sink, svc: svc}
}

// completeProduct seeds a product with one ACQUIRED file per FileInfo of chain.
func (fx fixture) completeProduct(t *testing.T, chain *types.Chain, name, session string, sip types.SIPState) *types.Product {
	t.Helper()
	p := testutil.SeedProduct(t, fx.ctx, fx.db, chain, name, session, types.ProductFinished, sip)
	for _, fi := range chain.FileInfos {
		testutil.SeedFile(t, fx.ctx, fx.db, chain, fi, "/data/"+name+"-"+fi.Comment+".dat", types.FileAcquired, &p.ID)
	}
	return p
}

func (fx fixture) product(t *testing.T, id uuid.UUID) *types.Product {
	t.Helper()
	p, err := fx.set.Products.GetByID(fx.dbc, id)
	require.NoError(t, err)
	return p
}

func (fx fixture) generated(t *testing.T, chain *types.Chain, name, session string) *types.Product {
	t.Helper()
	p := fx.completeProduct(t, chain, name, session, types.SIPGenerated)
	require.NoError(t, fx.db.Model(&types.Product{}).Where("id = ?", p.ID).Update("sip", `{"id":"`+name+`"}`).Error)
	return p
}

func TestScheduleAndGenerate(t *testing.T) {
	fx := newFixture(t, 0)
	chain := testutil.SeedChain(t, fx.ctx, fx.db, "gen", testutil.FileInfoSpec{Mandatory: true}, testutil.FileInfoSpec{})
	ready := fx.completeProduct(t, chain, "P1", "s1", types.SIPNotScheduled)
	partial := testutil.SeedProduct(t, fx.ctx, fx.db, chain, "P2", "s1", types.ProductAcquiring, types.SIPNotScheduled)

	n, err := fx.svc.ScheduleReadyProducts(fx.dbc, chain)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := fx.product(t, ready.ID)
	assert.Equal(t, types.SIPScheduled, got.SIPState)
	require.NotNil(t, got.LastSIPGenerationJobID)
	job, err := fx.set.Jobs.GetLatestByEntity(fx.dbc, jobtypes.EntityProduct, ready.ID, jobtypes.TypeSIPGeneration)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, *got.LastSIPGenerationJobID, job.ID)
	assert.Equal(t, jobtypes.StatusQueued, job.Status)

	_, err = fx.svc.ScheduleGeneration(fx.dbc, chain, partial)
	assert.True(t, errors.Is(err, apperr.ErrNotEligible))

	state, err := fx.svc.Generate(fx.dbc, ready.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SIPGenerated, state)
	got = fx.product(t, ready.ID)
	assert.Equal(t, types.SIPGenerated, got.SIPState)

	var sip plugins.SIP
	require.NoError(t, json.Unmarshal(got.SIP, &sip))
	assert.Equal(t, "P1", sip.ID)
	assert.Len(t, sip.Files, 2)

	_, err = fx.svc.Generate(fx.dbc, ready.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotEligible))
}

func TestGenerationFailureIsRecorded(t *testing.T) {
	fx := newFixture(t, 0)
	require.NoError(t, fx.registry.Register(plugins.Definition{
		ID:   "broken",
		Kind: plugins.KindGeneration,
		New: func(plugins.Params) (any, error) {
			return plugins.GeneratorFunc(func(ctx context.Context, in plugins.SIPInput) (json.RawMessage, error) {
				return nil, errors.New("descriptor missing")
			}), nil
		},
	}))
	chain := testutil.SeedChain(t, fx.ctx, fx.db, "broken-gen")
	require.NoError(t, fx.db.Model(&types.Chain{}).Where("id = ?", chain.ID).Update("generation_plugin_id", "broken").Error)
	p := fx.completeProduct(t, chain, "P1", "s1", types.SIPNotScheduled)

	_, err := fx.svc.ScheduleGeneration(fx.dbc, chain, p)
	require.NoError(t, err)
	state, err := fx.svc.Generate(fx.dbc, p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SIPGenerationError, state)

	got := fx.product(t, p.ID)
	assert.Equal(t, types.SIPGenerationError, got.SIPState)
	assert.Contains(t, got.Error, "descriptor missing")
}

func TestRelaunchIsGatedByRetryFlags(t *testing.T) {
	fx := newFixture(t, 0)
	chain := testutil.SeedChain(t, fx.ctx, fx.db, "relaunch")
	genErr := fx.completeProduct(t, chain, "G1", "s1", types.SIPGenerationError)
	subErr := fx.generated(t, chain, "S1", "s1")
	require.NoError(t, fx.db.Model(&types.Product{}).Where("id = ?", subErr.ID).Update("sip_state", types.SIPSubmissionError).Error)
	other := fx.completeProduct(t, chain, "G2", "s2", types.SIPGenerationError)

	chain.GenerationRetryEnabled = false
	chain.SubmissionRetryEnabled = false
	rep, err := fx.svc.RelaunchErrors(fx.dbc, chain, "s1")
	require.NoError(t, err)
	assert.Equal(t, RelaunchReport{Skipped: 2}, rep)
	assert.Equal(t, types.SIPGenerationError, fx.product(t, genErr.ID).SIPState)
	assert.Equal(t, types.SIPSubmissionError, fx.product(t, subErr.ID).SIPState)

	chain.GenerationRetryEnabled = true
	chain.SubmissionRetryEnabled = true
	rep, err = fx.svc.RelaunchErrors(fx.dbc, chain, "s1")
	require.NoError(t, err)
	assert.Equal(t, RelaunchReport{Generation: 1, Submission: 1}, rep)
	assert.Equal(t, types.SIPScheduled, fx.product(t, genErr.ID).SIPState)
	assert.Equal(t, types.SIPSubmissionScheduled, fx.product(t, subErr.ID).SIPState)
	assert.Equal(t, types.SIPGenerationError, fx.product(t, other.ID).SIPState, "other session untouched")
}

func TestScheduleSubmissionOneBatchPerKey(t *testing.T) {
	fx := newFixture(t, 2)
	a := testutil.SeedChain(t, fx.ctx, fx.db, "chain-a")
	b := testutil.SeedChain(t, fx.ctx, fx.db, "chain-b")
	a1 := fx.generated(t, a, "A1", "s1")
	a2 := fx.generated(t, a, "A2", "s1")
	b1 := fx.generated(t, b, "B1", "s1")
	b2 := fx.generated(t, b, "B2", "s2")

	rep, err := fx.svc.ScheduleSubmission(fx.dbc)
	require.NoError(t, err)
	assert.Len(t, rep.Jobs, 2)
	assert.EqualValues(t, 3, rep.Products)

	scheduled := 0
	jobs := map[uuid.UUID]int{}
	for _, id := range []uuid.UUID{a1.ID, a2.ID, b1.ID} {
		p := fx.product(t, id)
		if p.SIPState == types.SIPSubmissionScheduled {
			scheduled++
			jobs[*p.LastSIPSubmissionJobID]++
		}
	}
	assert.Equal(t, 2, scheduled, "bulk limit caps the s1 batch")
	assert.Len(t, jobs, 1, "one job for the s1 key")
	assert.Equal(t, types.SIPSubmissionScheduled, fx.product(t, b2.ID).SIPState)

	// The s1 leftover waits while the s1 batch is in flight.
	again, err := fx.svc.ScheduleSubmission(fx.dbc)
	require.NoError(t, err)
	assert.Empty(t, again.Jobs)
	assert.Equal(t, 1, again.Skipped)
}

func TestSubmitRecordsPerProductOutcome(t *testing.T) {
	fx := newFixture(t, 0)
	chain := testutil.SeedChain(t, fx.ctx, fx.db, "submit")
	ok1 := fx.generated(t, chain, "OK1", "s1")
	ok2 := fx.generated(t, chain, "OK2", "s1")
	bad := fx.generated(t, chain, "BAD", "s1")
	fx.sink.Reject["BAD"] = "invalid descriptor"

	rep, err := fx.svc.ScheduleSubmission(fx.dbc)
	require.NoError(t, err)
	require.Len(t, rep.Jobs, 1)

	key := types.SubmissionKey{IngestChain: chain.IngestChain, Session: "s1"}
	out, err := fx.svc.Submit(fx.dbc, rep.Jobs[0], key)
	require.NoError(t, err)
	assert.Equal(t, SubmitReport{Submitted: 2, Failed: 1}, out)
	assert.Equal(t, types.SIPSubmitted, fx.product(t, ok1.ID).SIPState)
	assert.Equal(t, types.SIPSubmitted, fx.product(t, ok2.ID).SIPState)
	failed := fx.product(t, bad.ID)
	assert.Equal(t, types.SIPSubmissionError, failed.SIPState)
	assert.Equal(t, "invalid descriptor", failed.Error)

	batches := fx.sink.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, rep.Jobs[0], batches[0].ID)
	assert.Len(t, batches[0].SIPs, 3)
}

func TestSubmitDeliveryFailureFailsWholeBatch(t *testing.T) {
	fx := newFixture(t, 0)
	chain := testutil.SeedChain(t, fx.ctx, fx.db, "down")
	p1 := fx.generated(t, chain, "P1", "s1")
	p2 := fx.generated(t, chain, "P2", "s1")
	fx.sink.Err = errors.New("connection refused")

	rep, err := fx.svc.ScheduleSubmission(fx.dbc)
	require.NoError(t, err)
	require.Len(t, rep.Jobs, 1)

	out, err := fx.svc.Submit(fx.dbc, rep.Jobs[0], types.SubmissionKey{IngestChain: chain.IngestChain, Session: "s1"})
	require.Error(t, err)
	assert.Equal(t, 2, out.Failed)
	for _, id := range []uuid.UUID{p1.ID, p2.ID} {
		got := fx.product(t, id)
		assert.Equal(t, types.SIPSubmissionError, got.SIPState)
		assert.Contains(t, got.Error, "connection refused")
	}
}

func TestIngestEvents(t *testing.T) {
	fx := newFixture(t, 0)
	chain := testutil.SeedChain(t, fx.ctx, fx.db, "ingest")
	require.NoError(t, fx.db.Model(&types.Chain{}).Where("id = ?", chain.ID).Update("post_processing_plugin_id", "noop").Error)
	done := fx.generated(t, chain, "DONE", "s1")
	lost := fx.generated(t, chain, "LOST", "s1")
	waiting := fx.generated(t, chain, "WAIT", "s1")
	require.NoError(t, fx.db.Model(&types.Product{}).Where("id IN ?", []uuid.UUID{done.ID, lost.ID}).Update("sip_state", types.SIPSubmitted).Error)

	p, err := fx.svc.HandleIngestEvent(fx.dbc, IngestEvent{ProductName: "DONE", IpID: "URN:AIP:DATA:1", Ingested: true})
	require.NoError(t, err)
	assert.Equal(t, types.SIPIngested, p.SIPState)
	got := fx.product(t, done.ID)
	assert.Equal(t, "URN:AIP:DATA:1", got.IpID)
	require.NotNil(t, got.LastPostProcessingJobID)
	require.NoError(t, fx.svc.PostProcess(fx.dbc, done.ID))

	_, err = fx.svc.HandleIngestEvent(fx.dbc, IngestEvent{ProductName: "LOST", Error: "storage full"})
	require.NoError(t, err)
	got = fx.product(t, lost.ID)
	assert.Equal(t, types.SIPIngestionFailed, got.SIPState)
	assert.Equal(t, "storage full", got.Error)

	_, err = fx.svc.HandleIngestEvent(fx.dbc, IngestEvent{ProductName: "WAIT", IpID: "x", Ingested: true})
	assert.True(t, errors.Is(err, apperr.ErrNotEligible))
	assert.Equal(t, types.SIPGenerated, fx.product(t, waiting.ID).SIPState)

	_, err = fx.svc.HandleIngestEvent(fx.dbc, IngestEvent{ProductName: "NOPE", IpID: "x", Ingested: true})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
