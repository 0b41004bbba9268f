package http

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/regardsoss/dataprovider/internal/data/aggregates"
	"github.com/regardsoss/dataprovider/internal/data/repos"
	"github.com/regardsoss/dataprovider/internal/data/repos/testutil"
	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	httpH "github.com/regardsoss/dataprovider/internal/http/handlers"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/chains"
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

type apiFixture struct {
	db     *gorm.DB
	set    repos.Set
	engine *gin.Engine
}

func newAPI(t *testing.T) apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	set := repos.NewSet(gdb, log)
	tx := aggregates.NewGormTxRunner(gdb)
	reg := plugins.NewDefaultRegistry()
	pub := events.NewPublisher(nil, log)
	jobs := services.NewJobService(gdb, log, set.Jobs, services.NewJobNotifier(nil, log), nil, "")
	sipSvc := sip.NewService(tx, set, jobs, reg, ingest.NewMemorySink(), pub, sip.Config{}, log)
	run := runner.New(tx, set, jobs, pub, log)

	engine := NewRouter(RouterConfig{
		Log:            log,
		HealthHandler:  httpH.NewHealthHandler(gdb),
		ChainHandler:   httpH.NewChainHandler(chains.NewService(tx, set, reg, log), run, sipSvc, files.NewRegistry(set.Files, set.Chains, log)),
		ProductHandler: httpH.NewProductHandler(products.NewAggregator(tx, set.Products, set.Files, pub, log)),
		JobHandler:     httpH.NewJobHandler(jobs),
		IngestHandler:  httpH.NewIngestHandler(sipSvc),
	})
	return apiFixture{db: gdb, set: set, engine: engine}
}

func (fx apiFixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	fx.engine.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") != "" && bytes.HasPrefix(bytes.TrimSpace(rec.Body.Bytes()), []byte("{")) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealthcheck(t *testing.T) {
	fx := newAPI(t)
	rec, _ := fx.do(t, stdhttp.MethodGet, "/healthcheck", nil)
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec, _ = fx.do(t, stdhttp.MethodGet, "/nope", nil)
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
}

func TestChainLifecycle(t *testing.T) {
	fx := newAPI(t)

	rec, _ := fx.do(t, stdhttp.MethodPost, "/api/chains", map[string]any{"mode": "MANUAL"})
	require.Equal(t, stdhttp.StatusBadRequest, rec.Code)

	rec, body := fx.do(t, stdhttp.MethodPost, "/api/chains", testutil.NewChain("http-chain"))
	require.Equal(t, stdhttp.StatusCreated, rec.Code, rec.Body.String())
	id := body["chain"].(map[string]any)["id"].(string)
	base := "/api/chains/" + id

	rec, body = fx.do(t, stdhttp.MethodGet, "/api/chains", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Len(t, body["chains"], 1)

	rec, _ = fx.do(t, stdhttp.MethodPatch, base+"/active", map[string]any{"active": false})
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	rec, _ = fx.do(t, stdhttp.MethodPost, base+"/start", nil)
	assert.Equal(t, stdhttp.StatusUnprocessableEntity, rec.Code, "inactive chain cannot start")

	rec, _ = fx.do(t, stdhttp.MethodPatch, base+"/active", map[string]any{"active": true})
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	rec, body = fx.do(t, stdhttp.MethodPost, base+"/start", map[string]any{"session": "s1"})
	require.Equal(t, stdhttp.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "s1", body["session"])
	jobID := body["job"].(map[string]any)["id"].(string)

	rec, _ = fx.do(t, stdhttp.MethodPost, base+"/start", nil)
	assert.Equal(t, stdhttp.StatusConflict, rec.Code)
	rec, _ = fx.do(t, stdhttp.MethodPut, base, testutil.NewChain("renamed"))
	assert.Equal(t, stdhttp.StatusConflict, rec.Code, "running chain is immutable")

	rec, body = fx.do(t, stdhttp.MethodGet, "/api/jobs/"+jobID, nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, "queued", body["job"].(map[string]any)["status"])

	rec, body = fx.do(t, stdhttp.MethodPost, base+"/stop", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, true, body["stopped"])

	rec, body = fx.do(t, stdhttp.MethodPost, base+"/files/retry", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["retried"])

	rec, body = fx.do(t, stdhttp.MethodPost, base+"/relaunch", map[string]any{"session": "s1"})
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.NotNil(t, body["relaunch"])

	rec, _ = fx.do(t, stdhttp.MethodDelete, base, nil)
	assert.Equal(t, stdhttp.StatusNoContent, rec.Code)
	rec, _ = fx.do(t, stdhttp.MethodGet, base, nil)
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
}

func TestSessionsAndProducts(t *testing.T) {
	fx := newAPI(t)
	ctx := context.Background()
	chain := testutil.SeedChain(t, ctx, fx.db, "sessions")
	p := testutil.SeedProduct(t, ctx, fx.db, chain, "P1", "s1", types.ProductCompleted, types.SIPNotScheduled)
	testutil.SeedFile(t, ctx, fx.db, chain, chain.FileInfos[0], "/data/P1.dat", types.FileAcquired, &p.ID)
	base := "/api/chains/" + chain.ID.String()

	rec, body := fx.do(t, stdhttp.MethodGet, "/api/products/P1", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	product := body["product"].(map[string]any)
	assert.Equal(t, "P1", product["name"])
	assert.Len(t, product["files"], 1)

	rec, _ = fx.do(t, stdhttp.MethodGet, "/api/products/missing", nil)
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)

	rec, body = fx.do(t, stdhttp.MethodGet, base+"/sessions", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].(map[string]any)["session"])

	rec, body = fx.do(t, stdhttp.MethodDelete, base+"/sessions/s1", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["deleted"])

	rec, _ = fx.do(t, stdhttp.MethodGet, "/api/products/P1", nil)
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
}

func TestIngestEventsEndpoint(t *testing.T) {
	fx := newAPI(t)
	ctx := context.Background()
	chain := testutil.SeedChain(t, ctx, fx.db, "ingest")
	testutil.SeedProduct(t, ctx, fx.db, chain, "P1", "s1", types.ProductFinished, types.SIPSubmitted)
	testutil.SeedProduct(t, ctx, fx.db, chain, "P2", "s1", types.ProductFinished, types.SIPSubmitted)

	rec, body := fx.do(t, stdhttp.MethodPost, "/api/ingest/events", []map[string]any{
		{"product_name": "P1", "ingested": true, "ip_id": "URN:AIP:1"},
		{"product_name": "P2", "ingested": false, "error": "checksum mismatch"},
		{"product_name": "P3", "ingested": true, "ip_id": "URN:AIP:3"},
	})
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, body["accepted"])

	p1, err := fx.set.Products.FindByName(dbctx.Context{Ctx: ctx}, "P1", false)
	require.NoError(t, err)
	assert.Equal(t, types.SIPIngested, p1.SIPState)
	assert.Equal(t, "URN:AIP:1", p1.IpID)

	p2, err := fx.set.Products.FindByName(dbctx.Context{Ctx: ctx}, "P2", false)
	require.NoError(t, err)
	assert.Equal(t, types.SIPIngestionFailed, p2.SIPState)

	rec, _ = fx.do(t, stdhttp.MethodPost, "/api/ingest/events", map[string]any{"ingested": true})
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
}

func TestInvalidIdentifiers(t *testing.T) {
	fx := newAPI(t)
	for _, path := range []string{"/api/chains/not-a-uuid", "/api/jobs/not-a-uuid"} {
		rec, _ := fx.do(t, stdhttp.MethodGet, path, nil)
		assert.Equal(t, stdhttp.StatusBadRequest, rec.Code, path)
	}
	rec, _ := fx.do(t, stdhttp.MethodGet, "/api/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
}
