package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regardsoss/dataprovider/internal/data/repos"
	"github.com/regardsoss/dataprovider/internal/data/repos/testutil"
	jobtypes "github.com/regardsoss/dataprovider/internal/domain/jobs"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("RUN_SCHEDULER", "false")

	cfg := LoadConfig()
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.False(t, cfg.RunScheduler)
	assert.True(t, cfg.RunWorker)
	assert.Equal(t, 10000, cfg.BulkLimit)
}

func TestWireServices(t *testing.T) {
	t.Setenv("TEMPORAL_ADDRESS", "")
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	cfg := Config{IngestSink: "memory", EventBus: "memory", RunWorker: true, RunScheduler: true}

	svc, err := wireServices(gdb, log, cfg, repos.NewSet(gdb, log))
	require.NoError(t, err)
	assert.Equal(t, []string{
		jobtypes.TypePostProcess,
		jobtypes.TypeProductAcquisition,
		jobtypes.TypeSIPGeneration,
		jobtypes.TypeSIPSubmission,
	}, svc.JobRegistry.Types())
	assert.NotNil(t, svc.JobWorker)
	assert.Nil(t, svc.TemporalWorker)
	assert.NotNil(t, svc.Scheduler)

	_, err = wireServices(gdb, log, Config{IngestSink: "ftp", EventBus: "memory"}, repos.NewSet(gdb, log))
	require.Error(t, err)
}
