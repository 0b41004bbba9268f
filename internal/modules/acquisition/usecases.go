package acquisition

import (
	"context"

	"github.com/regardsoss/dataprovider/internal/modules/acquisition/files"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/plugins"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/products"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/steps"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
)

type UsecasesDeps struct {
	Log *logger.Logger

	Files      *files.Registry
	Aggregator *products.Aggregator
	Plugins    *plugins.Registry

	// Concurrency bounds parallel checksum computation during a scan.
	Concurrency int
	PageSize    int
}

type Usecases struct {
	deps UsecasesDeps
}

func New(deps UsecasesDeps) Usecases { return Usecases{deps: deps} }

func (u Usecases) WithLog(log *logger.Logger) Usecases {
	u.deps.Log = log
	return u
}

type (
	ScanInput  = steps.ScanInput
	ScanOutput = steps.ScanOutput

	ValidateInput  = steps.ValidateInput
	ValidateOutput = steps.ValidateOutput

	BuildInput  = steps.BuildInput
	BuildOutput = steps.BuildOutput
)

func (u Usecases) Scan(ctx context.Context, in ScanInput) (ScanOutput, error) {
	return steps.Scan(ctx, steps.ScanDeps{
		Log:         u.deps.Log,
		Files:       u.deps.Files,
		Plugins:     u.deps.Plugins,
		Concurrency: u.deps.Concurrency,
	}, in)
}

func (u Usecases) Validate(ctx context.Context, in ValidateInput) (ValidateOutput, error) {
	return steps.Validate(ctx, steps.ValidateDeps{
		Log:      u.deps.Log,
		Files:    u.deps.Files,
		Plugins:  u.deps.Plugins,
		PageSize: u.deps.PageSize,
	}, in)
}

func (u Usecases) Build(ctx context.Context, in BuildInput) (BuildOutput, error) {
	return steps.Build(ctx, steps.BuildDeps{
		Log:        u.deps.Log,
		Files:      u.deps.Files,
		Aggregator: u.deps.Aggregator,
		Plugins:    u.deps.Plugins,
		PageSize:   u.deps.PageSize,
	}, in)
}
