package product_acquisition

import (
	"github.com/regardsoss/dataprovider/internal/data/repos"
	jobtypes "github.com/regardsoss/dataprovider/internal/domain/jobs"
	acquisitionmod "github.com/regardsoss/dataprovider/internal/modules/acquisition"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/events"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/runner"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/sip"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
)

type Pipeline struct {
	log    *logger.Logger
	chains repos.ChainRepo
	acq    acquisitionmod.Usecases
	runner *runner.Runner
	sip    *sip.Service
	events *events.Publisher
}

func New(
	baseLog *logger.Logger,
	chains repos.ChainRepo,
	acq acquisitionmod.Usecases,
	run *runner.Runner,
	sipSvc *sip.Service,
	pub *events.Publisher,
) *Pipeline {
	return &Pipeline{
		log:    baseLog.With("job", jobtypes.TypeProductAcquisition),
		chains: chains,
		acq:    acq,
		runner: run,
		sip:    sipSvc,
		events: pub,
	}
}

func (p *Pipeline) Type() string { return jobtypes.TypeProductAcquisition }
