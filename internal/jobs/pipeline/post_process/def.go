package post_process

import (
	jobtypes "github.com/regardsoss/dataprovider/internal/domain/jobs"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/sip"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
)

type Pipeline struct {
	log *logger.Logger
	sip *sip.Service
}

func New(baseLog *logger.Logger, sipSvc *sip.Service) *Pipeline {
	return &Pipeline{
		log: baseLog.With("job", jobtypes.TypePostProcess),
		sip: sipSvc,
	}
}

func (p *Pipeline) Type() string { return jobtypes.TypePostProcess }
