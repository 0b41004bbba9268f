package sip

import (
	"strings"

	"github.com/google/uuid"

	"github.com/regardsoss/dataprovider/internal/data/aggregates"
	"github.com/regardsoss/dataprovider/internal/data/repos"
	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/events"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/ingest"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/plugins"
	"github.com/regardsoss/dataprovider/internal/observability"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
	"github.com/regardsoss/dataprovider/internal/services"
)

type Config struct {
	// BulkLimit caps the number of SIPs in one submission batch.
	BulkLimit int
	// SessionOwner is reported to the ingestion service with every batch.
	SessionOwner string
}

// Service drives products from NOT_SCHEDULED to SUBMITTED and handles the ingestion callback.
type Service struct {
	tx       aggregates.TxRunner
	chains   repos.ChainRepo
	files    repos.FileRepo
	products repos.ProductRepo
	jobs     services.JobService
	plugins  *plugins.Registry
	sink     ingest.Sink
	events   *events.Publisher
	log      *logger.Logger

	bulkLimit int
	owner     string
}

func NewService(
	tx aggregates.TxRunner,
	set repos.Set,
	jobs services.JobService,
	registry *plugins.Registry,
	sink ingest.Sink,
	pub *events.Publisher,
	cfg Config,
	baseLog *logger.Logger,
) *Service {
	limit := cfg.BulkLimit
	if limit <= 0 {
		limit = types.DefaultBulkLimit
	}
	owner := strings.TrimSpace(cfg.SessionOwner)
	if owner == "" {
		owner = "dataprovider"
	}
	return &Service{
		tx:        tx,
		chains:    set.Chains,
		files:     set.Files,
		products:  set.Products,
		jobs:      jobs,
		plugins:   registry,
		sink:      sink,
		events:    pub,
		log:       baseLog.With("service", "SIPService"),
		bulkLimit: limit,
		owner:     owner,
	}
}

// dispatch hands jobs created inside a committed transaction to the job backend.
func (s *Service) dispatch(dbc dbctx.Context, ids ...uuid.UUID) {
	if dbc.Tx != nil {
		return
	}
	for _, id := range ids {
		if err := s.jobs.Dispatch(dbctx.Context{Ctx: dbc.Ctx}, id); err != nil {
			s.log.Warn("dispatch job failed", "job_id", id, "error", err)
		}
	}
}

func (s *Service) sipChanged(dbc dbctx.Context, chainLabel string, product *types.Product, state types.SIPState, message string) {
	if m := observability.Current(); m != nil {
		m.IncSIPState(string(state))
	}
	product.SIPState = state
	s.events.SIPState(dbc.Context(), chainLabel, product, state, message)
}

func (s *Service) chainCache(dbc dbctx.Context) func(id uuid.UUID) (*types.Chain, error) {
	cache := map[uuid.UUID]*types.Chain{}
	return func(id uuid.UUID) (*types.Chain, error) {
		if c, ok := cache[id]; ok {
			return c, nil
		}
		c, err := s.chains.GetByID(dbc, id)
		if err != nil {
			return nil, err
		}
		cache[id] = c
		return c, nil
	}
}
