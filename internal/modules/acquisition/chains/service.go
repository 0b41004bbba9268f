package chains

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/regardsoss/dataprovider/internal/data/aggregates"
	"github.com/regardsoss/dataprovider/internal/data/repos"
	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/plugins"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	apperr "github.com/regardsoss/dataprovider/internal/pkg/errors"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
)

// Service manages chain configuration. Mutations are refused while a chain runs.
type Service struct {
	tx       aggregates.TxRunner
	chains   repos.ChainRepo
	files    repos.FileRepo
	products repos.ProductRepo
	plugins  *plugins.Registry
	validate *validator.Validate
	log      *logger.Logger
}

func NewService(tx aggregates.TxRunner, set repos.Set, registry *plugins.Registry, baseLog *logger.Logger) *Service {
	return &Service{
		tx:       tx,
		chains:   set.Chains,
		files:    set.Files,
		products: set.Products,
		plugins:  registry,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      baseLog.With("service", "ChainService"),
	}
}

// Validate checks field constraints and that every plugin reference resolves with valid params.
func (s *Service) Validate(chain *types.Chain) error {
	if chain == nil {
		return fmt.Errorf("%w: nil chain", apperr.ErrInvalidArgument)
	}
	chain.Label = strings.TrimSpace(chain.Label)
	if err := s.validate.Struct(chain); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", apperr.ErrInvalidArgument, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", apperr.ErrInvalidArgument, err)
	}
	if chain.Mode == types.ModeManual {
		chain.Periodicity = nil
	}
	if chain.ChecksumAlgorithm == "" {
		chain.ChecksumAlgorithm = types.ChecksumMD5
	}
	if !strings.EqualFold(chain.ChecksumAlgorithm, types.ChecksumMD5) {
		return fmt.Errorf("%w: unsupported checksum algorithm %q", apperr.ErrInvalidArgument, chain.ChecksumAlgorithm)
	}
	chain.ChecksumAlgorithm = types.ChecksumMD5

	checks := []struct {
		kind plugins.Kind
		conf types.PluginConf
	}{
		{plugins.KindValidation, chain.Validation},
		{plugins.KindNaming, chain.Naming},
		{plugins.KindGeneration, chain.Generation},
	}
	if chain.PostProcessing.IsSet() {
		checks = append(checks, struct {
			kind plugins.Kind
			conf types.PluginConf
		}{plugins.KindPostProcessing, chain.PostProcessing})
	}
	for i, fi := range chain.FileInfos {
		if err := s.plugins.Check(plugins.KindScan, fi.ScanPlugin); err != nil {
			return fmt.Errorf("file info #%d: %w", i, err)
		}
	}
	for _, c := range checks {
		if err := s.plugins.Check(c.kind, c.conf); err != nil {
			return err
		}
	}
	return nil
}

// Create persists a new chain. A preset id is refused: creation is not idempotent.
func (s *Service) Create(dbc dbctx.Context, chain *types.Chain) (*types.Chain, error) {
	if chain == nil {
		return nil, fmt.Errorf("%w: nil chain", apperr.ErrInvalidArgument)
	}
	if chain.ID != uuid.Nil {
		return nil, fmt.Errorf("%w: a new chain must not carry an id", apperr.ErrInvalidArgument)
	}
	for _, fi := range chain.FileInfos {
		if fi.ID != uuid.Nil {
			return nil, fmt.Errorf("%w: a new file info must not carry an id", apperr.ErrInvalidArgument)
		}
	}
	if err := s.Validate(chain); err != nil {
		return nil, err
	}
	chain.Running = false
	chain.LastActivationDate = nil
	chain.LastJobID = nil
	if err := s.chains.Create(dbc, chain); err != nil {
		return nil, err
	}
	s.log.Info("chain created", "chain", chain.Label, "mode", chain.Mode)
	return s.chains.GetByID(dbc, chain.ID)
}

// Update rewrites the configuration of an idle chain.
func (s *Service) Update(dbc dbctx.Context, chain *types.Chain) (*types.Chain, error) {
	if chain == nil || chain.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: chain id required", apperr.ErrInvalidArgument)
	}
	if err := s.Validate(chain); err != nil {
		return nil, err
	}
	err := s.tx.InTx(dbc, func(dbc dbctx.Context) error {
		current, err := s.chains.GetByID(dbc, chain.ID)
		if err != nil {
			return err
		}
		if current.Running {
			return fmt.Errorf("%w: %s", apperr.ErrChainRunning, current.Label)
		}
		return s.chains.Update(dbc, chain)
	})
	if err != nil {
		return nil, err
	}
	return s.chains.GetByID(dbc, chain.ID)
}

// Delete removes an idle chain with no SIP generation or submission in flight, with its
// products and files.
func (s *Service) Delete(dbc dbctx.Context, id uuid.UUID) error {
	return s.tx.InTx(dbc, func(dbc dbctx.Context) error {
		chain, err := s.chains.GetByID(dbc, id)
		if err != nil {
			return err
		}
		if chain.Running {
			return fmt.Errorf("%w: %s", apperr.ErrChainRunning, chain.Label)
		}
		pending, err := s.products.CountPendingSIP(dbc, id, "")
		if err != nil {
			return err
		}
		if pending > 0 {
			return fmt.Errorf("%w: chain %s has %d products with SIP work in flight", apperr.ErrConflict, chain.Label, pending)
		}
		if err := s.chains.Delete(dbc, id); err != nil {
			return err
		}
		s.log.Info("chain deleted", "chain", chain.Label)
		return nil
	})
}

func (s *Service) SetActive(dbc dbctx.Context, id uuid.UUID, active bool) (*types.Chain, error) {
	if err := s.chains.SetActive(dbc, id, active); err != nil {
		return nil, err
	}
	return s.chains.GetByID(dbc, id)
}

func (s *Service) Get(dbc dbctx.Context, id uuid.UUID) (*types.Chain, error) {
	return s.chains.GetByID(dbc, id)
}

func (s *Service) GetByLabel(dbc dbctx.Context, label string) (*types.Chain, error) {
	return s.chains.GetByLabel(dbc, label)
}

func (s *Service) List(dbc dbctx.Context) ([]*types.Chain, error) {
	return s.chains.List(dbc)
}

// DeleteSessionProducts removes the products of one session with their files, resetting the
// session. The chain must be idle and the session must have no SIP work in flight.
func (s *Service) DeleteSessionProducts(dbc dbctx.Context, id uuid.UUID, session string) (int, error) {
	if strings.TrimSpace(session) == "" {
		return 0, fmt.Errorf("%w: session required", apperr.ErrInvalidArgument)
	}
	deleted := 0
	err := s.tx.InTx(dbc, func(dbc dbctx.Context) error {
		chain, err := s.chains.GetByID(dbc, id)
		if err != nil {
			return err
		}
		if chain.Running {
			return fmt.Errorf("%w: %s", apperr.ErrChainRunning, chain.Label)
		}
		pending, err := s.products.CountPendingSIP(dbc, id, session)
		if err != nil {
			return err
		}
		if pending > 0 {
			return fmt.Errorf("%w: session %s has %d products with SIP work in flight", apperr.ErrConflict, session, pending)
		}
		ids, err := s.products.IDsByChainSession(dbc, id, session)
		if err != nil {
			return err
		}
		if err := s.files.DeleteByProducts(dbc, ids); err != nil {
			return err
		}
		if err := s.products.DeleteByIDs(dbc, ids); err != nil {
			return err
		}
		deleted = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("session products deleted", "chain_id", id, "session", session, "count", deleted)
	return deleted, nil
}
