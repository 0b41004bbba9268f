package sip

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/datatypes"

	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	jobtypes "github.com/regardsoss/dataprovider/internal/domain/jobs"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/plugins"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	apperr "github.com/regardsoss/dataprovider/internal/pkg/errors"
)

// generationSources lists the SIP states a chain allows generation from.
func generationSources(chain *types.Chain) []types.SIPState {
	from := []types.SIPState{types.SIPNotScheduled}
	if chain.GenerationRetryEnabled {
		from = append(from, types.SIPGenerationError)
	}
	return from
}

func eligibleForGeneration(chain *types.Chain, product *types.Product) bool {
	if !product.State.Ready() || product.ChainID != chain.ID {
		return false
	}
	for _, st := range generationSources(chain) {
		if product.SIPState == st {
			return true
		}
	}
	return false
}

// ScheduleGeneration moves product to SCHEDULED and creates its generation job in one transaction.
func (s *Service) ScheduleGeneration(dbc dbctx.Context, chain *types.Chain, product *types.Product) (*jobtypes.JobRun, error) {
	if chain == nil || product == nil {
		return nil, fmt.Errorf("%w: chain and product required", apperr.ErrInvalidArgument)
	}
	if !eligibleForGeneration(chain, product) {
		return nil, fmt.Errorf("product %q in %s/%s: %w", product.Name, product.State, product.SIPState, apperr.ErrNotEligible)
	}

	var job *jobtypes.JobRun
	err := s.tx.InTx(dbc, func(dbc dbctx.Context) error {
		ok, err := s.products.TransitionSIP(dbc, product.ID, generationSources(chain), types.SIPScheduled, map[string]interface{}{
			"error": "",
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("product %q: %w", product.Name, apperr.ErrNotEligible)
		}
		job, err = s.jobs.Enqueue(dbc, jobtypes.TypeSIPGeneration, jobtypes.EntityProduct, &product.ID, map[string]any{
			"product_id": product.ID.String(),
			"chain_id":   chain.ID.String(),
		})
		if err != nil {
			return err
		}
		return s.products.UpdateFields(dbc, product.ID, map[string]interface{}{
			"last_sip_generation_job_id": job.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	product.LastSIPGenerationJobID = &job.ID
	product.Error = ""
	s.sipChanged(dbc, chain.Label, product, types.SIPScheduled, "")
	s.dispatch(dbc, job.ID)
	return job, nil
}

// ScheduleReadyProducts schedules generation for every product of chain that is ready.
// It returns the number of products scheduled.
func (s *Service) ScheduleReadyProducts(dbc dbctx.Context, chain *types.Chain) (int, error) {
	if chain == nil {
		return 0, fmt.Errorf("%w: chain required", apperr.ErrInvalidArgument)
	}
	scheduled := 0
	for {
		ready, err := s.products.FindReadyForGeneration(dbc, chain.ID, generationSources(chain), s.bulkLimit)
		if err != nil {
			return scheduled, err
		}
		var errs error
		for _, p := range ready {
			if _, err := s.ScheduleGeneration(dbc, chain, p); err != nil {
				if errors.Is(err, apperr.ErrNotEligible) {
					continue
				}
				s.log.Warn("schedule generation failed", "chain", chain.Label, "product", p.Name, "error", err)
				errs = multierr.Append(errs, fmt.Errorf("product %q: %w", p.Name, err))
				continue
			}
			scheduled++
		}
		// Failed products stay eligible; stop instead of looping over them again.
		if errs != nil || len(ready) < s.bulkLimit {
			return scheduled, errs
		}
	}
}

// Generate runs the chain's generator for a SCHEDULED product. A generator failure is recorded on
// the product as GENERATION_ERROR and is not returned; errors are storage failures only.
func (s *Service) Generate(dbc dbctx.Context, productID uuid.UUID) (types.SIPState, error) {
	product, err := s.products.GetByID(dbc, productID)
	if err != nil {
		return "", err
	}
	if product.SIPState != types.SIPScheduled {
		return product.SIPState, fmt.Errorf("product %q is %s: %w", product.Name, product.SIPState, apperr.ErrNotEligible)
	}
	chain, err := s.chains.GetByID(dbc, product.ChainID)
	if err != nil {
		return "", err
	}
	files, err := s.files.FindByProduct(dbc, product.ID, types.FileAcquired)
	if err != nil {
		return "", err
	}
	infos := make(map[uuid.UUID]types.FileInfo, len(chain.FileInfos))
	for _, fi := range chain.FileInfos {
		infos[fi.ID] = fi
	}
	log := s.log.With("chain", chain.Label, "session", product.Session, "product", product.Name)

	payload, genErr := func() ([]byte, error) {
		gen, err := s.plugins.Generator(chain.Generation)
		if err != nil {
			return nil, err
		}
		return gen.Generate(dbc.Context(), plugins.SIPInput{
			Chain:     chain,
			Product:   product,
			Files:     files,
			FileInfos: infos,
			Dataset:   chain.Dataset,
		})
	}()
	if genErr == nil && len(payload) == 0 {
		genErr = fmt.Errorf("generator returned an empty SIP")
	}

	if genErr != nil {
		msg := genErr.Error()
		ok, err := s.products.TransitionSIP(dbc, product.ID, []types.SIPState{types.SIPScheduled}, types.SIPGenerationError, map[string]interface{}{
			"error": msg,
		})
		if err != nil {
			return "", err
		}
		if ok {
			log.Warn("sip generation failed", "error", msg)
			product.Error = msg
			s.sipChanged(dbc, chain.Label, product, types.SIPGenerationError, msg)
		}
		return types.SIPGenerationError, nil
	}

	ok, err := s.products.TransitionSIP(dbc, product.ID, []types.SIPState{types.SIPScheduled}, types.SIPGenerated, map[string]interface{}{
		"sip":   datatypes.JSON(payload),
		"error": "",
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("product %q left SCHEDULED during generation: %w", product.Name, apperr.ErrConflict)
	}
	product.SIP = datatypes.JSON(payload)
	s.sipChanged(dbc, chain.Label, product, types.SIPGenerated, "")
	log.Debug("sip generated", "files", len(files))
	return types.SIPGenerated, nil
}

// RelaunchReport counts what RelaunchErrors did.
type RelaunchReport struct {
	Generation int `json:"generation"`
	Submission int `json:"submission"`
	Skipped    int `json:"skipped"`
}

// RelaunchErrors reschedules the GENERATION_ERROR and SUBMISSION_ERROR products of a chain, limited
// to session when it is not empty. Each branch is gated by the chain's retry flag.
func (s *Service) RelaunchErrors(dbc dbctx.Context, chain *types.Chain, session string) (RelaunchReport, error) {
	rep := RelaunchReport{}
	if chain == nil {
		return rep, fmt.Errorf("%w: chain required", apperr.ErrInvalidArgument)
	}
	failed, err := s.products.FindByChainSession(dbc, chain.ID, session, types.SIPGenerationError, types.SIPSubmissionError)
	if err != nil {
		return rep, err
	}
	var errs error
	for _, p := range failed {
		switch p.SIPState {
		case types.SIPGenerationError:
			if !chain.GenerationRetryEnabled {
				rep.Skipped++
				continue
			}
			if _, err := s.ScheduleGeneration(dbc, chain, p); err != nil {
				if errors.Is(err, apperr.ErrNotEligible) {
					rep.Skipped++
					continue
				}
				errs = multierr.Append(errs, fmt.Errorf("product %q: %w", p.Name, err))
				continue
			}
			rep.Generation++
		case types.SIPSubmissionError:
			if !chain.SubmissionRetryEnabled {
				rep.Skipped++
				continue
			}
			ok, err := s.products.TransitionSIP(dbc, p.ID, []types.SIPState{types.SIPSubmissionError}, types.SIPGenerated, map[string]interface{}{
				"error": "",
			})
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("product %q: %w", p.Name, err))
				continue
			}
			if !ok {
				rep.Skipped++
				continue
			}
			p.Error = ""
			s.sipChanged(dbc, chain.Label, p, types.SIPGenerated, "")
			rep.Submission++
		}
	}
	if rep.Submission > 0 {
		if _, err := s.ScheduleSubmission(dbc); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	s.log.Info("relaunched errors",
		"chain", chain.Label,
		"session", session,
		"generation", rep.Generation,
		"submission", rep.Submission,
		"skipped", rep.Skipped,
	)
	return rep, errs
}
