package sip

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	jobtypes "github.com/regardsoss/dataprovider/internal/domain/jobs"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	apperr "github.com/regardsoss/dataprovider/internal/pkg/errors"
)

// IngestEvent is the ingestion service's verdict on one submitted SIP.
type IngestEvent struct {
	ProductName string `json:"product_name" binding:"required"`
	IpID        string `json:"ip_id"`
	Ingested    bool   `json:"ingested"`
	Error       string `json:"error"`
}

// HandleIngestEvent moves a SUBMITTED product to INGESTED or INGESTION_FAILED. An ingested product
// of a chain with post-processing gets a post-processing job.
func (s *Service) HandleIngestEvent(dbc dbctx.Context, ev IngestEvent) (*types.Product, error) {
	name := strings.TrimSpace(ev.ProductName)
	if name == "" {
		return nil, fmt.Errorf("%w: product_name required", apperr.ErrInvalidArgument)
	}
	if ev.Ingested && strings.TrimSpace(ev.IpID) == "" {
		return nil, fmt.Errorf("%w: ip_id required for an ingested product", apperr.ErrInvalidArgument)
	}
	product, err := s.products.FindByName(dbc, name, false)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fmt.Errorf("product %q: %w", name, apperr.ErrNotFound)
	}
	chain, err := s.chains.GetByID(dbc, product.ChainID)
	if err != nil {
		return nil, err
	}

	to := types.SIPIngested
	updates := map[string]interface{}{"ip_id": ev.IpID, "error": ""}
	if !ev.Ingested {
		to = types.SIPIngestionFailed
		msg := ev.Error
		if msg == "" {
			msg = "ingestion failed"
		}
		updates = map[string]interface{}{"error": msg}
	}
	ok, err := s.products.TransitionSIP(dbc, product.ID, []types.SIPState{types.SIPSubmitted}, to, updates)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("product %q is %s: %w", name, product.SIPState, apperr.ErrNotEligible)
	}
	if ev.Ingested {
		product.IpID = ev.IpID
		product.Error = ""
	} else {
		product.Error = updates["error"].(string)
	}
	s.sipChanged(dbc, chain.Label, product, to, product.Error)

	if ev.Ingested && chain.PostProcessing.IsSet() {
		if _, err := s.SchedulePostProcess(dbc, chain, product); err != nil {
			return product, err
		}
	}
	return product, nil
}

// SchedulePostProcess creates the post-processing job of an INGESTED product.
func (s *Service) SchedulePostProcess(dbc dbctx.Context, chain *types.Chain, product *types.Product) (*jobtypes.JobRun, error) {
	if !chain.PostProcessing.IsSet() {
		return nil, fmt.Errorf("chain %q has no post-processing: %w", chain.Label, apperr.ErrNotEligible)
	}
	var job *jobtypes.JobRun
	err := s.tx.InTx(dbc, func(dbc dbctx.Context) error {
		var err error
		job, err = s.jobs.Enqueue(dbc, jobtypes.TypePostProcess, jobtypes.EntityProduct, &product.ID, map[string]any{
			"product_id": product.ID.String(),
			"chain_id":   chain.ID.String(),
		})
		if err != nil {
			return err
		}
		return s.products.UpdateFields(dbc, product.ID, map[string]interface{}{
			"last_post_processing_job_id": job.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	product.LastPostProcessingJobID = &job.ID
	s.dispatch(dbc, job.ID)
	return job, nil
}

// PostProcess runs the chain's post-processor over the product's ACQUIRED files. A failure is
// written on the product and returned.
func (s *Service) PostProcess(dbc dbctx.Context, productID uuid.UUID) error {
	product, err := s.products.GetByID(dbc, productID)
	if err != nil {
		return err
	}
	if product.SIPState != types.SIPIngested {
		return fmt.Errorf("product %q is %s: %w", product.Name, product.SIPState, apperr.ErrNotEligible)
	}
	chain, err := s.chains.GetByID(dbc, product.ChainID)
	if err != nil {
		return err
	}
	files, err := s.files.FindByProduct(dbc, product.ID, types.FileAcquired)
	if err != nil {
		return err
	}
	pp, err := s.plugins.PostProcessor(chain.PostProcessing)
	if err == nil {
		err = pp.PostProcess(dbc.Context(), product, files)
	}
	if err != nil {
		s.log.Warn("post-processing failed", "chain", chain.Label, "session", product.Session, "product", product.Name, "error", err)
		if uerr := s.products.UpdateFields(dbc, product.ID, map[string]interface{}{"error": "post-processing: " + err.Error()}); uerr != nil {
			return errors.Join(err, uerr)
		}
		return fmt.Errorf("post-process %q: %w", product.Name, err)
	}
	return nil
}
