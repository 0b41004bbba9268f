package sip

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	jobtypes "github.com/regardsoss/dataprovider/internal/domain/jobs"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/ingest"
	"github.com/regardsoss/dataprovider/internal/observability"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	apperr "github.com/regardsoss/dataprovider/internal/pkg/errors"
)

// SubmissionReport summarizes one ScheduleSubmission pass.
type SubmissionReport struct {
	Jobs     []uuid.UUID `json:"jobs"`
	Products int64       `json:"products"`
	Skipped  int         `json:"skipped"`
}

// ScheduleSubmission creates at most one batch job per (ingest chain, session) holding GENERATED
// products. A pair that already has SUBMISSION_SCHEDULED products is skipped until that batch ends.
func (s *Service) ScheduleSubmission(dbc dbctx.Context) (SubmissionReport, error) {
	rep := SubmissionReport{}
	keys, err := s.products.PendingSubmissionKeys(dbc)
	if err != nil {
		return rep, err
	}
	var errs error
	for _, key := range keys {
		var (
			job     *jobtypes.JobRun
			flipped int64
			skipped bool
		)
		err := s.tx.InTx(dbc, func(dbc dbctx.Context) error {
			// Row locks on the feeding chains serialize concurrent schedulers for this ingest chain.
			if _, err := s.chains.LockByIngestChain(dbc, key.IngestChain); err != nil {
				return err
			}
			busy, err := s.products.ExistsForKey(dbc, key, types.SIPSubmissionScheduled)
			if err != nil {
				return err
			}
			if busy {
				skipped = true
				return nil
			}
			batch, err := s.products.FindForKey(dbc, key, types.SIPGenerated, s.bulkLimit)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				return nil
			}
			job, err = s.jobs.Enqueue(dbc, jobtypes.TypeSIPSubmission, jobtypes.EntitySubmission, nil, map[string]any{
				"ingest_chain": key.IngestChain,
				"session":      key.Session,
			})
			if err != nil {
				return err
			}
			ids := make([]uuid.UUID, 0, len(batch))
			for _, p := range batch {
				ids = append(ids, p.ID)
			}
			flipped, err = s.products.FlipForKey(dbc, ids, types.SIPGenerated, types.SIPSubmissionScheduled, job.ID)
			return err
		})
		if err != nil {
			s.log.Warn("schedule submission failed", "ingest_chain", key.IngestChain, "session", key.Session, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("%s/%s: %w", key.IngestChain, key.Session, err))
			continue
		}
		if skipped {
			rep.Skipped++
			continue
		}
		if job == nil {
			continue
		}
		rep.Jobs = append(rep.Jobs, job.ID)
		rep.Products += flipped
		if m := observability.Current(); m != nil {
			for i := int64(0); i < flipped; i++ {
				m.IncSIPState(string(types.SIPSubmissionScheduled))
			}
		}
		s.log.Info("submission batch scheduled",
			"ingest_chain", key.IngestChain,
			"session", key.Session,
			"job_id", job.ID,
			"products", flipped,
		)
		s.dispatch(dbc, job.ID)
	}
	return rep, errs
}

// SubmitReport counts the per-product outcome of one batch.
type SubmitReport struct {
	Submitted int `json:"submitted"`
	Failed    int `json:"failed"`
}

// Submit sends the batch created by job jobID to the ingestion sink and records each product's
// outcome. A delivery failure moves every product of the batch to SUBMISSION_ERROR and is returned.
func (s *Service) Submit(dbc dbctx.Context, jobID uuid.UUID, key types.SubmissionKey) (SubmitReport, error) {
	rep := SubmitReport{}
	if jobID == uuid.Nil || key.IngestChain == "" {
		return rep, fmt.Errorf("%w: job id and ingest chain required", apperr.ErrInvalidArgument)
	}
	scheduled, err := s.products.FindForKey(dbc, key, types.SIPSubmissionScheduled, 0)
	if err != nil {
		return rep, err
	}
	batchProducts := make([]*types.Product, 0, len(scheduled))
	for _, p := range scheduled {
		if p.LastSIPSubmissionJobID != nil && *p.LastSIPSubmissionJobID == jobID {
			batchProducts = append(batchProducts, p)
		}
	}
	if len(batchProducts) == 0 {
		return rep, nil
	}

	batch := ingest.Batch{
		ID:          jobID,
		IngestChain: key.IngestChain,
		Session:     key.Session,
		Owner:       s.owner,
		SIPs:        make([]ingest.SIP, 0, len(batchProducts)),
	}
	for _, p := range batchProducts {
		batch.SIPs = append(batch.SIPs, ingest.SIP{ProductID: p.ID, ProductName: p.Name, Payload: []byte(p.SIP)})
	}

	res, sendErr := s.sink.Submit(dbc.Context(), batch)

	chainOf := s.chainCache(dbc)
	byName := res.ByProduct()
	var errs error
	for _, p := range batchProducts {
		to, msg := types.SIPSubmitted, ""
		if sendErr != nil {
			to, msg = types.SIPSubmissionError, sendErr.Error()
		} else if r, ok := byName[p.Name]; !ok {
			to, msg = types.SIPSubmissionError, "missing from ingestion response"
		} else if !r.Accepted {
			to, msg = types.SIPSubmissionError, r.Error
			if msg == "" {
				msg = "rejected by ingestion service"
			}
		}
		ok, err := s.products.TransitionSIP(dbc, p.ID, []types.SIPState{types.SIPSubmissionScheduled}, to, map[string]interface{}{
			"error": msg,
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("product %q: %w", p.Name, err))
			continue
		}
		if !ok {
			continue
		}
		label := ""
		if c, err := chainOf(p.ChainID); err == nil {
			label = c.Label
		}
		p.Error = msg
		s.sipChanged(dbc, label, p, to, msg)
		if to == types.SIPSubmitted {
			rep.Submitted++
		} else {
			rep.Failed++
			s.log.Warn("sip submission failed", "chain", label, "session", p.Session, "product", p.Name, "error", msg)
		}
	}
	if sendErr != nil {
		errs = multierr.Append(errs, fmt.Errorf("submit batch %s: %w", jobID, sendErr))
	}
	return rep, errs
}
