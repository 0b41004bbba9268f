package product_acquisition

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	jobrt "github.com/regardsoss/dataprovider/internal/jobs/runtime"
	acquisitionmod "github.com/regardsoss/dataprovider/internal/modules/acquisition"
	"github.com/regardsoss/dataprovider/internal/observability"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
)

type result struct {
	Session   string                        `json:"session"`
	Stopped   bool                          `json:"stopped,omitempty"`
	Scan      acquisitionmod.ScanOutput     `json:"scan"`
	Validate  acquisitionmod.ValidateOutput `json:"validate"`
	Build     acquisitionmod.BuildOutput    `json:"build"`
	Scheduled int                           `json:"sip_scheduled"`
}

// Run scans, validates and builds products for one chain run, then schedules SIP generation for
// the products that became ready. The chain lock is released whatever the outcome.
func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	chainID, ok := jc.PayloadUUID("chain_id")
	if !ok {
		jc.Fail("validate", fmt.Errorf("missing chain_id"))
		return nil
	}
	session := jc.PayloadString("session")
	dbc := dbctx.Context{Ctx: jc.Ctx}

	chain, err := p.chains.GetByID(dbc, chainID)
	if err != nil {
		jc.Fail("load", err)
		_ = p.runner.Release(dbc, chainID, jc.Job.ID)
		return nil
	}
	log := p.log.With("chain", chain.Label, "session", session, "job_id", jc.Job.ID)

	var runErr error
	defer func() {
		if err := p.runner.Release(dbc, chain.ID, jc.Job.ID); err != nil {
			log.Warn("release chain lock failed", "error", err)
		}
		p.events.ChainFinished(dbc.Context(), chain.Label, session, runErr)
	}()

	ctx, span := observability.StartSpan(jc.Ctx, "acquisition.run",
		attribute.String("chain", chain.Label),
		attribute.String("session", session),
	)
	defer span.End()

	res := result{Session: session}
	stopped := func() bool {
		if jc.Canceled() {
			return true
		}
		holds, err := p.runner.Holds(dbc, chain.ID, jc.Job.ID)
		return err == nil && !holds
	}
	stop := func(stage string) error {
		log.Info("chain run stopped", "before", stage)
		res.Stopped = true
		jc.Succeed("stopped", res)
		return nil
	}

	jc.Progress("scan", 5, "Scanning input locations")
	if res.Scan, runErr = p.acq.Scan(ctx, acquisitionmod.ScanInput{Chain: chain, Session: session}); runErr != nil {
		jc.Fail("scan", runErr)
		return nil
	}
	if stopped() {
		return stop("validate")
	}

	jc.Progress("validate", 35, fmt.Sprintf("Validating %d discovered files", res.Scan.Discovered))
	if res.Validate, runErr = p.acq.Validate(ctx, acquisitionmod.ValidateInput{Chain: chain, Session: session}); runErr != nil {
		jc.Fail("validate", runErr)
		return nil
	}
	if stopped() {
		return stop("build")
	}

	jc.Progress("build", 65, fmt.Sprintf("Building products from %d valid files", res.Validate.Valid))
	if res.Build, runErr = p.acq.Build(ctx, acquisitionmod.BuildInput{Chain: chain, Session: session}); runErr != nil {
		jc.Fail("build", runErr)
		return nil
	}
	if stopped() {
		return stop("schedule_sip")
	}

	jc.Progress("schedule_sip", 90, "Scheduling SIP generation")
	if res.Scheduled, runErr = p.sip.ScheduleReadyProducts(dbctx.Context{Ctx: ctx}, chain); runErr != nil {
		jc.Fail("schedule_sip", runErr)
		return nil
	}

	log.Info("chain run finished",
		"discovered", res.Scan.Discovered,
		"valid", res.Validate.Valid,
		"invalid", res.Validate.Invalid,
		"attached", res.Build.Attached,
		"sip_scheduled", res.Scheduled,
	)
	jc.Succeed("done", res)
	return nil
}
