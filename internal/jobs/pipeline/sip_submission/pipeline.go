package sip_submission

import (
	"fmt"

	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	jobrt "github.com/regardsoss/dataprovider/internal/jobs/runtime"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	key := types.SubmissionKey{
		IngestChain: jc.PayloadString("ingest_chain"),
		Session:     jc.PayloadString("session"),
	}
	if key.IngestChain == "" {
		jc.Fail("validate", fmt.Errorf("missing ingest_chain"))
		return nil
	}

	jc.Progress("submit", 10, fmt.Sprintf("Submitting batch to %s", key.IngestChain))
	rep, err := p.sip.Submit(dbctx.Context{Ctx: jc.Ctx}, jc.Job.ID, key)
	if err != nil {
		p.log.Warn("submission batch failed", "ingest_chain", key.IngestChain, "session", key.Session, "error", err)
		jc.Fail("submit", err)
		return nil
	}
	jc.Succeed("done", rep)
	return nil
}
