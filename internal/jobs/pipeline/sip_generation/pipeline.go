package sip_generation

import (
	"errors"
	"fmt"

	jobrt "github.com/regardsoss/dataprovider/internal/jobs/runtime"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	apperr "github.com/regardsoss/dataprovider/internal/pkg/errors"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	productID, ok := jc.PayloadUUID("product_id")
	if !ok {
		jc.Fail("validate", fmt.Errorf("missing product_id"))
		return nil
	}

	jc.Progress("generate", 10, "Generating SIP")
	state, err := p.sip.Generate(dbctx.Context{Ctx: jc.Ctx}, productID)
	if errors.Is(err, apperr.ErrNotEligible) {
		// The product moved on (deleted session, concurrent run); nothing to generate.
		p.log.Info("generation skipped", "product_id", productID, "sip_state", state)
		jc.Succeed("skipped", map[string]any{"sip_state": state})
		return nil
	}
	if err != nil {
		jc.Fail("generate", err)
		return nil
	}
	jc.Succeed("done", map[string]any{"sip_state": state})
	return nil
}
