package post_process

import (
	"fmt"

	jobrt "github.com/regardsoss/dataprovider/internal/jobs/runtime"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
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
	jc.Progress("post_process", 10, "Post-processing product files")
	if err := p.sip.PostProcess(dbctx.Context{Ctx: jc.Ctx}, productID); err != nil {
		jc.Fail("post_process", err)
		return nil
	}
	jc.Succeed("done", nil)
	return nil
}
