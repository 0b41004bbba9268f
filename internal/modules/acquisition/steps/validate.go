package steps

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/files"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/plugins"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
)

type ValidateDeps struct {
	Log      *logger.Logger
	Files    *files.Registry
	Plugins  *plugins.Registry
	PageSize int
}

type ValidateInput struct {
	Chain   *types.Chain
	Session string
}

type ValidateOutput struct {
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
	Errored int `json:"errored"`
}

// Validate runs the chain's validation plugin once on every IN_PROGRESS file. A plugin error
// sends the file to ERROR, never to VALID.
func Validate(ctx context.Context, deps ValidateDeps, in ValidateInput) (ValidateOutput, error) {
	out := ValidateOutput{}
	if deps.Log == nil || deps.Files == nil || deps.Plugins == nil {
		return out, fmt.Errorf("validate: missing deps")
	}
	if in.Chain == nil {
		return out, fmt.Errorf("validate: missing chain")
	}
	defer observeStep("validate", time.Now())
	log := deps.Log.With("step", "validate", "chain", in.Chain.Label, "session", in.Session)

	base, err := deps.Plugins.Validator(in.Chain.Validation)
	if err != nil {
		return out, fmt.Errorf("validate: %w", err)
	}
	dbc := dbctx.Context{Ctx: ctx}
	from := []types.FileState{types.FileInProgress}

	var errs error
	for _, fi := range in.Chain.FileInfos {
		v := base
		if b, ok := base.(plugins.FileInfoBinder); ok {
			v = b.BindFileInfo(fi)
		}
		err := deps.Files.ForEachPage(dbc, fi.ID, types.FileInProgress, pageSize(deps.PageSize), func(page []*types.File) error {
			for _, f := range page {
				if err := ctx.Err(); err != nil {
					return err
				}
				to, msg := types.FileValid, ""
				ok, verr := v.Validate(ctx, f.FilePath)
				switch {
				case verr != nil:
					to, msg = types.FileError, fmt.Sprintf("validation plugin %s failed: %v", in.Chain.Validation.PluginID, verr)
					log.Warn("validation failed", "path", f.FilePath, "error", verr)
				case !ok:
					to, msg = types.FileInvalid, fmt.Sprintf("rejected by validation plugin %s", in.Chain.Validation.PluginID)
				}
				moved, err := deps.Files.Mark(dbc, f.ID, from, to, msg)
				if err != nil {
					return err
				}
				if !moved {
					continue
				}
				switch to {
				case types.FileValid:
					out.Valid++
				case types.FileInvalid:
					out.Invalid++
				default:
					out.Errored++
				}
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			errs = multierr.Append(errs, fmt.Errorf("file info %s: %w", fi.ID, err))
		}
	}
	log.Info("validation done", "valid", out.Valid, "invalid", out.Invalid, "errored", out.Errored)
	return out, errs
}
