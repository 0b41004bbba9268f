package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/files"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/plugins"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/products"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	apperr "github.com/regardsoss/dataprovider/internal/pkg/errors"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
)

type BuildDeps struct {
	Log        *logger.Logger
	Files      *files.Registry
	Aggregator *products.Aggregator
	Plugins    *plugins.Registry
	PageSize   int
}

type BuildInput struct {
	Chain   *types.Chain
	Session string
}

type BuildOutput struct {
	Attached        int `json:"attached"`
	Errored         int `json:"errored"`
	ProductsCreated int `json:"products_created"`
}

// Build names every VALID file and attaches it to its product. A naming failure, or a name
// owned by another chain, sends the file to ERROR for this run.
func Build(ctx context.Context, deps BuildDeps, in BuildInput) (BuildOutput, error) {
	out := BuildOutput{}
	if deps.Log == nil || deps.Files == nil || deps.Aggregator == nil || deps.Plugins == nil {
		return out, fmt.Errorf("build: missing deps")
	}
	if in.Chain == nil {
		return out, fmt.Errorf("build: missing chain")
	}
	defer observeStep("build", time.Now())
	log := deps.Log.With("step", "build", "chain", in.Chain.Label, "session", in.Session)

	namer, err := deps.Plugins.Namer(in.Chain.Naming)
	if err != nil {
		return out, fmt.Errorf("build: %w", err)
	}
	dbc := dbctx.Context{Ctx: ctx}
	from := []types.FileState{types.FileValid}

	fail := func(f *types.File, msg string) error {
		log.Warn("file not attached", "path", f.FilePath, "reason", msg)
		moved, err := deps.Files.Mark(dbc, f.ID, from, types.FileError, msg)
		if err == nil && moved {
			out.Errored++
		}
		return err
	}

	var errs error
	for _, fi := range in.Chain.FileInfos {
		err := deps.Files.ForEachPage(dbc, fi.ID, types.FileValid, pageSize(deps.PageSize), func(page []*types.File) error {
			for _, f := range page {
				if err := ctx.Err(); err != nil {
					return err
				}
				name, nerr := namer.ProductName(ctx, f.FilePath)
				name = strings.TrimSpace(name)
				switch {
				case nerr != nil:
					if err := fail(f, fmt.Sprintf("naming plugin %s failed: %v", in.Chain.Naming.PluginID, nerr)); err != nil {
						return err
					}
					continue
				case name == "":
					if err := fail(f, "naming plugin returned an empty product name"); err != nil {
						return err
					}
					continue
				case len(name) > types.MaxProductNameLength:
					if err := fail(f, fmt.Sprintf("product name longer than %d characters", types.MaxProductNameLength)); err != nil {
						return err
					}
					continue
				}

				res, aerr := deps.Aggregator.Attach(dbc, in.Chain, in.Session, name, f)
				if errors.Is(aerr, apperr.ErrConflict) {
					if err := fail(f, aerr.Error()); err != nil {
						return err
					}
					continue
				}
				if aerr != nil {
					return aerr
				}
				if res.Attached {
					out.Attached++
				}
				if res.Created {
					out.ProductsCreated++
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
	log.Info("build done", "attached", out.Attached, "errored", out.Errored, "products_created", out.ProductsCreated)
	return out, errs
}
