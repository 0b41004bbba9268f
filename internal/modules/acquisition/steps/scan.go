package steps

import (
	"context"
	"fmt"
	"iter"
	"os"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/files"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/plugins"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
)

type ScanDeps struct {
	Log     *logger.Logger
	Files   *files.Registry
	Plugins *plugins.Registry
	// Concurrency bounds parallel checksum computation per FileInfo.
	Concurrency int
}

type ScanInput struct {
	Chain   *types.Chain
	Session string
}

type ScanOutput struct {
	Discovered int      `json:"discovered"`
	Created    int      `json:"created"`
	Updated    int      `json:"updated"`
	Errored    int      `json:"errored"`
	Kept       int      `json:"kept"`
	BadFiles   []string `json:"bad_files,omitempty"`
}

func (o *ScanOutput) count(outcome files.Outcome) {
	switch outcome {
	case files.OutcomeCreated:
		o.Created++
	case files.OutcomeUpdated:
		o.Updated++
	case files.OutcomeErrored:
		o.Errored++
	case files.OutcomeKept:
		o.Kept++
	}
}

// Scan discovers new files for every FileInfo of the chain and registers them. A failing file
// is recorded in ERROR and never stops the batch; the returned error aggregates the FileInfos
// whose scan or persistence failed. The watermark only moves after a complete scan.
func Scan(ctx context.Context, deps ScanDeps, in ScanInput) (ScanOutput, error) {
	out := ScanOutput{}
	if deps.Log == nil || deps.Files == nil || deps.Plugins == nil {
		return out, fmt.Errorf("scan: missing deps")
	}
	if in.Chain == nil {
		return out, fmt.Errorf("scan: missing chain")
	}
	defer observeStep("scan", time.Now())
	log := deps.Log.With("step", "scan", "chain", in.Chain.Label, "session", in.Session)

	var errs error
	for _, fi := range in.Chain.FileInfos {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if err := scanFileInfo(ctx, deps, log, in.Chain, fi, &out); err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			log.Warn("scan of file info failed", "file_info_id", fi.ID, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("file info %s: %w", fi.ID, err))
		}
	}
	log.Info("scan done",
		"discovered", out.Discovered,
		"created", out.Created,
		"updated", out.Updated,
		"errored", out.Errored,
		"kept", out.Kept,
	)
	return out, errs
}

func scanFileInfo(ctx context.Context, deps ScanDeps, log *logger.Logger, chain *types.Chain, fi types.FileInfo, out *ScanOutput) error {
	inst, err := deps.Plugins.Scanner(fi.ScanPlugin)
	if err != nil {
		return err
	}

	limit := deps.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var (
		mu      sync.Mutex
		maxMod  time.Time
		persist error
	)
	dbc := dbctx.Context{Ctx: ctx}

	var scanErr error
	for path, err := range candidates(gctx, inst, fi.LastModificationDate) {
		if err != nil {
			scanErr = err
			break
		}
		mu.Lock()
		out.Discovered++
		mu.Unlock()
		g.Go(func() error {
			obs := observe(chain, fi, path)
			f, outcome, err := deps.Files.RegisterOrUpdate(dbc, obs)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Error("register file failed", "path", path, "error", err)
				persist = multierr.Append(persist, fmt.Errorf("%s: %w", path, err))
				return nil
			}
			out.count(outcome)
			if outcome == files.OutcomeErrored {
				log.Warn("file registered in error", "path", path, "error", obs.Err)
			}
			if obs.Err == nil && f != nil && obs.ModTime != nil && obs.ModTime.After(maxMod) {
				maxMod = *obs.ModTime
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		scanErr = multierr.Append(scanErr, err)
	}

	if rep, ok := inst.(plugins.BadFileReporter); ok {
		for _, bad := range rep.BadFiles() {
			log.Warn("file rejected by scanner", "path", bad, "file_info_id", fi.ID)
			out.BadFiles = append(out.BadFiles, bad)
		}
	}

	if scanErr != nil {
		return multierr.Append(scanErr, persist)
	}
	if !maxMod.IsZero() {
		if err := deps.Files.AdvanceWatermark(dbc, fi.ID, maxMod); err != nil {
			persist = multierr.Append(persist, err)
		}
	}
	return persist
}

// candidates adapts either scanner flavour to a single sequence.
func candidates(ctx context.Context, inst any, since *time.Time) iter.Seq2[string, error] {
	if s, ok := inst.(plugins.StreamScanner); ok {
		return s.ScanStream(ctx, since)
	}
	s := inst.(plugins.Scanner)
	return func(yield func(string, error) bool) {
		paths, err := s.Scan(ctx, since)
		if err != nil {
			yield("", err)
			return
		}
		for _, p := range paths {
			if !yield(p, nil) {
				return
			}
		}
	}
}

func observe(chain *types.Chain, fi types.FileInfo, path string) files.Observation {
	obs := files.Observation{
		ChainID:    chain.ID,
		FileInfoID: fi.ID,
		Path:       path,
		Algorithm:  chain.ChecksumAlgorithm,
	}
	st, err := os.Stat(path)
	if err != nil {
		obs.Err = err
		return obs
	}
	mod := st.ModTime().UTC()
	obs.ModTime = &mod
	obs.Checksum, obs.Err = files.Checksum(path, chain.ChecksumAlgorithm)
	return obs
}
