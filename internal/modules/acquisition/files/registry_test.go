package files

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/regardsoss/dataprovider/internal/data/repos"
	"github.com/regardsoss/dataprovider/internal/data/repos/testutil"
	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
)

type fixture struct {
	reg   *Registry
	set   repos.Set
	db    *gorm.DB
	dbc   dbctx.Context
	chain *types.Chain
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gdb := testutil.DB(t)
	set := repos.NewSet(gdb, testutil.Logger(t))
	ctx := context.Background()
	chain := testutil.SeedChain(t, ctx, gdb, "registry", testutil.FileInfoSpec{Mandatory: true})
	return fixture{
		reg:   NewRegistry(set.Files, set.Chains, testutil.Logger(t)),
		set:   set,
		db:    gdb,
		dbc:   dbctx.Context{Ctx: ctx},
		chain: chain,
	}
}

func TestRegisterTwiceUpdatesInPlace(t *testing.T) {
	fx := newFixture(t)
	reg, set, dbc, chain := fx.reg, fx.set, fx.dbc, fx.chain
	info := chain.FileInfos[0]

	first, outcome, err := reg.RegisterOrUpdate(dbc, Observation{ChainID: chain.ID, FileInfoID: info.ID, Path: "/in/a.nc", Checksum: "c1", Algorithm: types.ChecksumMD5})
	if err != nil || outcome != OutcomeCreated {
		t.Fatalf("first register: outcome=%s err=%v", outcome, err)
	}
	if first.State != types.FileInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", first.State)
	}
	if ok, err := reg.Mark(dbc, first.ID, []types.FileState{types.FileInProgress}, types.FileValid, ""); err != nil || !ok {
		t.Fatalf("Mark: ok=%v err=%v", ok, err)
	}

	second, outcome, err := reg.RegisterOrUpdate(dbc, Observation{ChainID: chain.ID, FileInfoID: info.ID, Path: "/in/a.nc", Checksum: "c2", Algorithm: types.ChecksumMD5})
	if err != nil || outcome != OutcomeUpdated {
		t.Fatalf("second register: outcome=%s err=%v", outcome, err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same row, got %s and %s", first.ID, second.ID)
	}

	rows, err := set.Files.GetByIDs(dbc, nil)
	if err != nil || len(rows) != 0 {
		t.Fatalf("GetByIDs(nil): %v %d", err, len(rows))
	}
	total, _ := reg.CountByChainAndStates(dbc, chain.ID)
	if total != 1 {
		t.Fatalf("expected exactly one row, got %d", total)
	}
	valid, _ := reg.CountByChainAndStates(dbc, chain.ID, types.FileValid)
	if valid != 1 {
		t.Fatalf("state must be preserved on update, VALID count=%d", valid)
	}
	stored, _ := set.Files.FindActiveByPath(dbc, info.ID, "/in/a.nc")
	if stored == nil || stored.Checksum != "c2" {
		t.Fatalf("checksum not refreshed: %+v", stored)
	}
}

func TestChecksumFailureIsolatedToFile(t *testing.T) {
	fx := newFixture(t)
	reg, dbc, chain := fx.reg, fx.dbc, fx.chain
	info := chain.FileInfos[0]
	boom := errors.New("permission denied")

	f, outcome, err := reg.RegisterOrUpdate(dbc, Observation{ChainID: chain.ID, FileInfoID: info.ID, Path: "/in/bad.nc", Err: boom})
	if err != nil || outcome != OutcomeErrored || f.State != types.FileError || f.Error == "" {
		t.Fatalf("expected ERROR row, got outcome=%s file=%+v err=%v", outcome, f, err)
	}
	if _, outcome, err := reg.RegisterOrUpdate(dbc, Observation{ChainID: chain.ID, FileInfoID: info.ID, Path: "/in/good.nc", Checksum: "x", Algorithm: types.ChecksumMD5}); err != nil || outcome != OutcomeCreated {
		t.Fatalf("sibling file must register: outcome=%s err=%v", outcome, err)
	}

	// An IN_PROGRESS record that later fails its checksum goes to ERROR.
	if _, outcome, _ := reg.RegisterOrUpdate(dbc, Observation{ChainID: chain.ID, FileInfoID: info.ID, Path: "/in/good.nc", Err: boom}); outcome != OutcomeErrored {
		t.Fatalf("expected errored, got %s", outcome)
	}

	n, err := reg.Retry(dbc, chain.ID)
	if err != nil || n != 2 {
		t.Fatalf("Retry: n=%d err=%v", n, err)
	}
	inProgress, _ := reg.CountByChainAndStates(dbc, chain.ID, types.FileInProgress)
	if inProgress != 2 {
		t.Fatalf("expected 2 IN_PROGRESS after retry, got %d", inProgress)
	}
}

func TestRepeatedFailureRefreshesErrorRow(t *testing.T) {
	fx := newFixture(t)
	reg, dbc, chain := fx.reg, fx.dbc, fx.chain
	info := chain.FileInfos[0]
	obs := Observation{ChainID: chain.ID, FileInfoID: info.ID, Path: "/in/locked.nc", Err: errors.New("permission denied")}

	first, outcome, err := reg.RegisterOrUpdate(dbc, obs)
	if err != nil || outcome != OutcomeErrored {
		t.Fatalf("first pass: outcome=%s err=%v", outcome, err)
	}

	obs.Err = errors.New("still locked")
	second, outcome, err := reg.RegisterOrUpdate(dbc, obs)
	if err != nil || outcome != OutcomeErrored {
		t.Fatalf("second pass: outcome=%s err=%v", outcome, err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the ERROR row to be reused, got %s and %s", first.ID, second.ID)
	}
	errored, _ := reg.CountByChainAndStates(dbc, chain.ID, types.FileError)
	if errored != 1 {
		t.Fatalf("expected one ERROR row, got %d", errored)
	}
	stored, err := fx.set.Files.FindLatestErrorByPath(dbc, info.ID, "/in/locked.nc")
	if err != nil || stored == nil || stored.Error != "still locked" {
		t.Fatalf("error message not refreshed: %+v err=%v", stored, err)
	}
}

func TestChecksumFailureKeepsAcquiredFile(t *testing.T) {
	fx := newFixture(t)
	reg, dbc, chain := fx.reg, fx.dbc, fx.chain
	info := chain.FileInfos[0]
	f := testutil.SeedFile(t, dbc.Context(), fx.db, chain, info, "/in/done.nc", types.FileAcquired, nil)

	got, outcome, err := reg.RegisterOrUpdate(dbc, Observation{ChainID: chain.ID, FileInfoID: info.ID, Path: "/in/done.nc", Err: errors.New("io")})
	if err != nil || outcome != OutcomeKept || got.ID != f.ID || got.State != types.FileAcquired {
		t.Fatalf("expected kept ACQUIRED file, got outcome=%s file=%+v err=%v", outcome, got, err)
	}
}

func TestForEachPageVisitsAll(t *testing.T) {
	fx := newFixture(t)
	reg, dbc, chain := fx.reg, fx.dbc, fx.chain
	info := chain.FileInfos[0]
	for _, p := range []string{"/a", "/b", "/c", "/d", "/e"} {
		if _, _, err := reg.RegisterOrUpdate(dbc, Observation{ChainID: chain.ID, FileInfoID: info.ID, Path: p, Checksum: "x", Algorithm: types.ChecksumMD5}); err != nil {
			t.Fatalf("register %s: %v", p, err)
		}
	}
	seen := 0
	err := reg.ForEachPage(dbc, info.ID, types.FileInProgress, 2, func(page []*types.File) error {
		for _, f := range page {
			seen++
			if _, err := reg.Mark(dbc, f.ID, []types.FileState{types.FileInProgress}, types.FileValid, ""); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || seen != 5 {
		t.Fatalf("ForEachPage: seen=%d err=%v", seen, err)
	}
}

func TestAdvanceWatermarkNeverMovesBack(t *testing.T) {
	fx := newFixture(t)
	reg, set, dbc, chain := fx.reg, fx.set, fx.dbc, fx.chain
	info := chain.FileInfos[0]
	later := time.Now().UTC().Truncate(time.Second)
	earlier := later.Add(-time.Hour)

	if err := reg.AdvanceWatermark(dbc, info.ID, later); err != nil {
		t.Fatalf("AdvanceWatermark: %v", err)
	}
	if err := reg.AdvanceWatermark(dbc, info.ID, earlier); err != nil {
		t.Fatalf("AdvanceWatermark: %v", err)
	}
	got, err := set.Chains.GetByID(dbc, chain.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	lmd := got.FileInfos[0].LastModificationDate
	if lmd == nil || !lmd.Equal(later) {
		t.Fatalf("watermark: want %v got %v", later, lmd)
	}
}

func TestChecksumMD5(t *testing.T) {
	p := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(p, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	sum, err := Checksum(p, "md5")
	if err != nil || sum != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Fatalf("Checksum: %s %v", sum, err)
	}
	if _, err := Checksum(p, "SHA-1"); err == nil {
		t.Fatalf("expected unsupported algorithm error")
	}
	if _, err := Checksum(filepath.Join(t.TempDir(), "missing"), types.ChecksumMD5); err == nil {
		t.Fatalf("expected missing file error")
	}
}
