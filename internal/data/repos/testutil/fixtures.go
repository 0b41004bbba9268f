package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	jobtypes "github.com/regardsoss/dataprovider/internal/domain/jobs"
)

// FileInfoSpec describes one FileInfo for SeedChain.
type FileInfoSpec struct {
	Mandatory bool
	ScanDir   string
}

// NewChain builds an unsaved MANUAL chain wired to the built-in plugins, one FileInfo per spec.
func NewChain(label string, specs ...FileInfoSpec) *types.Chain {
	if len(specs) == 0 {
		specs = []FileInfoSpec{{Mandatory: true}}
	}
	c := &types.Chain{
		Label:                  label,
		Active:                 true,
		Mode:                   types.ModeManual,
		IngestChain:            "DefaultIngestChain",
		ChecksumAlgorithm:      types.ChecksumMD5,
		SubmissionRetryEnabled: true,
		Validation:             types.PluginConf{PluginID: "readable"},
		Naming:                 types.PluginConf{PluginID: "strip-extension"},
		Generation:             types.PluginConf{PluginID: "default"},
	}
	for i, s := range specs {
		dir := s.ScanDir
		if dir == "" {
			dir = "/tmp"
		}
		c.FileInfos = append(c.FileInfos, types.FileInfo{
			Comment:    "info-" + string(rune('a'+i)),
			Mandatory:  s.Mandatory,
			MimeType:   "application/octet-stream",
			DataType:   "RAWDATA",
			ScanPlugin: types.PluginConf{PluginID: "glob", Params: datatypes.JSONMap{"dirs": []any{dir}}},
		})
	}
	return c
}

// SeedChain persists NewChain(label, specs...). FileInfo creation order matches specs.
func SeedChain(tb testing.TB, ctx context.Context, tx *gorm.DB, label string, specs ...FileInfoSpec) *types.Chain {
	tb.Helper()
	c := NewChain(label, specs...)
	base := time.Now().UTC().Add(-time.Minute)
	for i := range c.FileInfos {
		c.FileInfos[i].CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed chain: %v", err)
	}
	return c
}

func SeedProduct(tb testing.TB, ctx context.Context, tx *gorm.DB, chain *types.Chain, name, session string, state types.ProductState, sip types.SIPState) *types.Product {
	tb.Helper()
	p := &types.Product{
		Name:     name,
		ChainID:  chain.ID,
		Session:  session,
		State:    state,
		SIPState: sip,
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed product: %v", err)
	}
	return p
}

func SeedFile(tb testing.TB, ctx context.Context, tx *gorm.DB, chain *types.Chain, info types.FileInfo, path string, state types.FileState, productID *uuid.UUID) *types.File {
	tb.Helper()
	f := &types.File{
		ChainID:           chain.ID,
		FileInfoID:        info.ID,
		ProductID:         productID,
		FilePath:          path,
		State:             state,
		Checksum:          "d41d8cd98f00b204e9800998ecf8427e",
		ChecksumAlgorithm: types.ChecksumMD5,
	}
	if err := tx.WithContext(ctx).Create(f).Error; err != nil {
		tb.Fatalf("seed file: %v", err)
	}
	return f
}

func SeedJob(tb testing.TB, ctx context.Context, tx *gorm.DB, jobType string, status string) *jobtypes.JobRun {
	tb.Helper()
	j := &jobtypes.JobRun{
		JobType:     jobType,
		Status:      status,
		MaxAttempts: 1,
		Payload:     datatypes.JSON([]byte(`{}`)),
		Result:      datatypes.JSON([]byte(`{}`)),
	}
	if err := tx.WithContext(ctx).Create(j).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return j
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
