package plugins

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/regardsoss/dataprovider/internal/domain/acquisition"
	apperr "github.com/regardsoss/dataprovider/internal/pkg/errors"
)

func conf(id string, params map[string]any) acquisition.PluginConf {
	return acquisition.PluginConf{PluginID: id, Params: datatypes.JSONMap(params)}
}

func writeFile(t *testing.T, dir, name, content string, mtime time.Time) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(p, mtime, mtime))
	return p
}

func TestRegistryResolution(t *testing.T) {
	r := NewDefaultRegistry()

	_, err := r.Validator(conf("nope", nil))
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = r.Validator(conf(NameStripExt, nil))
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "not validation")

	err = r.Check(KindScan, conf(ScanGlob, nil))
	require.ErrorIs(t, err, apperr.ErrInvalidArgument, "glob requires dirs")

	require.NoError(t, r.Check(KindScan, conf(ScanGlob, map[string]any{"dirs": []any{"/tmp"}})))
	require.Error(t, r.Register(Definition{ID: ScanGlob, Kind: KindScan, New: newGlobScanner}))

	var kinds []Kind
	for _, d := range r.List() {
		kinds = append(kinds, d.Kind)
	}
	assert.Contains(t, kinds, KindPostProcessing)
}

func TestGlobScannerHonoursWatermark(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	writeFile(t, dir, "old.nc", "x", base)
	newer := writeFile(t, dir, "new.nc", "y", base.Add(10*time.Minute))
	writeFile(t, dir, "skip.txt", "z", base.Add(10*time.Minute))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	nested := writeFile(t, filepath.Join(dir, "sub"), "nested.nc", "w", base.Add(20*time.Minute))

	inst, err := newGlobScanner(Params{"dirs": []any{dir}, "pattern": "*.nc"})
	require.NoError(t, err)
	s := inst.(*globScanner)

	all, err := s.Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	since := base
	got, err := s.Scan(context.Background(), &since)
	require.NoError(t, err)
	assert.Equal(t, []string{newer}, got)

	inst, err = newGlobScanner(Params{"dirs": []any{dir}, "pattern": "*.nc", "recursive": true})
	require.NoError(t, err)
	var streamed []string
	for p, err := range inst.(StreamScanner).ScanStream(context.Background(), &since) {
		require.NoError(t, err)
		streamed = append(streamed, p)
	}
	assert.ElementsMatch(t, []string{newer, nested}, streamed)
}

func TestGlobScannerStreamStopsEarly(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	for _, n := range []string{"a.nc", "b.nc", "c.nc"} {
		writeFile(t, dir, n, n, now)
	}
	inst, err := newGlobScanner(Params{"dirs": []any{dir}})
	require.NoError(t, err)
	count := 0
	for range inst.(StreamScanner).ScanStream(context.Background(), nil) {
		count++
		if count == 1 {
			break
		}
	}
	assert.Equal(t, 1, count)
}

func TestStreamScannerWalksRecursively(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	top := writeFile(t, dir, "top.dat", "x", now)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub", "deeper"), 0o755))
	deep := writeFile(t, filepath.Join(dir, "sub", "deeper"), "deep.bin", "y", now)

	r := NewDefaultRegistry()
	require.ErrorIs(t, r.Check(KindScan, conf(ScanStream, nil)), apperr.ErrInvalidArgument)

	inst, err := newStreamScanner(Params{"dirs": []any{dir}})
	require.NoError(t, err)
	var seen []string
	for path, err := range inst.(StreamScanner).ScanStream(context.Background(), nil) {
		require.NoError(t, err)
		seen = append(seen, path)
	}
	assert.ElementsMatch(t, []string{top, deep}, seen)
}

func TestRegexScannerReportsBadFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	good := writeFile(t, dir, "JA3_GPN_2PdP001_001.nc", "a", now)
	bad := writeFile(t, dir, "readme.md", "b", now)

	inst, err := newRegexScanner(Params{"dir": dir, "pattern": `^JA3_.*\.nc$`})
	require.NoError(t, err)
	s := inst.(*regexScanner)
	got, err := s.Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{good}, got)
	assert.Equal(t, []string{bad}, s.BadFiles())

	_, err = newRegexScanner(Params{"dir": dir, "pattern": "("})
	require.Error(t, err)
}

func TestNamers(t *testing.T) {
	ctx := context.Background()
	inst, err := newStripExtensionNamer(nil)
	require.NoError(t, err)
	n := inst.(ProductNamer)

	name, err := n.ProductName(ctx, "/data/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a", name)

	name, err = n.ProductName(ctx, "/data/archive.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, "archive.tar", name)

	long := strings.Repeat("x", 200) + ".nc"
	name, err = n.ProductName(ctx, "/data/"+long)
	require.NoError(t, err)
	assert.Len(t, name, acquisition.MaxProductNameLength)

	accented := strings.Repeat("a", acquisition.MaxProductNameLength-1) + "éb.nc"
	name, err = n.ProductName(ctx, "/data/"+accented)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(name))
	assert.Equal(t, strings.Repeat("a", acquisition.MaxProductNameLength-1), name)

	_, err = newStripExtensionNamer(Params{"max_length": 500})
	require.Error(t, err)

	inst, err = newRegexGroupNamer(Params{"pattern": `^(JA3_[A-Z]+)_.*$`})
	require.NoError(t, err)
	name, err = inst.(ProductNamer).ProductName(ctx, "/in/JA3_GPN_2PdP001.nc")
	require.NoError(t, err)
	assert.Equal(t, "JA3_GPN", name)

	_, err = inst.(ProductNamer).ProductName(ctx, "/in/other.nc")
	require.Error(t, err)

	_, err = newRegexGroupNamer(Params{"pattern": `^abc$`, "group": 2})
	require.Error(t, err)
}

func TestValidators(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	txt := writeFile(t, dir, "a.txt", "hello world\n", time.Now())

	ok, err := readableValidator{}.Validate(ctx, txt)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = readableValidator{}.Validate(ctx, filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = readableValidator{}.Validate(ctx, dir)
	require.NoError(t, err)
	assert.False(t, ok)

	inst, err := newMimeValidator(Params{"mime_types": []any{"text/plain"}})
	require.NoError(t, err)
	ok, err = inst.(Validator).Validate(ctx, txt)
	require.NoError(t, err)
	assert.True(t, ok)

	inst, err = newMimeValidator(Params{"mime_types": []any{"application/x-netcdf"}})
	require.NoError(t, err)
	ok, err = inst.(Validator).Validate(ctx, txt)
	require.NoError(t, err)
	assert.False(t, ok)

	inst, err = newMimeValidator(nil)
	require.NoError(t, err)
	_, err = inst.(Validator).Validate(ctx, txt)
	require.Error(t, err, "unbound validator has nothing to compare with")
	bound := inst.(FileInfoBinder).BindFileInfo(acquisition.FileInfo{MimeType: "text/plain"})
	ok, err = bound.Validate(ctx, txt)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = newMimeValidator(Params{"mime_types": []any{""}})
	require.Error(t, err)
}

func TestDefaultGenerator(t *testing.T) {
	fiID := uuid.New()
	inst, err := newDefaultGenerator(Params{"tags": []any{"JASON3"}})
	require.NoError(t, err)
	raw, err := inst.(SipGenerator).Generate(context.Background(), SIPInput{
		Chain:   &acquisition.Chain{IngestChain: "DefaultIngestChain"},
		Product: &acquisition.Product{Name: "P1", Session: "s1"},
		Files: []*acquisition.File{
			{FileInfoID: fiID, FilePath: "/data/a.nc", Checksum: "abc", ChecksumAlgorithm: acquisition.ChecksumMD5},
		},
		FileInfos: map[uuid.UUID]acquisition.FileInfo{fiID: {MimeType: "application/x-netcdf", DataType: "RAWDATA"}},
		Dataset:   "URN:DATASET:1",
	})
	require.NoError(t, err)

	var sip SIP
	require.NoError(t, json.Unmarshal(raw, &sip))
	assert.Equal(t, "P1", sip.ID)
	assert.Equal(t, "DATA", sip.IPType)
	assert.Equal(t, "DefaultIngestChain", sip.IngestChain)
	assert.Equal(t, "URN:DATASET:1", sip.Dataset)
	require.Len(t, sip.Files, 1)
	assert.Equal(t, "a.nc", sip.Files[0].Filename)
	assert.Equal(t, "RAWDATA", sip.Files[0].DataType)

	_, err = inst.(SipGenerator).Generate(context.Background(), SIPInput{Product: &acquisition.Product{Name: "empty"}})
	require.Error(t, err)

	_, err = newDefaultGenerator(Params{"ip_type": "OTHER"})
	require.Error(t, err)
}

func TestMovePostProcessor(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	p := writeFile(t, src, "a.nc", "a", time.Now())

	inst, err := newMovePostProcessor(Params{"target_dir": dst})
	require.NoError(t, err)
	err = inst.(PostProcessor).PostProcess(context.Background(), &acquisition.Product{Name: "P"}, []*acquisition.File{{FilePath: p}})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dst, "P", "a.nc"))
	require.NoError(t, err)
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))
}
