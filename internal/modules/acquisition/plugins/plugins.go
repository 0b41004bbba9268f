package plugins

import (
	"context"
	"encoding/json"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/regardsoss/dataprovider/internal/domain/acquisition"
)

// Kind is the pipeline stage a plugin serves.
type Kind string

const (
	KindScan           Kind = "scan"
	KindValidation     Kind = "validation"
	KindNaming         Kind = "naming"
	KindGeneration     Kind = "generation"
	KindPostProcessing Kind = "post_processing"
)

// Params is the raw key/value configuration stored on a chain.
type Params = map[string]any

// Scanner lists candidate files strictly newer than since (nil means everything).
type Scanner interface {
	Scan(ctx context.Context, since *time.Time) ([]string, error)
}

// StreamScanner yields candidates lazily. The sequence is finite and cannot be resumed.
type StreamScanner interface {
	ScanStream(ctx context.Context, since *time.Time) iter.Seq2[string, error]
}

// BadFileReporter is implemented by scanners that also report rejected entries of the last scan.
type BadFileReporter interface {
	BadFiles() []string
}

type Validator interface {
	Validate(ctx context.Context, path string) (bool, error)
}

// FileInfoBinder is implemented by validators whose decision depends on the FileInfo being checked.
type FileInfoBinder interface {
	BindFileInfo(info acquisition.FileInfo) Validator
}

type ProductNamer interface {
	ProductName(ctx context.Context, path string) (string, error)
}

// SIPInput is everything a generator may read. Files are the product's ACQUIRED files.
type SIPInput struct {
	Chain     *acquisition.Chain
	Product   *acquisition.Product
	Files     []*acquisition.File
	FileInfos map[uuid.UUID]acquisition.FileInfo
	Dataset   string
}

type SipGenerator interface {
	Generate(ctx context.Context, in SIPInput) (json.RawMessage, error)
}

type PostProcessor interface {
	PostProcess(ctx context.Context, product *acquisition.Product, files []*acquisition.File) error
}

type ScannerFunc func(ctx context.Context, since *time.Time) ([]string, error)

func (f ScannerFunc) Scan(ctx context.Context, since *time.Time) ([]string, error) {
	return f(ctx, since)
}

type ValidatorFunc func(ctx context.Context, path string) (bool, error)

func (f ValidatorFunc) Validate(ctx context.Context, path string) (bool, error) { return f(ctx, path) }

type NamerFunc func(ctx context.Context, path string) (string, error)

func (f NamerFunc) ProductName(ctx context.Context, path string) (string, error) { return f(ctx, path) }

type GeneratorFunc func(ctx context.Context, in SIPInput) (json.RawMessage, error)

func (f GeneratorFunc) Generate(ctx context.Context, in SIPInput) (json.RawMessage, error) {
	return f(ctx, in)
}

type PostProcessorFunc func(ctx context.Context, product *acquisition.Product, files []*acquisition.File) error

func (f PostProcessorFunc) PostProcess(ctx context.Context, product *acquisition.Product, files []*acquisition.File) error {
	return f(ctx, product, files)
}
