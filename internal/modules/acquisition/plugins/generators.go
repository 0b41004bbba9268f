package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/regardsoss/dataprovider/internal/domain/acquisition"
)

// SIP is the package built by the default generator.
type SIP struct {
	ID          string            `json:"id"`
	IPType      string            `json:"ip_type"`
	Session     string            `json:"session"`
	IngestChain string            `json:"ingest_chain"`
	Dataset     string            `json:"dataset,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
	Files       []SIPFile         `json:"files"`
	CreatedAt   time.Time         `json:"created_at"`
}

type SIPFile struct {
	Filename          string `json:"filename"`
	URL               string `json:"url"`
	Checksum          string `json:"checksum"`
	ChecksumAlgorithm string `json:"checksum_algorithm"`
	MimeType          string `json:"mime_type"`
	DataType          string `json:"data_type"`
}

type defaultSIPConfig struct {
	IPType     string            `json:"ip_type" validate:"required,oneof=DATA DATASET COLLECTION"`
	Tags       []string          `json:"tags"`
	Properties map[string]string `json:"properties"`
}

type defaultGenerator struct {
	cfg defaultSIPConfig
}

func newDefaultGenerator(params Params) (any, error) {
	cfg := defaultSIPConfig{IPType: "DATA"}
	if err := Decode(params, &cfg); err != nil {
		return nil, err
	}
	return &defaultGenerator{cfg: cfg}, nil
}

func (g *defaultGenerator) Generate(ctx context.Context, in SIPInput) (json.RawMessage, error) {
	if in.Product == nil {
		return nil, fmt.Errorf("no product")
	}
	if len(in.Files) == 0 {
		return nil, fmt.Errorf("product %s has no acquired file", in.Product.Name)
	}
	sip := SIP{
		ID:         in.Product.Name,
		IPType:     g.cfg.IPType,
		Session:    in.Product.Session,
		Dataset:    in.Dataset,
		Tags:       g.cfg.Tags,
		Properties: g.cfg.Properties,
		CreatedAt:  time.Now().UTC(),
	}
	if in.Chain != nil {
		sip.IngestChain = in.Chain.IngestChain
	}
	for _, f := range in.Files {
		if f.Checksum == "" {
			return nil, fmt.Errorf("file %s has no checksum", f.FilePath)
		}
		fi := in.FileInfos[f.FileInfoID]
		sip.Files = append(sip.Files, SIPFile{
			Filename:          filepath.Base(f.FilePath),
			URL:               "file://" + filepath.ToSlash(f.FilePath),
			Checksum:          f.Checksum,
			ChecksumAlgorithm: f.ChecksumAlgorithm,
			MimeType:          fi.MimeType,
			DataType:          fi.DataType,
		})
	}
	return json.Marshal(sip)
}

type noopPostProcessor struct{}

func newNoopPostProcessor(params Params) (any, error) { return noopPostProcessor{}, nil }

func (noopPostProcessor) PostProcess(ctx context.Context, product *acquisition.Product, files []*acquisition.File) error {
	return nil
}

type moveConfig struct {
	TargetDir string `json:"target_dir" validate:"required"`
}

// movePostProcessor moves acquired files under target_dir/<product name>/.
type movePostProcessor struct {
	target string
}

func newMovePostProcessor(params Params) (any, error) {
	var cfg moveConfig
	if err := Decode(params, &cfg); err != nil {
		return nil, err
	}
	return &movePostProcessor{target: cfg.TargetDir}, nil
}

func (p *movePostProcessor) PostProcess(ctx context.Context, product *acquisition.Product, files []*acquisition.File) error {
	dir := filepath.Join(p.target, product.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst := filepath.Join(dir, filepath.Base(f.FilePath))
		if err := os.Rename(f.FilePath, dst); err != nil {
			return fmt.Errorf("move %s: %w", f.FilePath, err)
		}
	}
	return nil
}
