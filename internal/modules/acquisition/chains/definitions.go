package chains

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	apperr "github.com/regardsoss/dataprovider/internal/pkg/errors"
)

// Definition is the YAML form of a chain. One file holds one chain, keyed by label.
type Definition struct {
	Label           string           `yaml:"label"`
	Mode            types.ChainMode  `yaml:"mode"`
	Periodicity     *int64           `yaml:"periodicity,omitempty"`
	IngestChain     string           `yaml:"ingest_chain"`
	Dataset         string           `yaml:"dataset,omitempty"`
	Active          *bool            `yaml:"active,omitempty"`
	GenerationRetry *bool            `yaml:"generation_retry,omitempty"`
	SubmissionRetry *bool            `yaml:"submission_retry,omitempty"`
	Validation      types.PluginConf `yaml:"validation"`
	Naming          types.PluginConf `yaml:"naming"`
	Generation      types.PluginConf `yaml:"generation"`
	PostProcessing  types.PluginConf `yaml:"post_processing,omitempty"`
	FileInfos       []FileInfoDef    `yaml:"file_infos"`

	Source string `yaml:"-"`
}

type FileInfoDef struct {
	Comment   string           `yaml:"comment,omitempty"`
	Mandatory bool             `yaml:"mandatory"`
	MimeType  string           `yaml:"mime_type"`
	DataType  string           `yaml:"data_type"`
	Scan      types.PluginConf `yaml:"scan"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// Chain converts the definition. Chains are active unless stated otherwise; generation retry
// defaults to off and submission retry to on.
func (d Definition) Chain() *types.Chain {
	c := &types.Chain{
		Label:                  strings.TrimSpace(d.Label),
		Active:                 boolOr(d.Active, true),
		Mode:                   types.ChainMode(strings.ToUpper(string(d.Mode))),
		Periodicity:            d.Periodicity,
		IngestChain:            d.IngestChain,
		Dataset:                d.Dataset,
		ChecksumAlgorithm:      types.ChecksumMD5,
		GenerationRetryEnabled: boolOr(d.GenerationRetry, false),
		SubmissionRetryEnabled: boolOr(d.SubmissionRetry, true),
		Validation:             d.Validation,
		Naming:                 d.Naming,
		Generation:             d.Generation,
		PostProcessing:         d.PostProcessing,
	}
	if c.Mode == "" {
		c.Mode = types.ModeManual
	}
	for _, fi := range d.FileInfos {
		c.FileInfos = append(c.FileInfos, types.FileInfo{
			Comment:    fi.Comment,
			Mandatory:  fi.Mandatory,
			MimeType:   fi.MimeType,
			DataType:   fi.DataType,
			ScanPlugin: fi.Scan,
		})
	}
	return c
}

func ParseDefinition(data []byte) (Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Definition{}, fmt.Errorf("%w: %v", apperr.ErrInvalidArgument, err)
	}
	if strings.TrimSpace(d.Label) == "" {
		return Definition{}, fmt.Errorf("%w: definition has no label", apperr.ErrInvalidArgument)
	}
	return d, nil
}

func isDefinitionFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// LoadDefinitions reads every *.yaml / *.yml file of dir, sorted by file name. Unparseable files
// are reported in the returned error and skipped.
func LoadDefinitions(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var (
		out  []Definition
		errs error
	)
	for _, e := range entries {
		if e.IsDir() || !isDefinitionFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		d, err := ParseDefinition(data)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		d.Source = path
		out = append(out, d)
	}
	return out, errs
}

// SyncReport lists what Sync did per label.
type SyncReport struct {
	Created []string
	Updated []string
	Skipped []string
}

// Sync upserts chains by label. Existing FileInfos are matched by comment, then by position, so
// files already registered against them keep their reference. Running chains are skipped.
func (s *Service) Sync(dbc dbctx.Context, defs []Definition) (SyncReport, error) {
	var (
		report SyncReport
		errs   error
	)
	for _, d := range defs {
		chain := d.Chain()
		existing, err := s.chains.GetByLabel(dbc, chain.Label)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			if _, err := s.Create(dbc, chain); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("chain %s: %w", chain.Label, err))
				continue
			}
			report.Created = append(report.Created, chain.Label)
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("chain %s: %w", chain.Label, err))
		case existing.Running:
			s.log.Warn("definition skipped, chain is running", "chain", chain.Label, "source", d.Source)
			report.Skipped = append(report.Skipped, chain.Label)
		default:
			chain.ID = existing.ID
			chain.CreatedAt = existing.CreatedAt
			matchFileInfos(chain.FileInfos, existing.FileInfos)
			if _, err := s.Update(dbc, chain); err != nil {
				if errors.Is(err, apperr.ErrChainRunning) {
					report.Skipped = append(report.Skipped, chain.Label)
					continue
				}
				errs = multierr.Append(errs, fmt.Errorf("chain %s: %w", chain.Label, err))
				continue
			}
			report.Updated = append(report.Updated, chain.Label)
		}
	}
	return report, errs
}

func matchFileInfos(next, current []types.FileInfo) {
	used := make([]bool, len(current))
	byComment := map[string]int{}
	for i, fi := range current {
		if fi.Comment != "" {
			byComment[fi.Comment] = i
		}
	}
	take := func(dst *types.FileInfo, i int) {
		used[i] = true
		dst.ID = current[i].ID
		dst.LastModificationDate = current[i].LastModificationDate
	}
	for i := range next {
		if j, ok := byComment[next[i].Comment]; ok && next[i].Comment != "" && !used[j] {
			take(&next[i], j)
		}
	}
	for i := range next {
		if next[i].ID == uuid.Nil && next[i].Comment == "" && i < len(current) && !used[i] && current[i].Comment == "" {
			take(&next[i], i)
		}
	}
}
