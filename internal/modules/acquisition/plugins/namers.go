package plugins

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/regardsoss/dataprovider/internal/domain/acquisition"
)

type stripConfig struct {
	MaxLength int `json:"max_length" validate:"min=1,max=128"`
}

// stripExtensionNamer names a product after the file name without its last extension.
type stripExtensionNamer struct {
	max int
}

func newStripExtensionNamer(params Params) (any, error) {
	cfg := stripConfig{MaxLength: acquisition.MaxProductNameLength}
	if err := Decode(params, &cfg); err != nil {
		return nil, err
	}
	return &stripExtensionNamer{max: cfg.MaxLength}, nil
}

func (n *stripExtensionNamer) ProductName(ctx context.Context, path string) (string, error) {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("cannot derive a product name from %q", path)
	}
	return acquisition.Truncate(name, n.max), nil
}

type regexGroupConfig struct {
	Pattern string `json:"pattern" validate:"required"`
	Group   int    `json:"group" validate:"min=0"`
}

// regexGroupNamer uses a capture group of the pattern, matched on the file base name.
type regexGroupNamer struct {
	re    *regexp.Regexp
	group int
}

func newRegexGroupNamer(params Params) (any, error) {
	cfg := regexGroupConfig{Group: 1}
	if err := Decode(params, &cfg); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, err
	}
	if cfg.Group > re.NumSubexp() {
		return nil, fmt.Errorf("pattern has %d groups, group %d requested", re.NumSubexp(), cfg.Group)
	}
	return &regexGroupNamer{re: re, group: cfg.Group}, nil
}

func (n *regexGroupNamer) ProductName(ctx context.Context, path string) (string, error) {
	base := filepath.Base(path)
	m := n.re.FindStringSubmatch(base)
	if m == nil {
		return "", fmt.Errorf("file name %q does not match %s", base, n.re.String())
	}
	name := m[n.group]
	if name == "" {
		return "", fmt.Errorf("empty product name for %q", base)
	}
	if len(name) > acquisition.MaxProductNameLength {
		name = name[:acquisition.MaxProductNameLength]
	}
	return name, nil
}
