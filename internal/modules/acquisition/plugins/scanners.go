package plugins

import (
	"context"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

type globConfig struct {
	Dirs      []string `json:"dirs" validate:"required,min=1,dive,required"`
	Pattern   string   `json:"pattern"`
	Recursive bool     `json:"recursive"`
}

// globScanner lists regular files whose base name matches a glob pattern.
type globScanner struct {
	cfg globConfig
}

func newGlobScanner(params Params) (any, error) {
	cfg := globConfig{Pattern: "*"}
	if err := Decode(params, &cfg); err != nil {
		return nil, err
	}
	if _, err := filepath.Match(cfg.Pattern, ""); err != nil {
		return nil, err
	}
	return &globScanner{cfg: cfg}, nil
}

func (s *globScanner) Scan(ctx context.Context, since *time.Time) ([]string, error) {
	var out []string
	for path, err := range s.ScanStream(ctx, since) {
		if err != nil {
			return nil, err
		}
		out = append(out, path)
	}
	sort.Strings(out)
	return out, nil
}

func (s *globScanner) ScanStream(ctx context.Context, since *time.Time) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, dir := range s.cfg.Dirs {
			stop := false
			err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if cerr := ctx.Err(); cerr != nil {
					return cerr
				}
				if d.IsDir() {
					if path != dir && !s.cfg.Recursive {
						return filepath.SkipDir
					}
					return nil
				}
				if ok, _ := filepath.Match(s.cfg.Pattern, d.Name()); !ok {
					return nil
				}
				if !newerRegular(d, since) {
					return nil
				}
				if !yield(path, nil) {
					stop = true
					return filepath.SkipAll
				}
				return nil
			})
			if stop {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
		}
	}
}

type streamConfig struct {
	Dirs []string `json:"dirs" validate:"required,min=1,dive,required"`
}

// newStreamScanner walks every file under dirs recursively, yielding paths as they are found.
func newStreamScanner(params Params) (any, error) {
	var cfg streamConfig
	if err := Decode(params, &cfg); err != nil {
		return nil, err
	}
	return &globScanner{cfg: globConfig{Dirs: cfg.Dirs, Pattern: "*", Recursive: true}}, nil
}

type regexConfig struct {
	Dir     string `json:"dir" validate:"required"`
	Pattern string `json:"pattern" validate:"required"`
}

// regexScanner lists one directory. Entries not matching the pattern are kept as bad files.
type regexScanner struct {
	dir     string
	pattern *regexp.Regexp
	bad     []string
}

func newRegexScanner(params Params) (any, error) {
	var cfg regexConfig
	if err := Decode(params, &cfg); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, err
	}
	return &regexScanner{dir: cfg.Dir, pattern: re}, nil
}

func (s *regexScanner) Scan(ctx context.Context, since *time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	s.bad = nil
	var out []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if !s.pattern.MatchString(e.Name()) {
			s.bad = append(s.bad, path)
			continue
		}
		if newerRegular(e, since) {
			out = append(out, path)
		}
	}
	return out, nil
}

func (s *regexScanner) BadFiles() []string { return s.bad }

func newerRegular(d fs.DirEntry, since *time.Time) bool {
	info, err := d.Info()
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return since == nil || info.ModTime().After(*since)
}
