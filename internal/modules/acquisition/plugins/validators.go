package plugins

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/regardsoss/dataprovider/internal/domain/acquisition"
)

// readableValidator accepts existing regular files that can be opened.
type readableValidator struct{}

func newReadableValidator(params Params) (any, error) { return readableValidator{}, nil }

func (readableValidator) Validate(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return false, nil
	}
	_ = f.Close()
	return true, nil
}

type mimeConfig struct {
	MimeTypes []string `json:"mime_types" validate:"omitempty,dive,required"`
}

// mimeValidator sniffs the content type and accepts the configured MIME types (or their parents).
// Without configured types it accepts the MIME type of the FileInfo it is bound to.
type mimeValidator struct {
	allowed []string
}

func newMimeValidator(params Params) (any, error) {
	var cfg mimeConfig
	if err := Decode(params, &cfg); err != nil {
		return nil, err
	}
	return &mimeValidator{allowed: cfg.MimeTypes}, nil
}

func (v *mimeValidator) BindFileInfo(info acquisition.FileInfo) Validator {
	if len(v.allowed) > 0 || info.MimeType == "" {
		return v
	}
	return &mimeValidator{allowed: []string{info.MimeType}}
}

func (v *mimeValidator) Validate(ctx context.Context, path string) (bool, error) {
	if len(v.allowed) == 0 {
		return false, fmt.Errorf("no MIME type to check against")
	}
	mt, err := mimetype.DetectFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for m := mt; m != nil; m = m.Parent() {
		for _, want := range v.allowed {
			if m.Is(strings.TrimSpace(want)) {
				return true, nil
			}
		}
	}
	return false, nil
}
