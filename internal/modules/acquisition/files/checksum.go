package files

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/regardsoss/dataprovider/internal/domain/acquisition"
)

// Checksum hashes the file at path with algorithm. Only MD5 is supported.
func Checksum(path string, algorithm string) (string, error) {
	if !strings.EqualFold(algorithm, acquisition.ChecksumMD5) {
		return "", fmt.Errorf("unsupported checksum algorithm %q", algorithm)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
