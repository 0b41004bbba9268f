package steps

import (
	"time"

	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	"github.com/regardsoss/dataprovider/internal/observability"
)

const (
	defaultPageSize    = 500
	defaultConcurrency = 4
)

func observeStep(step string, started time.Time) {
	if m := observability.Current(); m != nil {
		m.ObserveStep(step, time.Since(started))
	}
}

func pageSize(n int) int {
	if n <= 0 {
		return defaultPageSize
	}
	return n
}

func chainLabel(c *types.Chain) string {
	if c == nil {
		return ""
	}
	return c.Label
}
