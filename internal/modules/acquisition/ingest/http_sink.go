package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/regardsoss/dataprovider/internal/observability"
	"github.com/regardsoss/dataprovider/internal/pkg/httpx"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
	"github.com/regardsoss/dataprovider/internal/platform/envutil"
)

type HTTPConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	RatePerSec float64
	Burst      int
	SubmitPath string
	Backoff    httpx.Backoff
}

// LoadHTTPConfig reads INGEST_* variables.
func LoadHTTPConfig() HTTPConfig {
	return HTTPConfig{
		BaseURL:    strings.TrimRight(envutil.String("INGEST_URL", ""), "/"),
		Token:      envutil.String("INGEST_TOKEN", ""),
		Timeout:    envutil.Seconds("INGEST_TIMEOUT_SECONDS", 30*time.Second),
		MaxRetries: envutil.Int("INGEST_MAX_RETRIES", 3),
		RatePerSec: float64(envutil.Int("INGEST_RATE_PER_SECOND", 5)),
		Burst:      envutil.Int("INGEST_RATE_BURST", 1),
		SubmitPath: envutil.String("INGEST_SUBMIT_PATH", "/sips"),
		Backoff:    httpx.DefaultBackoff(),
	}
}

type httpSink struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	metrics *observability.Metrics
	log     *logger.Logger
}

// NewHTTPSink posts batches as JSON to BaseURL+SubmitPath and expects a BatchResult back.
func NewHTTPSink(cfg HTTPConfig, baseLog *logger.Logger) (Sink, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("missing INGEST_URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.SubmitPath == "" {
		cfg.SubmitPath = "/sips"
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = httpx.DefaultBackoff()
	}
	return &httpSink{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		metrics: observability.Current(),
		log:     baseLog.With("service", "IngestHTTPSink"),
	}, nil
}

type ingestHTTPError struct {
	StatusCode int
	Body       string
}

func (e *ingestHTTPError) Error() string {
	return fmt.Sprintf("ingest http %d: %s", e.StatusCode, e.Body)
}

func (e *ingestHTTPError) HTTPStatusCode() int { return e.StatusCode }

func (s *httpSink) Submit(ctx context.Context, batch Batch) (BatchResult, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return BatchResult{}, err
	}

	start := time.Now()
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return BatchResult{}, err
		}
		resp, raw, err := s.doOnce(ctx, body)
		if err == nil {
			var out BatchResult
			if uErr := json.Unmarshal(raw, &out); uErr != nil {
				s.observe("decode_error", start)
				return BatchResult{}, fmt.Errorf("ingest decode error: %w", uErr)
			}
			s.observe("ok", start)
			return out, nil
		}
		if !httpx.Retryable(err) || attempt == s.cfg.MaxRetries {
			s.observe("error", start)
			return BatchResult{}, err
		}

		sleepFor := s.cfg.Backoff.Delay(attempt, resp)
		s.log.Warn("ingest submission retrying",
			"batch", batch.ID,
			"ingest_chain", batch.IngestChain,
			"session", batch.Session,
			"attempt", attempt+1,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		if err := httpx.Sleep(ctx, sleepFor); err != nil {
			return BatchResult{}, err
		}
	}
	return BatchResult{}, fmt.Errorf("unreachable retry loop")
}

func (s *httpSink) doOnce(ctx context.Context, body []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+s.cfg.SubmitPath, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &ingestHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (s *httpSink) observe(status string, start time.Time) {
	s.metrics.ObserveIngestRequest(status, time.Since(start))
}
