package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regardsoss/dataprovider/internal/data/repos/testutil"
	"github.com/regardsoss/dataprovider/internal/observability"
	"github.com/regardsoss/dataprovider/internal/pkg/httpx"
)

func TestHTTPSinkRetriesThenDecodes(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/sips", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if n == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var b Batch
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&b)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		out := BatchResult{}
		for _, s := range b.SIPs {
			if s.ProductName == "bad" {
				out.Results = append(out.Results, Result{ProductName: s.ProductName, Error: "rejected"})
				continue
			}
			out.Results = append(out.Results, Result{ProductName: s.ProductName, Accepted: true})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(HTTPConfig{BaseURL: srv.URL, Token: "secret", Timeout: 5 * time.Second, MaxRetries: 2, Backoff: httpx.Backoff{Base: 10 * time.Millisecond}}, testutil.Logger(t))
	require.NoError(t, err)

	res, err := sink.Submit(context.Background(), Batch{
		ID:          uuid.New(),
		IngestChain: "ic",
		Session:     "s",
		SIPs:        []SIP{{ProductName: "good"}, {ProductName: "bad"}},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	byName := res.ByProduct()
	assert.True(t, byName["good"].Accepted)
	assert.False(t, byName["bad"].Accepted)
	assert.Equal(t, "rejected", byName["bad"].Error)
}

func TestHTTPSinkDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(HTTPConfig{BaseURL: srv.URL, MaxRetries: 3}, testutil.Logger(t))
	require.NoError(t, err)
	_, err = sink.Submit(context.Background(), Batch{ID: uuid.New()})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestNewHTTPSinkRequiresURL(t *testing.T) {
	_, err := NewHTTPSink(HTTPConfig{}, testutil.Logger(t))
	require.Error(t, err)
}

func TestHTTPSinkObservesOncePerSubmission(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(BatchResult{})
	}))
	defer srv.Close()

	s, err := NewHTTPSink(HTTPConfig{BaseURL: srv.URL, MaxRetries: 2, Backoff: httpx.Backoff{Base: time.Millisecond}}, testutil.Logger(t))
	require.NoError(t, err)
	m := observability.NewMetrics()
	s.(*httpSink).metrics = m

	_, err = s.Submit(context.Background(), Batch{ID: uuid.New()})
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `dataprovider_ingest_requests_total{status="ok"} 1`)
	assert.NotContains(t, rec.Body.String(), `dataprovider_ingest_requests_total{status="error"}`)
}
