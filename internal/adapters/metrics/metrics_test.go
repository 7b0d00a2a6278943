package metrics_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/blitzrace/internal/adapters/metrics"
	"github.com/alejandrodnm/blitzrace/internal/domain"
)

func TestMetrics_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveCall(domain.OpSettle, nil)
	m.ObserveCall(domain.OpSettle, fmt.Errorf("x: %w", domain.ErrAlreadySettled))
	m.ObserveCall(domain.OpSettle, domain.ErrAlreadySettled)
	m.ObserveSubmit("k1", domain.OpUpdatePositions, domain.NewTransportError("submit", errors.New("eof")))
	m.ObserveSubscriberDropped()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["blitz_ledger_calls_total"])
	assert.True(t, names["blitz_keeper_submits_total"])

	n, err := testutil.GatherAndCount(reg, "blitz_ledger_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per (op, result)")
	n, err = testutil.GatherAndCount(reg, "blitz_event_subscribers_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandler_HealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SetLedger(12, 3, 4.5, 0)

	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(metrics.Handler(reg, func(context.Context) error {
		if !healthy.Load() {
			return errors.New("ledger stopped")
		}
		return nil
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	healthy.Store(false)
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "blitz_ledger_seq 12")
	assert.Contains(t, string(body), "blitz_round_id 3")
}
