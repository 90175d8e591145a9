package mlhealth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/guardrail/internal/mlhealth"
	"github.com/jonesrussell/north-cloud/guardrail/internal/telemetry"
)

func TestCheck_WrapsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	reachable, _, _, err := mlhealth.Check(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ml health check")
	assert.True(t, reachable)
}

func TestCheckAll(t *testing.T) {
	t.Parallel()

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"model_version":"herbert-guard-v3"}`))
	}))
	defer up.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	tp := telemetry.NewProvider(prometheus.NewRegistry())
	report := mlhealth.CheckAll(context.Background(), []string{up.URL, down.URL}, tp)

	require.Len(t, report, 2)
	assert.Equal(t, up.URL, report[0].URL)
	assert.True(t, report[0].Reachable)
	assert.True(t, report[0].Healthy)
	assert.Equal(t, "herbert-guard-v3", report[0].ModelVersion)
	assert.Empty(t, report[0].Error)
	assert.False(t, report[0].LastChecked.IsZero())

	assert.Equal(t, down.URL, report[1].URL)
	assert.True(t, report[1].Reachable)
	assert.False(t, report[1].Healthy)
	assert.NotEmpty(t, report[1].Error)

	assert.InDelta(t, 1.0, testutil.ToFloat64(tp.Metrics.SidecarUp.WithLabelValues(up.URL)), 0)
	assert.InDelta(t, 0.0, testutil.ToFloat64(tp.Metrics.SidecarUp.WithLabelValues(down.URL)), 0)
}

func TestCheckAll_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	report := mlhealth.CheckAll(context.Background(), []string{url}, nil)
	require.Len(t, report, 1)
	assert.False(t, report[0].Reachable)
	assert.False(t, report[0].Healthy)
	assert.Contains(t, report[0].Error, "unreachable")
}
