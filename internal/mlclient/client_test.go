package mlclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/guardrail/infrastructure/circuitbreaker"
	"github.com/jonesrussell/north-cloud/guardrail/infrastructure/retry"
	"github.com/jonesrussell/north-cloud/guardrail/internal/guardrail"
	"github.com/jonesrussell/north-cloud/guardrail/internal/mlclient"
	"github.com/jonesrussell/north-cloud/guardrail/internal/mltransport"
	"github.com/jonesrussell/north-cloud/guardrail/internal/tokenizer"
)

var (
	_ guardrail.Classifier = (*mlclient.Client)(nil)
	_ tokenizer.Tokenizer  = (*mlclient.Client)(nil)
)

func newClient(url string) *mlclient.Client {
	return mlclient.NewClient(mlclient.Config{
		BaseURL:   url,
		ModelPath: "/models/guard",
		Device:    guardrail.DeviceCPU,
		Timeout:   2 * time.Second,
		Breaker:   circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Minute},
		Retry:     retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
}

func TestClient_ClassifyBatch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/classify", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req mltransport.ClassifyRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/models/guard", req.ModelPath)
		assert.Equal(t, -1, req.Device)
		assert.Equal(t, 64, req.BatchSize)
		assert.Equal(t, []string{"first window", "second window"}, req.Texts)

		resp := mltransport.ClassifyResponse{Results: []mltransport.Prediction{
			{Label: "safe", Score: 0.97},
			{Label: "unsafe", Score: 0.81},
		}}
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	preds, err := newClient(server.URL).ClassifyBatch(context.Background(), []string{"first window", "second window"}, 64)
	require.NoError(t, err)
	assert.Equal(t, []guardrail.Prediction{{Label: "safe", Score: 0.97}, {Label: "unsafe", Score: 0.81}}, preds)
}

func TestClient_ServerErrorsOpenCircuit(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newClient(server.URL)
	for range 2 {
		_, err := client.ClassifyBatch(context.Background(), []string{"x"}, 1)
		require.Error(t, err)
	}

	_, err := client.ClassifyBatch(context.Background(), []string{"x"}, 1)
	require.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_ClientErrorsDoNotOpenCircuit(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := newClient(server.URL)
	for range 4 {
		_, err := client.ClassifyBatch(context.Background(), []string{"x"}, 1)
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	}
	assert.Equal(t, int32(4), hits.Load())
}

func TestClient_EncodeDecode(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tokenize":
			_, _ = w.Write([]byte(`{"ids":[5,6,7]}`))
		case "/detokenize":
			_, _ = w.Write([]byte(`{"text":"five six seven"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newClient(server.URL)
	ids, err := client.Encode(context.Background(), "five six seven")
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6, 7}, ids)

	text, err := client.Decode(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, "five six seven", text)
}

func TestClient_MaxLengthRetriesAndCaches(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/model-info", r.URL.Path)
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"max_position_embeddings":512,"model_version":"v1"}`))
	}))
	defer server.Close()

	client := newClient(server.URL)
	limit, err := client.MaxLength(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 512, limit)

	limit, err = client.MaxLength(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 512, limit)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_MaxLengthRejectsEmptyInfo(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"model_version":"v1"}`))
	}))
	defer server.Close()

	_, err := newClient(server.URL).MaxLength(context.Background())
	require.ErrorIs(t, err, mlclient.ErrInvalidModelInfo)
}

func TestClient_Health(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	require.NoError(t, newClient(server.URL).Health(context.Background()))
}

func TestClient_HealthUnhealthy(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := newClient(server.URL).Health(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, mlclient.ErrUnavailable)
}

func TestClient_HealthUnreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	err := newClient(url).Health(context.Background())
	require.ErrorIs(t, err, mlclient.ErrUnavailable)
}
