// Package mltransport provides the shared HTTP transport for the inference
// sidecar: classify, tokenize, detokenize, model-info and health.
package mltransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultTimeout = 5 * time.Second
	// maxResponseBytes bounds a single sidecar response.
	maxResponseBytes = 32 << 20
)

// Endpoint paths, also used as metric labels.
const (
	EndpointClassify   = "/classify"
	EndpointTokenize   = "/tokenize"
	EndpointDetokenize = "/detokenize"
	EndpointModelInfo  = "/model-info"
	EndpointHealth     = "/health"
)

// ClassifyRequest is the request body for POST /classify.
type ClassifyRequest struct {
	ModelPath string   `json:"model_path"`
	Device    int      `json:"device"`
	BatchSize int      `json:"batch_size"`
	Texts     []string `json:"texts"`
}

// Prediction is one entry of a classify response.
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// ClassifyResponse is the response body of POST /classify.
type ClassifyResponse struct {
	Results []Prediction `json:"results"`
}

// TokenizeRequest is the request body for POST /tokenize.
type TokenizeRequest struct {
	ModelPath string `json:"model_path"`
	Text      string `json:"text"`
}

type tokenizeResponse struct {
	IDs []int `json:"ids"`
}

// DetokenizeRequest is the request body for POST /detokenize.
type DetokenizeRequest struct {
	ModelPath string `json:"model_path"`
	IDs       []int  `json:"ids"`
}

type detokenizeResponse struct {
	Text string `json:"text"`
}

// ModelInfo is the response body of GET /model-info.
type ModelInfo struct {
	MaxPositionEmbeddings int    `json:"max_position_embeddings"`
	ModelVersion          string `json:"model_version"`
}

// healthResponse is the JSON shape returned by GET /health (model_version optional).
type healthResponse struct {
	ModelVersion string `json:"model_version"`
}

// StatusError is returned when the sidecar answers with a non-200 status.
type StatusError struct {
	Endpoint string
	Code     int
	Message  string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ml service %s returned %d", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("ml service %s returned %d: %s", e.Endpoint, e.Code, e.Message)
}

// IsServerError reports whether err is a 5xx answer from the sidecar.
func IsServerError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= http.StatusInternalServerError
}

// DoClassify sends POST /classify to baseURL with req, decoding the response into respPtr.
// respPtr must be a pointer to a struct that matches the ML service response (e.g. *ClassifyResponse).
// Latency is reported even when the call fails.
func DoClassify(ctx context.Context, baseURL string, req *ClassifyRequest, respPtr any) (latencyMs int64, responseSizeBytes int, err error) {
	return doJSON(ctx, http.MethodPost, baseURL+EndpointClassify, req, respPtr)
}

// DoTokenize sends POST /tokenize and returns the token ids.
func DoTokenize(ctx context.Context, baseURL string, req *TokenizeRequest) ([]int, error) {
	var resp tokenizeResponse
	if _, _, err := doJSON(ctx, http.MethodPost, baseURL+EndpointTokenize, req, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

// DoDetokenize sends POST /detokenize and returns the decoded text.
func DoDetokenize(ctx context.Context, baseURL string, req *DetokenizeRequest) (string, error) {
	var resp detokenizeResponse
	if _, _, err := doJSON(ctx, http.MethodPost, baseURL+EndpointDetokenize, req, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

// DoModelInfo calls GET /model-info for modelPath.
func DoModelInfo(ctx context.Context, baseURL, modelPath string) (*ModelInfo, error) {
	q := url.Values{"model_path": []string{modelPath}}
	var info ModelInfo
	if _, _, err := doJSON(ctx, http.MethodGet, baseURL+EndpointModelInfo+"?"+q.Encode(), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DoHealth calls GET /health at baseURL and returns reachable, latencyMs, model_version, and any error.
// A non-200 answer is reachable but unhealthy.
func DoHealth(ctx context.Context, baseURL string) (reachable bool, latencyMs int64, modelVersion string, err error) {
	start := time.Now()

	httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+EndpointHealth, http.NoBody)
	if reqErr != nil {
		return false, 0, "", fmt.Errorf("create request: %w", reqErr)
	}

	client := &http.Client{Timeout: defaultTimeout}
	resp, doErr := client.Do(httpReq)
	latencyMs = time.Since(start).Milliseconds()
	if doErr != nil {
		return false, latencyMs, "", fmt.Errorf("service unreachable: %w", doErr)
	}
	defer func() { _ = resp.Body.Close() }()

	reachable = true
	if resp.StatusCode != http.StatusOK {
		return reachable, latencyMs, "", fmt.Errorf("unhealthy status: %d", resp.StatusCode)
	}

	var healthResp healthResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&healthResp); decodeErr == nil {
		modelVersion = healthResp.ModelVersion
	}
	return reachable, latencyMs, modelVersion, nil
}

func doJSON(ctx context.Context, method, target string, reqBody, respPtr any) (latencyMs int64, size int, err error) {
	start := time.Now()
	defer func() { latencyMs = time.Since(start).Milliseconds() }()

	body := io.Reader(http.NoBody)
	if reqBody != nil {
		raw, marshalErr := json.Marshal(reqBody)
		if marshalErr != nil {
			return 0, 0, fmt.Errorf("marshal request: %w", marshalErr)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, 0, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: defaultTimeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return 0, 0, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, 0, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return 0, len(raw), &StatusError{
			Endpoint: httpReq.URL.Path,
			Code:     resp.StatusCode,
			Message:  gjson.GetBytes(raw, "error").String(),
		}
	}

	if decodeErr := json.Unmarshal(raw, respPtr); decodeErr != nil {
		return 0, len(raw), fmt.Errorf("decode response: %w", decodeErr)
	}
	return 0, len(raw), nil
}
