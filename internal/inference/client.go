// Package inference is the HTTP client for the model inference server.
//
// The server exposes a small REST surface (/api/model/health,
// /api/model/predict_address, /api/model/predict_transaction) and may be
// slow or down at any time. The client retries transient failures with
// backoff and trips a circuit breaker after repeated failures so the
// dispatcher can fall back to the rule engine without waiting out the
// full timeout on every request.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethersentinel/sentinel/internal/circuitbreaker"
	"github.com/ethersentinel/sentinel/internal/retry"
	"github.com/ethersentinel/sentinel/internal/risk"
)

const (
	// DefaultTimeout bounds a single model evaluation end to end.
	DefaultTimeout = 60 * time.Second

	// Transient failures are retried this many times with this base delay.
	defaultMaxAttempts = 3
	defaultRetryDelay  = 1 * time.Second

	breakerBackend = "model"

	userAgent = "EtherSentinel/1.0"
)

// ErrModelUnavailable is returned when the circuit breaker is open or the
// model reports itself unhealthy.
var ErrModelUnavailable = errors.New("model backend unavailable")

// Client evaluates targets against the model backend.
type Client interface {
	// Evaluate scores one target. Returns an error when the backend is
	// unreachable, unhealthy, or returns a malformed response.
	Evaluate(ctx context.Context, target risk.Target, opts risk.EvaluationOptions) (*risk.Verdict, error)
	// Health probes the backend without evaluating anything.
	Health(ctx context.Context) (*HealthStatus, error)
}

// HealthStatus is the model server's health report.
type HealthStatus struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
}

// Healthy reports whether the backend can serve predictions.
func (h *HealthStatus) Healthy() bool {
	return h != nil && h.Status == "healthy" && h.ModelLoaded
}

// HTTPClient is the production Client over the model server's REST API.
type HTTPClient struct {
	baseURL     string
	httpClient  *http.Client
	breaker     *circuitbreaker.Breaker
	maxAttempts int
	retryDelay  time.Duration
}

// NewHTTPClient creates a client for the model server at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: timeout},
		breaker:     circuitbreaker.New(5, 30*time.Second),
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
}

// envelope is the model server's response wrapper.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

// addressPrediction is the payload of /api/model/predict_address.
type addressPrediction struct {
	Address          string             `json:"address"`
	RiskType         string             `json:"risk_type"`
	RiskLevel        string             `json:"risk_level"`
	Confidence       float64            `json:"confidence"`
	Description      string             `json:"description"`
	PredictionScores map[string]float64 `json:"prediction_scores"`
}

// txPrediction is the payload of /api/model/predict_transaction.
type txPrediction struct {
	TxHash           string             `json:"tx_hash"`
	RiskType         string             `json:"risk_type"`
	RiskLevel        string             `json:"risk_level"`
	RiskScore        float64            `json:"risk_score"`
	Description      string             `json:"description"`
	PredictionScores map[string]float64 `json:"prediction_scores"`
}

// Evaluate scores one target via the model server.
func (c *HTTPClient) Evaluate(ctx context.Context, target risk.Target, opts risk.EvaluationOptions) (*risk.Verdict, error) {
	if !c.breaker.Allow(breakerBackend) {
		return nil, ErrModelUnavailable
	}

	var (
		score            float64
		riskType         string
		description      string
		predictionScores map[string]float64
	)

	err := retry.Do(ctx, c.maxAttempts, c.retryDelay, func() error {
		switch target.Kind {
		case risk.KindAddress:
			var pred addressPrediction
			if err := c.post(ctx, "/api/model/predict_address", map[string]string{"address": target.Reference}, &pred); err != nil {
				return err
			}
			score, riskType = pred.Confidence, pred.RiskType
			description, predictionScores = pred.Description, pred.PredictionScores
		case risk.KindTransaction:
			var pred txPrediction
			if err := c.post(ctx, "/api/model/predict_transaction", map[string]string{"tx_hash": target.Reference}, &pred); err != nil {
				return err
			}
			score, riskType = pred.RiskScore, pred.RiskType
			description, predictionScores = pred.Description, pred.PredictionScores
		default:
			return retry.Permanent(fmt.Errorf("unsupported target kind %q", target.Kind))
		}
		return nil
	})
	if err != nil {
		c.breaker.RecordFailure(breakerBackend)
		return nil, err
	}
	c.breaker.RecordSuccess(breakerBackend)

	if score < 0 || score > 1 {
		return nil, fmt.Errorf("model returned score %v out of range", score)
	}

	v := &risk.Verdict{
		Target:         target,
		Score:          score,
		Level:          risk.LevelFromScore(score),
		Method:         risk.MethodAIEnhanced,
		ModelAvailable: true,
		EvaluatedAt:    time.Now(),
	}
	lowConfidence := score < opts.ConfidenceThreshold
	if opts.Detailed || lowConfidence {
		v.Explanation = &risk.Explanation{
			RiskType:         riskType,
			Summary:          description,
			PredictionScores: predictionScores,
			LowConfidence:    lowConfidence,
		}
	}
	return v, nil
}

// Health probes /api/model/health. Health checks bypass the breaker: the
// monitor uses them to observe recovery while the breaker is open.
func (c *HTTPClient) Health(ctx context.Context) (*HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/model/health", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned %d", resp.StatusCode)
	}

	var status HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &status, nil
}

// post sends a JSON request and decodes the enveloped data payload into out.
func (c *HTTPClient) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal request body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// Client errors will not improve on retry; server errors might.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return retry.Permanent(fmt.Errorf("model API error (%d): %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("model API error (%d): %s", resp.StatusCode, respBody)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if env.Error != "" {
		return fmt.Errorf("model error: %s", env.Error)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return retry.Permanent(fmt.Errorf("decode prediction: %w", err))
	}
	return nil
}
