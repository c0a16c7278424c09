package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"poolguard/internal/pipeline"
)

// healthCacheTTL is how long a successful health check is trusted
const healthCacheTTL = 30 * time.Second

// maxResponseSize bounds an evaluator response body
const maxResponseSize = 32 << 20

// HTTPEvaluator posts frames as base64 JSON to a remote hazard model
type HTTPEvaluator struct {
	endpoint   string
	healthURL  string
	client     *http.Client
	quality    int
	thresholds pipeline.Thresholds

	healthMu   sync.RWMutex
	healthy    bool
	lastHealth time.Time
}

// NewHTTPEvaluator creates an HTTP evaluator
func NewHTTPEvaluator(cfg Config) *HTTPEvaluator {
	return &HTTPEvaluator{
		endpoint:   cfg.Endpoint,
		healthURL:  cfg.HealthURL,
		client:     &http.Client{Timeout: cfg.Timeout},
		quality:    cfg.JPEGQuality,
		thresholds: cfg.Thresholds,
		healthy:    true,
	}
}

// Name implements pipeline.Evaluator
func (e *HTTPEvaluator) Name() string { return KindHTTP }

// Evaluate implements pipeline.Evaluator
func (e *HTTPEvaluator) Evaluate(ctx context.Context, frame *pipeline.Frame) (*pipeline.HazardResult, error) {
	req, err := encodeRequest(frame, e.quality)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		e.setHealthy(false)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", pipeline.ErrEvaluatorUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		e.setHealthy(false)
		return nil, fmt.Errorf("%w: status %d", pipeline.ErrEvaluatorUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("evaluator returned status %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	e.setHealthy(true)
	return decodeResponse(respBody, e.thresholds)
}

// IsHealthy checks the health endpoint, caching success for 30 seconds.
// Without a health endpoint it reports the outcome of the last call.
func (e *HTTPEvaluator) IsHealthy(ctx context.Context) bool {
	e.healthMu.RLock()
	healthy, last := e.healthy, e.lastHealth
	e.healthMu.RUnlock()

	if e.healthURL == "" || (healthy && time.Since(last) < healthCacheTTL) {
		return healthy
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		log.Printf("[Evaluator] Health check failed: %v", err)
		e.setHealthy(false)
		return false
	}
	resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK
	if !ok {
		log.Printf("[Evaluator] Health check returned status %d", resp.StatusCode)
	}
	e.setHealthy(ok)
	return ok
}

func (e *HTTPEvaluator) setHealthy(healthy bool) {
	e.healthMu.Lock()
	e.healthy = healthy
	e.lastHealth = time.Now()
	e.healthMu.Unlock()
}

// Close implements pipeline.Evaluator
func (e *HTTPEvaluator) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

var _ pipeline.Evaluator = (*HTTPEvaluator)(nil)
