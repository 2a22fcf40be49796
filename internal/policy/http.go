package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/raphalvezz/loocac/internal/logger"
)

// HTTPPolicy queries an out-of-process policy server:
//
//	POST {base}/predict        {"model", "state"}           -> {"action": float}
//	POST {base}/predict_value  {"model", "state", "action"} -> {"quantiles": [float...]}
type HTTPPolicy struct {
	baseURL    *url.URL
	model      string
	httpClient *http.Client
}

// StatusError carries a non-2xx response from the policy server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("policy server returned %d", e.Code)
	}
	return fmt.Sprintf("policy server returned %d: %s", e.Code, e.Body)
}

// Temporary reports whether the server asked to retry.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

func NewHTTPPolicy(rawURL, model string, timeout time.Duration) (*HTTPPolicy, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return nil, fmt.Errorf("policy url is empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse policy url: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPPolicy{
		baseURL:    parsed,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// SetHTTPClient replaces the client, mainly for tests.
func (p *HTTPPolicy) SetHTTPClient(c *http.Client) {
	p.httpClient = c
}

func (p *HTTPPolicy) Predict(ctx context.Context, state []float32) (float32, error) {
	body, err := p.post(ctx, "/predict", map[string]any{"model": p.model, "state": state})
	if err != nil {
		return 0, err
	}
	logger.LogPolicyQuery(p.model, "predict", state, body)
	res := gjson.Get(body, "action")
	if !res.Exists() {
		return 0, fmt.Errorf("%w: missing action", ErrMalformedOutput)
	}
	// some servers return [action]
	if res.IsArray() {
		res = res.Get("0")
	}
	if res.Type != gjson.Number {
		return 0, fmt.Errorf("%w: action is %s", ErrMalformedOutput, res.Type)
	}
	action := float32(res.Float())
	if !finite(action) {
		return 0, fmt.Errorf("%w: non-finite action", ErrMalformedOutput)
	}
	return action, nil
}

func (p *HTTPPolicy) PredictValue(ctx context.Context, state []float32, action float32) ([]float32, error) {
	body, err := p.post(ctx, "/predict_value", map[string]any{"model": p.model, "state": state, "action": action})
	if err != nil {
		return nil, err
	}
	logger.LogPolicyQuery(p.model, "predict_value", state, body)
	res := gjson.Get(body, "quantiles")
	if !res.IsArray() {
		return nil, fmt.Errorf("%w: quantiles is not a list", ErrMalformedOutput)
	}
	var out []float32
	var bad bool
	res.ForEach(func(_, v gjson.Result) bool {
		if v.Type != gjson.Number {
			bad = true
			return false
		}
		out = append(out, float32(v.Float()))
		return true
	})
	if bad || len(out) == 0 || !finite(out...) {
		return nil, fmt.Errorf("%w: quantiles must be a non-empty list of numbers", ErrMalformedOutput)
	}
	return out, nil
}

func (p *HTTPPolicy) post(ctx context.Context, path string, payload any) (string, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode policy request: %w", err)
	}
	endpoint := p.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("build policy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call policy server: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read policy response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("%w: invalid json", ErrMalformedOutput)
	}
	return string(data), nil
}
