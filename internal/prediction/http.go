package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// StatusError is a non-2xx response from a prediction service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string { return fmt.Sprintf("prediction: status %d: %s", e.Code, e.Body) }

// HTTPSource posts {"refs":[...],"asOf":...} to {BaseURL}/v1/signals and
// expects {"signals":[...]} back. Calls are rate limited client side.
type HTTPSource struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPSource returns a source for baseURL allowing rps requests per second.
// rps <= 0 disables limiting.
func NewHTTPSource(baseURL string, rps float64, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{}
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &HTTPSource{baseURL: strings.TrimRight(baseURL, "/"), client: client, limiter: lim}
}

type signalsRequest struct {
	Refs []string  `json:"refs"`
	AsOf time.Time `json:"asOf"`
}

type signalsResponse struct {
	Signals []RawSignal `json:"signals"`
}

func (h *HTTPSource) FetchSignals(ctx context.Context, refs []string, asOf time.Time) ([]RawSignal, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("prediction: rate limit: %w", err)
	}
	body, err := json.Marshal(signalsRequest{Refs: refs, AsOf: asOf.UTC()})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/signals", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("prediction: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	var out signalsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("prediction: decode response: %w", err)
	}
	return out.Signals, nil
}
