// Package align talks to the external corpus-alignment service. It is the
// only source of corpus-to-corpus offset mappings; the engine consumes it
// through the conc.AlignmentMap interface during an alignment switch.
package align

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/corpustools/concord/internal/conc"
	"github.com/corpustools/concord/pkg/config"
	apperrors "github.com/corpustools/concord/pkg/errors"
	"github.com/corpustools/concord/pkg/resilience"
)

// Client implements conc.AlignmentMap over the alignment service's HTTP
// API. Requests run behind a circuit breaker so a dead service fails fast
// instead of stalling every switch operation.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

var _ conc.AlignmentMap = (*Client)(nil)

// NewClient creates a Client for the configured alignment service.
func NewClient(cfg config.AlignConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		breaker: resilience.NewCircuitBreaker("alignment-service", resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
			ResetTimeout:     cfg.ResetTimeout,
		}),
		logger: slog.Default().With("component", "align-client"),
	}
}

// Breaker exposes the client's circuit breaker so callers can observe
// its state, for example to export it as a metric.
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

type mapRequest struct {
	Source  string  `json:"source"`
	Target  string  `json:"target"`
	Offsets []int64 `json:"offsets"`
}

type mapResponse struct {
	Offsets []int64 `json:"offsets"`
}

// MapOffsets translates offsets between the coordinate spaces of two
// parallel corpora. An HTTP 404 from the service means no alignment exists
// for the pair and surfaces as the not-aligned error.
func (c *Client) MapOffsets(ctx context.Context, source, target string, offsets []int64) ([]int64, error) {
	var mapped []int64
	err := c.breaker.Execute(func() error {
		body, err := json.Marshal(mapRequest{Source: source, Target: target, Offsets: offsets})
		if err != nil {
			return fmt.Errorf("marshaling map request: %w", err)
		}
		url := fmt.Sprintf("%s/api/v1/map", c.baseURL)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("building map request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("calling alignment service: %w", err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s -> %s", apperrors.ErrNotAligned, source, target)
		default:
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("alignment service returned %d: %s", resp.StatusCode, payload)
		}

		var out mapResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decoding map response: %w", err)
		}
		if len(out.Offsets) != len(offsets) {
			return fmt.Errorf("%w: service returned %d offsets for %d positions",
				apperrors.ErrNotAligned, len(out.Offsets), len(offsets))
		}
		mapped = out.Offsets
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mapped, nil
}
