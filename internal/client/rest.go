// Package client talks to the portfolio REST API and resolves the
// stream endpoint. Stream transport itself lives in internal/stream.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/foliolabs/pulsefeed/internal/portfolio"
)

const (
	requestTimeout    = 10 * time.Second
	requestsPerSecond = 2
	requestBurst      = 5
)

// APIError is a typed REST failure carrying the HTTP status and the
// server-provided message.
type APIError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d message=%s", e.Status, e.Message)
}

// PortfolioResponse is the REST snapshot the live state derives from.
type PortfolioResponse struct {
	Positions          []portfolio.PositionRow `json:"positions"`
	TotalValue         float64                 `json:"total_value"`
	TotalUnrealizedPNL float64                 `json:"total_unrealized_pnl"`
	TotalRealizedPNL   float64                 `json:"total_realized_pnl"`
	GeneratedAt        time.Time               `json:"generated_at"`
	Watermark          portfolio.Watermark     `json:"watermark"`
}

// Client fetches portfolio snapshots. Requests pass through a rate
// limiter so reconnect-triggered refetches cannot storm the API.
type Client struct {
	baseURL string
	httpc   *http.Client
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// New creates a REST client for the given API base URL.
func New(baseURL string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: trimSlash(baseURL),
		httpc:   &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		logger:  logger,
	}
}

// FetchPortfolio retrieves the full portfolio snapshot using the bearer
// token. Non-2xx responses come back as *APIError.
func (c *Client) FetchPortfolio(ctx context.Context, token string) (*PortfolioResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter")
	}

	url := c.baseURL + "/api/portfolio"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build portfolio request")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch portfolio")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeAPIError(resp)
	}

	var out PortfolioResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode portfolio response")
	}

	c.logger.Debugf("fetched portfolio: %d positions, watermark %s",
		len(out.Positions), out.Watermark.Version)
	return &out, nil
}

// decodeAPIError turns a non-success response into *APIError, using
// the error body when the server provided one.
func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(body) == 0 {
		return apiErr
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			apiErr.Message = payload.Message
		} else if payload.Error != "" {
			apiErr.Message = payload.Error
		}
	}
	return apiErr
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
