package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestFetchPortfolio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/portfolio", r.URL.Path)
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"positions": [{
				"symbol": "BTCUSDT",
				"total_buy_qty": 1,
				"net_qty": 1,
				"avg_buy_price": 50000,
				"total_invested": 50000
			}],
			"total_value": 50000,
			"total_unrealized_pnl": 0,
			"generated_at": "2026-08-01T10:00:00Z",
			"watermark": {"tx_count": 1, "version": "v1-123"}
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, testLogger())
	resp, err := c.FetchPortfolio(context.Background(), "token-123")
	require.NoError(t, err)

	require.Len(t, resp.Positions, 1)
	assert.Equal(t, "BTCUSDT", resp.Positions[0].Symbol)
	assert.Equal(t, 50000.0, resp.Positions[0].TotalInvested)
	assert.Equal(t, 1, resp.Watermark.TxCount)
	assert.Equal(t, "v1-123", resp.Watermark.Version)
}

func TestFetchPortfolioAPIError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{
			name:        "message from error body",
			status:      http.StatusUnauthorized,
			body:        `{"message":"token expired"}`,
			wantMessage: "token expired",
		},
		{
			name:        "error field fallback",
			status:      http.StatusForbidden,
			body:        `{"error":"forbidden"}`,
			wantMessage: "forbidden",
		},
		{
			name:        "status text when body is useless",
			status:      http.StatusInternalServerError,
			body:        `boom`,
			wantMessage: "Internal Server Error",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := New(srv.URL, testLogger())
			_, err := c.FetchPortfolio(context.Background(), "")
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Equal(t, tc.wantMessage, apiErr.Message)
		})
	}
}

func TestFetchPortfolioNoToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"positions":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", testLogger())
	resp, err := c.FetchPortfolio(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, resp.Positions)
}
