package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveStreamURL(t *testing.T) {
	tests := []struct {
		name     string
		override string
		apiBase  string
		symbol   string
		want     string
		wantErr  bool
	}{
		{
			name:     "override wins",
			override: "wss://stream.example.com",
			apiBase:  "https://api.example.com",
			symbol:   "BTCUSDT",
			want:     "wss://stream.example.com/ws/trading?symbol=BTCUSDT",
		},
		{
			name:    "https derives wss",
			apiBase: "https://api.example.com",
			symbol:  "BTCUSDT",
			want:    "wss://api.example.com/ws/trading?symbol=BTCUSDT",
		},
		{
			name:    "http derives ws",
			apiBase: "http://localhost:8080",
			symbol:  "ETHUSDT",
			want:    "ws://localhost:8080/ws/trading?symbol=ETHUSDT",
		},
		{
			name:    "ws base passes through",
			apiBase: "ws://localhost:9000",
			symbol:  "ETHUSDT",
			want:    "ws://localhost:9000/ws/trading?symbol=ETHUSDT",
		},
		{
			name:     "trailing slash trimmed",
			override: "wss://stream.example.com/",
			symbol:   "BTCUSDT",
			want:     "wss://stream.example.com/ws/trading?symbol=BTCUSDT",
		},
		{
			name:    "nothing configured",
			symbol:  "BTCUSDT",
			wantErr: true,
		},
		{
			name:    "underivable scheme",
			apiBase: "ftp://weird",
			symbol:  "BTCUSDT",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveStreamURL(tc.override, tc.apiBase, tc.symbol)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
