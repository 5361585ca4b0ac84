package client

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

const streamPath = "/ws/trading"

// ResolveStreamURL builds the duplex stream endpoint for a symbol.
// Resolution order: an explicit override wins; otherwise the base is
// derived from the HTTP API base by protocol substitution (http -> ws,
// https -> wss). The final shape is {base}/ws/trading?symbol={SYMBOL}.
func ResolveStreamURL(override, apiBase, symbol string) (string, error) {
	base := strings.TrimSpace(override)
	if base == "" {
		derived, err := deriveStreamBase(apiBase)
		if err != nil {
			return "", err
		}
		base = derived
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	return trimSlash(base) + streamPath + "?" + q.Encode(), nil
}

func deriveStreamBase(apiBase string) (string, error) {
	apiBase = strings.TrimSpace(apiBase)
	if apiBase == "" {
		return "", errors.New("no stream endpoint: neither override nor API base configured")
	}
	switch {
	case strings.HasPrefix(apiBase, "https://"):
		return "wss://" + strings.TrimPrefix(apiBase, "https://"), nil
	case strings.HasPrefix(apiBase, "http://"):
		return "ws://" + strings.TrimPrefix(apiBase, "http://"), nil
	case strings.HasPrefix(apiBase, "wss://"), strings.HasPrefix(apiBase, "ws://"):
		return apiBase, nil
	}
	return "", errors.Errorf("cannot derive stream base from %q", apiBase)
}
