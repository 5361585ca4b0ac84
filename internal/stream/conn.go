// Package stream owns the persistent duplex connections to the trading
// stream: one supervisor variant for portfolio aggregation (one
// connection per open-position symbol, endless fixed-delay reconnect)
// and one for the raw per-symbol market stream (bounded retries with a
// manual reconnect escape hatch).
package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the minimal connection surface the supervisors need.
// *websocket.Conn satisfies it directly; tests plug in a fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens stream connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

const dialHandshakeTimeout = 10 * time.Second

type wsDialer struct {
	handshakeTimeout time.Duration
}

// NewWSDialer returns the production gorilla/websocket dialer.
func NewWSDialer() Dialer {
	return wsDialer{handshakeTimeout: dialHandshakeTimeout}
}

func (d wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}
