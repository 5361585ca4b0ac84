package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/foliolabs/pulsefeed/internal/client"
	"github.com/foliolabs/pulsefeed/internal/feed"
	"github.com/foliolabs/pulsefeed/internal/portfolio"
)

const (
	// DefaultReconnectDelay is the fixed delay before a dropped
	// connection is redialed. No backoff in the portfolio variant.
	DefaultReconnectDelay = 3 * time.Second

	defaultReadTimeout = 60 * time.Second
)

// Config holds portfolio supervisor settings.
type Config struct {
	// StreamOverride, when set, is used verbatim as the stream base
	// URL; otherwise the base derives from APIBase.
	StreamOverride string
	APIBase        string

	ReconnectDelay time.Duration
	ThrottleWindow time.Duration
	ReadTimeout    time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.ThrottleWindow <= 0 {
		c.ThrottleWindow = feed.DefaultThrottleWindow
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
}

// PortfolioSupervisor owns one persistent connection per open-position
// symbol and folds ticker updates into the live portfolio. Reconciled
// state reaches the consumer through a trailing throttle, so the
// publish rate stays bounded no matter how fast ticks arrive.
//
// All connection handles and reconnect waits are owned here
// exclusively; nothing else holds a reference to them.
type PortfolioSupervisor struct {
	cfg      Config
	dialer   Dialer
	logger   *logrus.Logger
	throttle *feed.Throttle[*portfolio.LivePortfolio]

	mu     sync.Mutex
	state  *portfolio.LivePortfolio
	conns  map[string]*symbolConn
	closed bool
}

// symbolConn tracks one subscription. The session id only exists so
// log lines from overlapping generations of the same symbol can be
// told apart.
type symbolConn struct {
	symbol  string
	session string
	cancel  context.CancelFunc
}

// NewPortfolioSupervisor creates a supervisor publishing reconciled
// state through publish. No connections are opened until the first
// Reconcile.
func NewPortfolioSupervisor(cfg Config, dialer Dialer, logger *logrus.Logger, publish func(*portfolio.LivePortfolio)) *PortfolioSupervisor {
	cfg.applyDefaults()
	return &PortfolioSupervisor{
		cfg:      cfg,
		dialer:   dialer,
		logger:   logger,
		throttle: feed.NewThrottle(cfg.ThrottleWindow, publish),
		conns:    make(map[string]*symbolConn),
	}
}

// Reconcile replaces the live state with a fresh REST snapshot and
// rebuilds the connection set wholesale: every existing connection is
// torn down and one is opened for exactly the symbols currently held
// open. No orphaned subscriptions for closed positions, no missing
// ones for new positions.
func (s *PortfolioSupervisor) Reconcile(rows []portfolio.PositionRow, generatedAt time.Time, wm portfolio.Watermark) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	next := portfolio.NewLivePortfolio(rows, generatedAt, wm)
	s.state = next

	for symbol, sc := range s.conns {
		delete(s.conns, symbol)
		sc.cancel()
	}
	for _, symbol := range next.OpenSymbols() {
		s.startLocked(symbol)
	}
	s.mu.Unlock()

	s.throttle.Push(next)
}

// Unsubscribe tears down one symbol's connection and clears any
// pending reconnect wait. The symbol leaves the tracking map before
// the cancel, so no event from the cancelled connection is processed
// afterwards.
func (s *PortfolioSupervisor) Unsubscribe(symbol string) {
	s.mu.Lock()
	sc, ok := s.conns[symbol]
	if ok {
		delete(s.conns, symbol)
	}
	s.mu.Unlock()
	if ok {
		sc.cancel()
	}
}

// Close tears down all connections and stops the publisher.
func (s *PortfolioSupervisor) Close() {
	s.mu.Lock()
	s.closed = true
	conns := s.conns
	s.conns = make(map[string]*symbolConn)
	s.mu.Unlock()

	for _, sc := range conns {
		sc.cancel()
	}
	s.throttle.Stop()
}

// State returns the current reconciled portfolio.
func (s *PortfolioSupervisor) State() *portfolio.LivePortfolio {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *PortfolioSupervisor) startLocked(symbol string) {
	ctx, cancel := context.WithCancel(context.Background())
	sc := &symbolConn{
		symbol:  symbol,
		session: uuid.NewString()[:8],
		cancel:  cancel,
	}
	s.conns[symbol] = sc
	go s.run(ctx, sc)
}

// run is the per-symbol connection loop: dial, consume until the
// transport drops, wait the fixed delay, repeat. Cancelling the
// subscription during the wait yields zero further attempts.
func (s *PortfolioSupervisor) run(ctx context.Context, sc *symbolConn) {
	url, err := client.ResolveStreamURL(s.cfg.StreamOverride, s.cfg.APIBase, sc.symbol)
	if err != nil {
		s.logger.Errorf("[%s/%s] no stream endpoint: %v", sc.symbol, sc.session, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.consume(ctx, sc, url); err != nil && ctx.Err() == nil {
			s.logger.Warnf("[%s/%s] stream closed: %v, reconnecting in %v",
				sc.symbol, sc.session, err, s.cfg.ReconnectDelay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

// consume runs one connection from dial to transport error.
func (s *PortfolioSupervisor) consume(ctx context.Context, sc *symbolConn, url string) error {
	conn, err := s.dialer.Dial(ctx, url)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	// Unblock the read as soon as the subscription is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	s.logger.Infof("[%s/%s] connected", sc.symbol, sc.session)

	for {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}
		s.handleFrame(ctx, sc, raw)
	}
}

// handleFrame folds one frame into the live state. Malformed frames
// are dropped; one bad message must not interrupt the stream.
func (s *PortfolioSupervisor) handleFrame(ctx context.Context, sc *symbolConn, raw []byte) {
	msg, err := feed.Decode(raw)
	if err != nil {
		s.logger.Debugf("[%s/%s] dropping malformed frame: %v", sc.symbol, sc.session, err)
		return
	}

	switch msg.Kind {
	case feed.KindTickerUpdate, feed.KindTickerSnapshot:
	default:
		// Book, trade and kline frames are the market stream's
		// concern; the portfolio variant only values positions.
		return
	}

	s.mu.Lock()
	if s.closed || s.conns[sc.symbol] != sc || ctx.Err() != nil {
		// Subscription cancelled between read and processing.
		s.mu.Unlock()
		return
	}
	next := portfolio.ApplyTick(s.state, sc.symbol, msg.Ticker.LastPrice, msg.Ticker.ChangePct)
	if next == s.state {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()

	s.throttle.Push(next)
}
