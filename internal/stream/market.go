package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/foliolabs/pulsefeed/internal/client"
	"github.com/foliolabs/pulsefeed/internal/feed"
)

// DefaultMaxAttempts bounds consecutive failed reconnects before the
// market stream gives up and waits for a manual reconnect.
const DefaultMaxAttempts = 10

// errResync forces a reconnect after an order book sequence gap so a
// fresh snapshot is redelivered.
var errResync = errors.New("order book sequence gap, resynchronizing")

// Status is the consumer-visible connection state.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusOpen         Status = "open"
	StatusDisconnected Status = "disconnected"
)

// MarketState is the reconciled per-symbol market view published to
// consumers. Book is nil while awaiting a snapshot (initially, and
// transiently after a sequence gap).
type MarketState struct {
	Symbol string
	Status Status
	Book   *feed.Book
	Ticker *feed.TickerUpdate
	Trades []feed.TradeEvent
	Kline  *feed.KlineUpdate
}

// MarketConfig holds market supervisor settings.
type MarketConfig struct {
	StreamOverride string
	APIBase        string

	ReconnectDelay time.Duration
	MaxAttempts    int
	TradeCap       int
	DeltaBufferCap int
	ThrottleWindow time.Duration
	ReadTimeout    time.Duration
}

func (c *MarketConfig) applyDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.TradeCap <= 0 {
		c.TradeCap = feed.DefaultTradeCap
	}
	if c.ThrottleWindow <= 0 {
		c.ThrottleWindow = feed.DefaultThrottleWindow
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
}

// MarketSupervisor owns the raw market stream for a single symbol:
// order book with gap detection and pre-snapshot delta buffering,
// deduplicated trades, latest ticker and kline. Unlike the portfolio
// variant it stops after a bounded number of consecutive failed
// attempts and surfaces StatusDisconnected until ReconnectNow.
type MarketSupervisor struct {
	cfg      MarketConfig
	dialer   Dialer
	logger   *logrus.Logger
	throttle *feed.Throttle[MarketState]

	mu     sync.Mutex
	sess   *marketSession
	closed bool
}

// marketSession is one symbol's subscription generation. Changing the
// symbol replaces the whole session, which is what guarantees the full
// reset (book, buffer, trades, attempt counter).
type marketSession struct {
	symbol string
	id     string
	cancel context.CancelFunc
	kick   chan struct{}

	state  MarketState
	buffer *feed.DeltaBuffer
}

// NewMarketSupervisor creates a market stream supervisor publishing
// state snapshots through publish. Subscribe with SetSymbol.
func NewMarketSupervisor(cfg MarketConfig, dialer Dialer, logger *logrus.Logger, publish func(MarketState)) *MarketSupervisor {
	cfg.applyDefaults()
	return &MarketSupervisor{
		cfg:      cfg,
		dialer:   dialer,
		logger:   logger,
		throttle: feed.NewThrottle(cfg.ThrottleWindow, publish),
	}
}

// SetSymbol switches the subscription to a new symbol. The previous
// session is torn down and all derived state is discarded: order book,
// buffered deltas, trade list and the attempt counter all start fresh.
func (s *MarketSupervisor) SetSymbol(symbol string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.sess

	ctx, cancel := context.WithCancel(context.Background())
	sess := &marketSession{
		symbol: symbol,
		id:     uuid.NewString()[:8],
		cancel: cancel,
		kick:   make(chan struct{}, 1),
		state:  MarketState{Symbol: symbol, Status: StatusConnecting},
		buffer: feed.NewDeltaBuffer(s.cfg.DeltaBufferCap),
	}
	s.sess = sess
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	go s.run(ctx, sess)
}

// ReconnectNow resets the attempt counter and retries immediately.
// It is the manual escape from StatusDisconnected; while connected it
// is a no-op beyond resetting the counter.
func (s *MarketSupervisor) ReconnectNow() {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		return
	}
	select {
	case sess.kick <- struct{}{}:
	default:
	}
}

// Close tears down the current session and stops the publisher.
func (s *MarketSupervisor) Close() {
	s.mu.Lock()
	s.closed = true
	sess := s.sess
	s.sess = nil
	s.mu.Unlock()

	if sess != nil {
		sess.cancel()
	}
	s.throttle.Stop()
}

// State returns the current market state snapshot.
func (s *MarketSupervisor) State() MarketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return MarketState{}
	}
	return s.sess.state
}

// run is the session connection loop with a bounded retry budget.
// attempts counts consecutive failed cycles; a successfully opened
// connection resets it, and so do the manual kick and a symbol change.
func (s *MarketSupervisor) run(ctx context.Context, sess *marketSession) {
	url, err := client.ResolveStreamURL(s.cfg.StreamOverride, s.cfg.APIBase, sess.symbol)
	if err != nil {
		s.logger.Errorf("[%s/%s] no stream endpoint: %v", sess.symbol, sess.id, err)
		s.transition(ctx, sess, StatusDisconnected)
		return
	}

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if attempts >= s.cfg.MaxAttempts {
			s.logger.Warnf("[%s/%s] giving up after %d attempts, waiting for manual reconnect",
				sess.symbol, sess.id, attempts)
			s.transition(ctx, sess, StatusDisconnected)
			select {
			case <-ctx.Done():
				return
			case <-sess.kick:
				attempts = 0
				continue
			}
		}

		s.transition(ctx, sess, StatusConnecting)
		opened, err := s.consume(ctx, sess, url)
		if ctx.Err() != nil {
			return
		}
		if opened {
			attempts = 0
		}
		attempts++
		if err != nil {
			s.logger.Warnf("[%s/%s] stream closed (attempt %d/%d): %v",
				sess.symbol, sess.id, attempts, s.cfg.MaxAttempts, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-sess.kick:
			attempts = 0
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

// consume runs one connection from dial to transport error or forced
// resync. The bool reports whether the connection was opened at all.
func (s *MarketSupervisor) consume(ctx context.Context, sess *marketSession, url string) (bool, error) {
	conn, err := s.dialer.Dial(ctx, url)
	if err != nil {
		return false, fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	s.logger.Infof("[%s/%s] connected", sess.symbol, sess.id)
	s.transition(ctx, sess, StatusOpen)

	for {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, fmt.Errorf("read error: %w", err)
		}
		if s.handleFrame(ctx, sess, raw) {
			return true, errResync
		}
	}
}

// transition updates the published status.
func (s *MarketSupervisor) transition(ctx context.Context, sess *marketSession, status Status) {
	s.mu.Lock()
	if s.closed || s.sess != sess || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	sess.state.Status = status
	snapshot := sess.state
	s.mu.Unlock()

	s.throttle.Push(snapshot)
}

// handleFrame folds one frame into the session state and reports
// whether a sequence gap demands a reconnect. Malformed frames and
// unknown message types are dropped silently.
func (s *MarketSupervisor) handleFrame(ctx context.Context, sess *marketSession, raw []byte) (resync bool) {
	msg, err := feed.Decode(raw)
	if err != nil {
		s.logger.Debugf("[%s/%s] dropping malformed frame: %v", sess.symbol, sess.id, err)
		return false
	}

	s.mu.Lock()
	if s.closed || s.sess != sess || ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}

	switch msg.Kind {
	case feed.KindBookSnapshot:
		book := feed.NewBookFromSnapshot(msg.BookSnapshot)
		sess.state.Book = feed.Replay(book, sess.buffer.Drain())

	case feed.KindBookDelta:
		d := msg.BookDelta
		if sess.state.Book == nil {
			// Snapshot-before-delta race: hold deltas in arrival
			// order until the snapshot lands.
			sess.buffer.Add(d)
			s.mu.Unlock()
			return false
		}
		if feed.Stale(sess.state.Book, d) {
			s.mu.Unlock()
			return false
		}
		if feed.Gapped(sess.state.Book, d) {
			s.logger.Warnf("[%s/%s] book gap: have %d, delta covers [%d,%d]",
				sess.symbol, sess.id, sess.state.Book.LastUpdateID, d.FirstUpdateID, d.LastUpdateID)
			sess.state.Book = nil
			sess.buffer.Reset()
			snapshot := sess.state
			s.mu.Unlock()
			s.throttle.Push(snapshot)
			return true
		}
		sess.state.Book = feed.ApplyDelta(sess.state.Book, d)

	case feed.KindTradeUpdate:
		sess.state.Trades = feed.MergeTrade(sess.state.Trades, *msg.Trade, s.cfg.TradeCap)

	case feed.KindTickerUpdate, feed.KindTickerSnapshot:
		sess.state.Ticker = msg.Ticker

	case feed.KindKlineUpdate:
		sess.state.Kline = msg.Kline

	default:
		s.mu.Unlock()
		return false
	}

	snapshot := sess.state
	s.mu.Unlock()

	s.throttle.Push(snapshot)
	return false
}
