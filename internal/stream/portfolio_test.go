package stream

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliolabs/pulsefeed/internal/portfolio"
)

func btcRow() portfolio.PositionRow {
	return portfolio.PositionRow{
		Symbol:        "BTCUSDT",
		TotalBuyQty:   1,
		NetQty:        1,
		AvgBuyPrice:   50000,
		TotalInvested: 50000,
	}
}

func ethRow() portfolio.PositionRow {
	return portfolio.PositionRow{
		Symbol:        "ETHUSDT",
		TotalBuyQty:   10,
		NetQty:        10,
		AvgBuyPrice:   3000,
		TotalInvested: 30000,
	}
}

type portfolioSink struct {
	mu     sync.Mutex
	states []*portfolio.LivePortfolio
}

func (s *portfolioSink) publish(p *portfolio.LivePortfolio) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, p)
}

func (s *portfolioSink) latest() *portfolio.LivePortfolio {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return nil
	}
	return s.states[len(s.states)-1]
}

func newTestPortfolioSupervisor(d Dialer, sink *portfolioSink, reconnectDelay time.Duration) *PortfolioSupervisor {
	return NewPortfolioSupervisor(Config{
		StreamOverride: "ws://stream.test",
		ReconnectDelay: reconnectDelay,
		ThrottleWindow: 5 * time.Millisecond,
	}, d, quietLogger(), sink.publish)
}

func TestPortfolioSupervisorEndToEnd(t *testing.T) {
	d := &fakeDialer{}
	sink := &portfolioSink{}
	s := newTestPortfolioSupervisor(d, sink, 50*time.Millisecond)
	defer s.Close()

	s.Reconcile([]portfolio.PositionRow{btcRow()}, time.Now(), portfolio.Watermark{TxCount: 1, Version: "v1"})

	conn := d.conn(t, 0)
	assert.Contains(t, d.dialedURLs()[0], "symbol=BTCUSDT")

	conn.send(`{"type":"ticker_update","data":{"last_price":"55000","price_change_percent":"10"}}`)

	waitFor(t, func() bool {
		return s.State().Positions[0].LivePrice == 55000
	}, "tick to be reconciled")

	state := s.State()
	row := state.Positions[0]
	assert.Equal(t, 55000.0, row.LiveValue)
	assert.Equal(t, 5000.0, row.LiveUnrealizedPNL)
	assert.Equal(t, 10.0, row.LiveUnrealizedPNLPct)
	assert.Equal(t, 10.0, row.LiveChange24hPct)
	assert.Equal(t, 55000.0, state.TotalLiveValue)
	assert.Equal(t, 5000.0, state.TotalLiveUnrealizedPNL)

	// The reconciled state reaches the consumer through the throttle.
	waitFor(t, func() bool {
		last := sink.latest()
		return last != nil && last.TotalLiveValue == 55000
	}, "throttled publish")
}

func TestPortfolioSupervisorSubscribesOpenPositionsOnly(t *testing.T) {
	d := &fakeDialer{}
	sink := &portfolioSink{}
	s := newTestPortfolioSupervisor(d, sink, 50*time.Millisecond)
	defer s.Close()

	closed := portfolio.PositionRow{Symbol: "SOLUSDT", TotalBuyQty: 5, TotalSellQty: 5, NetQty: 0}
	s.Reconcile([]portfolio.PositionRow{btcRow(), closed}, time.Now(), portfolio.Watermark{})

	d.conn(t, 0)
	time.Sleep(50 * time.Millisecond)

	urls := d.dialedURLs()
	require.Len(t, urls, 1, "closed positions get no subscription")
	assert.Contains(t, urls[0], "symbol=BTCUSDT")
}

func TestPortfolioSupervisorIgnoresIrrelevantFrames(t *testing.T) {
	d := &fakeDialer{}
	sink := &portfolioSink{}
	s := newTestPortfolioSupervisor(d, sink, 50*time.Millisecond)
	defer s.Close()

	s.Reconcile([]portfolio.PositionRow{btcRow()}, time.Now(), portfolio.Watermark{})
	conn := d.conn(t, 0)

	before := s.State()
	conn.send(`{"type":"trade_update","data":{"id":1,"price":"1","qty":"1","time":1}}`)
	conn.send(`{"type":"mystery","data":{}}`)
	conn.send(`this is not json`)
	conn.send(`{"type":"ticker_update","data":{"last_price":"NaN","price_change_percent":"1"}}`)

	time.Sleep(60 * time.Millisecond)
	assert.Same(t, before, s.State(), "no state change for irrelevant or malformed frames")
}

func TestPortfolioSupervisorReconnectScheduling(t *testing.T) {
	d := &fakeDialer{}
	sink := &portfolioSink{}
	s := newTestPortfolioSupervisor(d, sink, 30*time.Millisecond)
	defer s.Close()

	s.Reconcile([]portfolio.PositionRow{btcRow()}, time.Now(), portfolio.Watermark{})
	conn := d.conn(t, 0)

	// Transport drop for a still-subscribed symbol: exactly one
	// reconnect lands after the fixed delay.
	conn.Close()
	waitFor(t, func() bool { return d.dialCount() == 2 }, "reconnect after fixed delay")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, d.dialCount(), "a healthy connection is not redialed")
}

func TestPortfolioSupervisorUnsubscribeCancelsPendingReconnect(t *testing.T) {
	d := &fakeDialer{}
	sink := &portfolioSink{}
	s := newTestPortfolioSupervisor(d, sink, 80*time.Millisecond)
	defer s.Close()

	s.Reconcile([]portfolio.PositionRow{btcRow()}, time.Now(), portfolio.Watermark{})
	conn := d.conn(t, 0)

	conn.Close()
	time.Sleep(10 * time.Millisecond) // inside the reconnect wait
	s.Unsubscribe("BTCUSDT")

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount(), "cancelling during the delay yields zero reconnects")
}

func TestPortfolioSupervisorReconcileRebuildsConnectionSet(t *testing.T) {
	d := &fakeDialer{}
	sink := &portfolioSink{}
	s := newTestPortfolioSupervisor(d, sink, 20*time.Millisecond)
	defer s.Close()

	s.Reconcile([]portfolio.PositionRow{btcRow(), ethRow()}, time.Now(), portfolio.Watermark{TxCount: 2, Version: "v2"})
	d.conn(t, 0)
	d.conn(t, 1)

	// BTC position has since been closed: only ETH survives the refetch.
	s.Reconcile([]portfolio.PositionRow{ethRow()}, time.Now(), portfolio.Watermark{TxCount: 3, Version: "v3"})

	waitFor(t, func() bool { return d.dialCount() >= 3 }, "resubscription after reconcile")
	time.Sleep(100 * time.Millisecond)

	for _, url := range d.dialedURLs()[2:] {
		assert.False(t, strings.Contains(url, "BTCUSDT"), "no orphaned subscription for closed position, got %s", url)
	}

	// The rebuilt live state carries the new watermark.
	assert.Equal(t, "v3", s.State().Watermark.Version)
	require.Len(t, s.State().Positions, 1)
}

func TestPortfolioSupervisorStaleConnectionEventsDropped(t *testing.T) {
	d := &fakeDialer{}
	sink := &portfolioSink{}
	s := newTestPortfolioSupervisor(d, sink, 20*time.Millisecond)
	defer s.Close()

	s.Reconcile([]portfolio.PositionRow{btcRow()}, time.Now(), portfolio.Watermark{TxCount: 1, Version: "v1"})
	old := d.conn(t, 0)

	// A refetch replaces the whole connection set; a tick still queued
	// on the old connection must not touch the rebuilt state.
	s.Reconcile([]portfolio.PositionRow{btcRow()}, time.Now(), portfolio.Watermark{TxCount: 2, Version: "v2"})
	old.send(`{"type":"ticker_update","data":{"last_price":"1","price_change_percent":"0"}}`)

	d.conn(t, 1)
	time.Sleep(80 * time.Millisecond)
	assert.NotEqual(t, 1.0, s.State().Positions[0].LivePrice, "stale generation event must be dropped")
}
