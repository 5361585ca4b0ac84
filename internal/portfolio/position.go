// Package portfolio holds the position model, the tick reconciler that
// overlays live prices onto REST-sourced rows, and the transaction
// ledger that derives those rows in the first place.
package portfolio

import "time"

// PositionRow is one row per traded symbol, derived from all historical
// transactions by the average-cost method. The current_* fields are the
// last-known REST truth; they are never mutated by the stream.
type PositionRow struct {
	Symbol string `json:"symbol"`

	TotalBuyQty   float64 `json:"total_buy_qty"`
	TotalSellQty  float64 `json:"total_sell_qty"`
	NetQty        float64 `json:"net_qty"`
	AvgBuyPrice   float64 `json:"avg_buy_price"`
	TotalInvested float64 `json:"total_invested"`
	TotalFees     float64 `json:"total_fees"`

	// RealizedPNL is locked in by the average-cost method and only
	// changes on the next REST refetch.
	RealizedPNL float64 `json:"realized_pnl"`

	// Live market fields, all zero when NetQty == 0.
	CurrentPrice      float64 `json:"current_price"`
	PriceChange24hPct float64 `json:"price_change_24h_pct"`
	CurrentValue      float64 `json:"current_value"`
	UnrealizedPNL     float64 `json:"unrealized_pnl"`
	UnrealizedPNLPct  float64 `json:"unrealized_pnl_pct"`
}

// Open reports whether the row represents an open position.
func (r PositionRow) Open() bool { return r.NetQty > 0 }

// LivePositionRow overlays fast-moving streamed values onto a
// PositionRow. The live_* set is overwritten in place by ticks while
// the embedded base fields stay auditable as REST truth.
type LivePositionRow struct {
	PositionRow

	LivePrice            float64 `json:"live_price"`
	LiveValue            float64 `json:"live_value"`
	LiveUnrealizedPNL    float64 `json:"live_unrealized_pnl"`
	LiveUnrealizedPNLPct float64 `json:"live_unrealized_pnl_pct"`
	LiveChange24hPct     float64 `json:"live_change_24h_pct"`
}

// Watermark identifies which REST snapshot a reconciled state derives
// from. A changed watermark invalidates prior live state entirely.
type Watermark struct {
	TxCount int    `json:"tx_count"`
	Version string `json:"version"`
}

// LivePortfolio is the reconciled state published to consumers.
// Consumers treat it as read-only and re-render on reference change.
type LivePortfolio struct {
	Positions []LivePositionRow `json:"positions"`

	// Aggregates over all open rows, recomputed from scratch on every
	// relevant tick.
	TotalLiveValue         float64 `json:"total_live_value"`
	TotalLiveUnrealizedPNL float64 `json:"total_live_unrealized_pnl"`

	GeneratedAt time.Time `json:"generated_at"`
	Watermark   Watermark `json:"watermark"`
}

// NewLivePortfolio seeds live state from REST rows: the live overlay
// starts at the REST-sourced current values until the first tick lands.
func NewLivePortfolio(rows []PositionRow, generatedAt time.Time, wm Watermark) *LivePortfolio {
	p := &LivePortfolio{
		Positions:   make([]LivePositionRow, 0, len(rows)),
		GeneratedAt: generatedAt,
		Watermark:   wm,
	}
	for _, r := range rows {
		p.Positions = append(p.Positions, LivePositionRow{
			PositionRow:          r,
			LivePrice:            r.CurrentPrice,
			LiveValue:            r.CurrentValue,
			LiveUnrealizedPNL:    r.UnrealizedPNL,
			LiveUnrealizedPNLPct: r.UnrealizedPNLPct,
			LiveChange24hPct:     r.PriceChange24hPct,
		})
	}
	recomputeAggregates(p)
	return p
}

// OpenSymbols returns the symbols currently held open, the subscription
// set for the stream supervisor.
func (p *LivePortfolio) OpenSymbols() []string {
	var symbols []string
	for _, row := range p.Positions {
		if row.Open() {
			symbols = append(symbols, row.Symbol)
		}
	}
	return symbols
}

// recomputeAggregates sums live value and live unrealized P&L over all
// open rows. Always from scratch, never incrementally adjusted, so
// missed ticks and float accumulation cannot drift the totals.
func recomputeAggregates(p *LivePortfolio) {
	var value, pnl float64
	for _, row := range p.Positions {
		if !row.Open() {
			continue
		}
		value += row.LiveValue
		pnl += row.LiveUnrealizedPNL
	}
	p.TotalLiveValue = value
	p.TotalLiveUnrealizedPNL = pnl
}
