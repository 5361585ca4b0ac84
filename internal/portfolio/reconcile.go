package portfolio

import (
	"math"
	"strconv"
)

// ApplyTick overlays a live price update for symbol onto the portfolio
// and returns the updated state. Only open rows of the ticked symbol
// are touched; portfolio aggregates are recomputed from scratch.
//
// The returned portfolio is a fresh copy when anything changed. When
// nothing matches the symbol, or the payload is rejected, the exact
// input pointer is returned so consumers can skip re-render by identity
// comparison.
//
// Unparsable or non-finite prices are rejected silently: one bad tick
// must not corrupt every derived aggregate. The 24h change percent is
// passed through verbatim from the tick payload.
func ApplyTick(p *LivePortfolio, symbol, lastPrice, changePct string) *LivePortfolio {
	price, err := strconv.ParseFloat(lastPrice, 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) {
		return p
	}
	change, err := strconv.ParseFloat(changePct, 64)
	if err != nil || math.IsNaN(change) || math.IsInf(change, 0) {
		return p
	}

	touched := false
	for _, row := range p.Positions {
		if row.Symbol == symbol && row.Open() {
			touched = true
			break
		}
	}
	if !touched {
		return p
	}

	next := &LivePortfolio{
		Positions:   make([]LivePositionRow, len(p.Positions)),
		GeneratedAt: p.GeneratedAt,
		Watermark:   p.Watermark,
	}
	copy(next.Positions, p.Positions)

	for i := range next.Positions {
		row := &next.Positions[i]
		if row.Symbol != symbol || !row.Open() {
			continue
		}
		row.LivePrice = price
		row.LiveValue = row.NetQty * price
		row.LiveUnrealizedPNL = row.LiveValue - row.TotalInvested
		if row.TotalInvested != 0 {
			row.LiveUnrealizedPNLPct = row.LiveUnrealizedPNL / row.TotalInvested * 100
		} else {
			row.LiveUnrealizedPNLPct = 0
		}
		row.LiveChange24hPct = change
	}

	recomputeAggregates(next)
	return next
}
