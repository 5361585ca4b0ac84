package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Side is the direction of a transaction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Transaction is one historical fill. Quantities and prices are decimal
// so the cost basis carries no float drift; only the live overlay works
// in float64.
type Transaction struct {
	Symbol string          `json:"symbol"`
	Side   Side            `json:"side"`
	Qty    decimal.Decimal `json:"qty"`
	Price  decimal.Decimal `json:"price"`
	Fee    decimal.Decimal `json:"fee"`
	Time   time.Time       `json:"time"`
}

// ledgerEntry accumulates the running average-cost state per symbol.
type ledgerEntry struct {
	buyQty   decimal.Decimal
	sellQty  decimal.Decimal
	netQty   decimal.Decimal
	avgCost  decimal.Decimal
	fees     decimal.Decimal
	realized decimal.Decimal
}

// BuildPositions derives one PositionRow per symbol from the full
// transaction history using the average-cost method: buys fold into the
// weighted average cost, sells realize qty*(price - avgCost) against
// it. Short positions are not modelled; a sell beyond the held quantity
// is an error.
//
// The returned watermark identifies the snapshot: transaction count
// plus a version string derived from the newest transaction.
func BuildPositions(txs []Transaction) ([]PositionRow, Watermark, error) {
	entries := make(map[string]*ledgerEntry)
	var newest time.Time

	for i, tx := range txs {
		if tx.Symbol == "" {
			return nil, Watermark{}, errors.Errorf("transaction %d: empty symbol", i)
		}
		if tx.Qty.Sign() <= 0 || tx.Price.Sign() < 0 {
			return nil, Watermark{}, errors.Errorf("transaction %d (%s): invalid qty or price", i, tx.Symbol)
		}

		e := entries[tx.Symbol]
		if e == nil {
			e = &ledgerEntry{}
			entries[tx.Symbol] = e
		}

		switch tx.Side {
		case SideBuy:
			cost := e.avgCost.Mul(e.netQty).Add(tx.Qty.Mul(tx.Price))
			e.buyQty = e.buyQty.Add(tx.Qty)
			e.netQty = e.netQty.Add(tx.Qty)
			e.avgCost = cost.Div(e.netQty)
		case SideSell:
			if tx.Qty.GreaterThan(e.netQty) {
				return nil, Watermark{}, errors.Errorf(
					"transaction %d (%s): sell %s exceeds held %s",
					i, tx.Symbol, tx.Qty, e.netQty)
			}
			e.sellQty = e.sellQty.Add(tx.Qty)
			e.netQty = e.netQty.Sub(tx.Qty)
			e.realized = e.realized.Add(tx.Qty.Mul(tx.Price.Sub(e.avgCost)))
		default:
			return nil, Watermark{}, errors.Errorf("transaction %d (%s): unknown side %q", i, tx.Symbol, tx.Side)
		}

		e.fees = e.fees.Add(tx.Fee)
		if tx.Time.After(newest) {
			newest = tx.Time
		}
	}

	rows := make([]PositionRow, 0, len(entries))
	for symbol, e := range entries {
		row := PositionRow{
			Symbol:       symbol,
			TotalBuyQty:  e.buyQty.InexactFloat64(),
			TotalSellQty: e.sellQty.InexactFloat64(),
			NetQty:       e.netQty.InexactFloat64(),
			TotalFees:    e.fees.InexactFloat64(),
			RealizedPNL:  e.realized.InexactFloat64(),
		}
		// Closed positions carry cost basis zeroed alongside the live
		// fields; the realized result is the only thing left to show.
		if e.netQty.Sign() > 0 {
			row.AvgBuyPrice = e.avgCost.InexactFloat64()
			row.TotalInvested = e.avgCost.Mul(e.netQty).InexactFloat64()
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })

	wm := Watermark{TxCount: len(txs), Version: versionOf(len(txs), newest)}
	return rows, wm, nil
}

func versionOf(count int, newest time.Time) string {
	if count == 0 {
		return "v0"
	}
	return fmt.Sprintf("v%d-%d", count, newest.UnixMilli())
}
