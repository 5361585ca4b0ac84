package feed

// DefaultTradeCap bounds the client-visible trade feed.
const DefaultTradeCap = 100

// tradeKey is the dedup fingerprint. The transport may redeliver the
// same trade; all five fields together identify one execution.
type tradeKey struct {
	id      int64
	time    int64
	isBuyer bool
	price   string
	qty     string
}

func keyOf(t TradeEvent) tradeKey {
	return tradeKey{id: t.ID, time: t.Time, isBuyer: t.IsBuyer, price: t.Price, qty: t.Qty}
}

// MergeTrade prepends a trade to the newest-first list, removes any
// prior occurrence of the same fingerprint and truncates to max
// entries. Redelivering an already-present trade leaves the list's
// content and length unchanged, so the merge is idempotent.
// max <= 0 selects DefaultTradeCap.
func MergeTrade(list []TradeEvent, t TradeEvent, max int) []TradeEvent {
	if max <= 0 {
		max = DefaultTradeCap
	}

	key := keyOf(t)
	merged := make([]TradeEvent, 0, len(list)+1)
	merged = append(merged, t)
	for _, prev := range list {
		if keyOf(prev) == key {
			continue
		}
		merged = append(merged, prev)
	}

	if len(merged) > max {
		merged = merged[:max]
	}
	return merged
}
