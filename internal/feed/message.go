// Package feed contains the wire-level stream primitives: the message
// codec, the order book merge engine, the trade ring and the trailing
// throttle. Everything here is transport-agnostic and side-effect free.
package feed

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the known stream message types.
type Kind int

const (
	KindUnknown Kind = iota
	KindTickerUpdate
	KindTickerSnapshot
	KindTradeUpdate
	KindBookSnapshot
	KindBookDelta
	KindKlineUpdate
)

func (k Kind) String() string {
	switch k {
	case KindTickerUpdate:
		return "ticker_update"
	case KindTickerSnapshot:
		return "ticker_snapshot"
	case KindTradeUpdate:
		return "trade_update"
	case KindBookSnapshot:
		return "book_snapshot"
	case KindBookDelta:
		return "book_delta"
	case KindKlineUpdate:
		return "kline_update"
	default:
		return "unknown"
	}
}

// TickerUpdate carries the latest price for a symbol. Prices stay as
// strings on the wire; parsing and validation happen at the point of use.
type TickerUpdate struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"last_price"`
	ChangePct string `json:"price_change_percent"`
}

// TradeEvent is a single executed trade.
type TradeEvent struct {
	ID      int64  `json:"id"`
	Price   string `json:"price"`
	Qty     string `json:"qty"`
	Time    int64  `json:"time"`
	IsBuyer bool   `json:"is_buyer"`
}

// UnmarshalJSON accepts both the is_buyer and the legacy is_buyer_maker
// field name for the aggressor side.
func (t *TradeEvent) UnmarshalJSON(data []byte) error {
	type alias struct {
		ID           int64  `json:"id"`
		Price        string `json:"price"`
		Qty          string `json:"qty"`
		Time         int64  `json:"time"`
		IsBuyer      *bool  `json:"is_buyer"`
		IsBuyerMaker *bool  `json:"is_buyer_maker"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	t.ID = a.ID
	t.Price = a.Price
	t.Qty = a.Qty
	t.Time = a.Time
	switch {
	case a.IsBuyer != nil:
		t.IsBuyer = *a.IsBuyer
	case a.IsBuyerMaker != nil:
		t.IsBuyer = *a.IsBuyerMaker
	}
	return nil
}

// PriceLevel is one book level as delivered in snapshots.
type PriceLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

// BookSnapshot is a full order book state at a sequence number.
type BookSnapshot struct {
	LastUpdateID int64        `json:"last_update_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
}

// BookDelta is an incremental book update covering the inclusive
// sequence range [FirstUpdateID, LastUpdateID]. Levels are [price, qty]
// pairs; a qty of "0" removes the level.
type BookDelta struct {
	FirstUpdateID int64       `json:"first_update_id"`
	LastUpdateID  int64       `json:"last_update_id"`
	Bids          [][2]string `json:"bids"`
	Asks          [][2]string `json:"asks"`
}

// KlineUpdate is a candle update, passed through to consumers opaquely.
type KlineUpdate struct {
	Interval string `json:"interval"`
	OpenTime int64  `json:"open_time"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
}

// Message is the decoded form of one stream frame. Exactly one payload
// pointer is non-nil for known kinds; for KindUnknown all are nil.
type Message struct {
	Kind         Kind
	Ticker       *TickerUpdate
	Trade        *TradeEvent
	BookSnapshot *BookSnapshot
	BookDelta    *BookDelta
	Kline        *KlineUpdate
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses one JSON frame of shape {type, data} into a Message.
// Unknown types decode successfully to KindUnknown so new server-side
// message kinds never break the stream. A returned error means the
// frame is malformed and must be dropped by the caller.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case "ticker_update", "ticker_snapshot":
		var t TickerUpdate
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return Message{}, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		kind := KindTickerUpdate
		if env.Type == "ticker_snapshot" {
			kind = KindTickerSnapshot
		}
		return Message{Kind: kind, Ticker: &t}, nil

	case "trade_update":
		var t TradeEvent
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return Message{}, fmt.Errorf("decode trade_update: %w", err)
		}
		return Message{Kind: KindTradeUpdate, Trade: &t}, nil

	case "book_snapshot":
		var s BookSnapshot
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return Message{}, fmt.Errorf("decode book_snapshot: %w", err)
		}
		return Message{Kind: KindBookSnapshot, BookSnapshot: &s}, nil

	case "book_delta":
		var d BookDelta
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return Message{}, fmt.Errorf("decode book_delta: %w", err)
		}
		return Message{Kind: KindBookDelta, BookDelta: &d}, nil

	case "kline_update":
		var k KlineUpdate
		if err := json.Unmarshal(env.Data, &k); err != nil {
			return Message{}, fmt.Errorf("decode kline_update: %w", err)
		}
		return Message{Kind: KindKlineUpdate, Kline: &k}, nil

	default:
		return Message{Kind: KindUnknown}, nil
	}
}
