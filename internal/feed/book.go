package feed

// zeroQty is the sentinel quantity that removes a price level.
const zeroQty = "0"

// DefaultDeltaBufferCap bounds how many pre-snapshot deltas are held.
const DefaultDeltaBufferCap = 512

// Book is an order book reconstructed from a snapshot plus deltas.
// Bids and asks map price strings to quantity strings exactly as
// delivered; consumers sort for display.
type Book struct {
	LastUpdateID int64
	Bids         map[string]string
	Asks         map[string]string
}

// NewBookFromSnapshot builds a Book from a full snapshot message.
func NewBookFromSnapshot(s *BookSnapshot) *Book {
	b := &Book{
		LastUpdateID: s.LastUpdateID,
		Bids:         make(map[string]string, len(s.Bids)),
		Asks:         make(map[string]string, len(s.Asks)),
	}
	for _, lvl := range s.Bids {
		if lvl.Quantity != zeroQty {
			b.Bids[lvl.Price] = lvl.Quantity
		}
	}
	for _, lvl := range s.Asks {
		if lvl.Quantity != zeroQty {
			b.Asks[lvl.Price] = lvl.Quantity
		}
	}
	return b
}

// Stale reports whether the delta precedes the book's current sequence
// position and must be dropped without applying.
func Stale(b *Book, d *BookDelta) bool {
	return d.LastUpdateID <= b.LastUpdateID
}

// Gapped reports whether sequence ids are missing between the book and
// the delta. A gapped book is no longer trustworthy: the caller must
// discard it and force a reconnect so a fresh snapshot is redelivered.
func Gapped(b *Book, d *BookDelta) bool {
	return d.FirstUpdateID > b.LastUpdateID+1
}

// ApplyDelta merges a delta into the book and returns a new Book,
// leaving the input untouched. Copy-on-write keeps consumer snapshots
// stable while the stream keeps applying updates. Sequencing checks
// (Stale, Gapped) are the caller's responsibility.
func ApplyDelta(b *Book, d *BookDelta) *Book {
	next := &Book{
		LastUpdateID: d.LastUpdateID,
		Bids:         make(map[string]string, len(b.Bids)+len(d.Bids)),
		Asks:         make(map[string]string, len(b.Asks)+len(d.Asks)),
	}
	for p, q := range b.Bids {
		next.Bids[p] = q
	}
	for p, q := range b.Asks {
		next.Asks[p] = q
	}
	applyLevels(next.Bids, d.Bids)
	applyLevels(next.Asks, d.Asks)
	return next
}

func applyLevels(side map[string]string, levels [][2]string) {
	for _, lvl := range levels {
		price, qty := lvl[0], lvl[1]
		if qty == zeroQty {
			delete(side, price)
			continue
		}
		side[price] = qty
	}
}

// DeltaBuffer accumulates deltas that arrive before the book has
// received its initial snapshot. Arrival order is preserved; the buffer
// is bounded so a snapshot that never arrives cannot grow it forever
// (oldest entries are shed first, the replay gap check covers the loss).
type DeltaBuffer struct {
	pending []*BookDelta
	max     int
}

// NewDeltaBuffer creates a buffer holding at most max deltas.
// max <= 0 selects DefaultDeltaBufferCap.
func NewDeltaBuffer(max int) *DeltaBuffer {
	if max <= 0 {
		max = DefaultDeltaBufferCap
	}
	return &DeltaBuffer{max: max}
}

// Add appends a delta in arrival order.
func (db *DeltaBuffer) Add(d *BookDelta) {
	if len(db.pending) >= db.max {
		db.pending = db.pending[1:]
	}
	db.pending = append(db.pending, d)
}

// Len returns the number of buffered deltas.
func (db *DeltaBuffer) Len() int { return len(db.pending) }

// Drain returns the buffered deltas in arrival order and empties the
// buffer.
func (db *DeltaBuffer) Drain() []*BookDelta {
	p := db.pending
	db.pending = nil
	return p
}

// Reset discards all buffered deltas.
func (db *DeltaBuffer) Reset() { db.pending = nil }

// Replay applies buffered deltas onto a freshly installed snapshot
// book. Deltas already covered by the snapshot are skipped; the first
// delta that does not fit in sequence stops the replay and the
// remainder is dropped. The next live delta either continues the
// sequence naturally or trips the gap check and triggers a resync.
func Replay(b *Book, pending []*BookDelta) *Book {
	for _, d := range pending {
		if Stale(b, d) {
			continue
		}
		if Gapped(b, d) {
			break
		}
		b = ApplyDelta(b, d)
	}
	return b
}
