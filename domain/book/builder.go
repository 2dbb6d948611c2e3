package book

import "slices"

// locator points at the node holding a live order together with where
// that order was first placed. Routing for updates and deletes comes
// from here, never from the event.
type locator struct {
	symbol Symbol
	side   Side
	ledger *ledger
	node   *node
}

// Builder maintains the live orders of every symbol and answers
// best-price queries. Bids and asks live in separate maps so neither
// the orders nor the queries carry a side.
type Builder struct {
	bids  map[Symbol]*ledger
	asks  map[Symbol]*ledger
	index map[uint64]locator

	observer Observer
	stats    Stats
}

var _ Subscriber = (*Builder)(nil)

type Option func(*Builder)

// WithObserver reports every anomaly to o in addition to counting it.
func WithObserver(o Observer) Option {
	return func(b *Builder) { b.observer = o }
}

// WithCapacity pre-sizes the order index for n live orders.
func WithCapacity(n int) Option {
	return func(b *Builder) { b.index = make(map[uint64]locator, n) }
}

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		bids:  make(map[Symbol]*ledger),
		asks:  make(map[Symbol]*ledger),
		index: make(map[uint64]locator),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ---------------- Events ---------------- //

// OnAdd rests a new order. A duplicate id is rejected untouched.
func (b *Builder) OnAdd(a Add) error {
	o := Order{Price: a.Price, Size: a.Size, ID: a.OrderID}
	if !o.valid() || !validSide(a.Side) {
		b.anomaly(InvalidOrder, a.OrderID)
		return ErrInvalidOrder
	}
	if _, ok := b.index[a.OrderID]; ok {
		b.anomaly(DuplicateAdd, a.OrderID)
		return ErrDuplicateOrder
	}

	ledgers := b.ledgers(a.Side)
	l, ok := ledgers[a.Symbol]
	if !ok {
		l = newLedger()
		ledgers[a.Symbol] = l
	}
	b.index[a.OrderID] = locator{
		symbol: a.Symbol,
		side:   a.Side,
		ledger: l,
		node:   l.insert(o),
	}
	b.stats.Adds++
	return nil
}

// OnUpdate replaces the price and size of a live order, keeping its id
// and its recorded symbol and side.
func (b *Builder) OnUpdate(u Update) error {
	loc, ok := b.index[u.OrderID]
	if !ok {
		b.anomaly(UnknownUpdate, u.OrderID)
		return ErrUnknownOrder
	}
	o := Order{Price: u.Price, Size: u.Size, ID: u.OrderID}
	if !o.valid() {
		b.anomaly(InvalidOrder, u.OrderID)
		return ErrInvalidOrder
	}
	b.checkRoute(loc, u.Symbol, u.Side, u.OrderID)

	if loc.ledger.replace(loc.node, o) {
		b.stats.InPlace++
	} else {
		loc.ledger.remove(loc.node)
		loc.node = loc.ledger.insert(o)
		b.index[u.OrderID] = loc
	}
	b.stats.Updates++
	return nil
}

// OnDelete removes a live order. Price and size on the event are ignored.
func (b *Builder) OnDelete(d Delete) error {
	loc, ok := b.index[d.OrderID]
	if !ok {
		b.anomaly(UnknownDelete, d.OrderID)
		return ErrUnknownOrder
	}
	b.checkRoute(loc, d.Symbol, d.Side, d.OrderID)

	loc.ledger.remove(loc.node)
	delete(b.index, d.OrderID)
	if loc.ledger.Len() == 0 {
		delete(b.ledgers(loc.side), loc.symbol)
	}
	b.stats.Deletes++
	return nil
}

// ---------------- Queries ---------------- //

// BestBids returns every bid resting at the highest bid price of sym,
// highest (size, id) first. It returns nil when there are no bids.
func (b *Builder) BestBids(sym Symbol) []Order {
	l, ok := b.bids[sym]
	if !ok {
		return nil
	}
	return topLevel(l.descend)
}

// BestOffers returns every ask resting at the lowest ask price of sym,
// lowest (size, id) first. It returns nil when there are no asks.
func (b *Builder) BestOffers(sym Symbol) []Order {
	l, ok := b.asks[sym]
	if !ok {
		return nil
	}
	return topLevel(l.ascend)
}

func topLevel(walk func(func(Order) bool)) []Order {
	var out []Order
	walk(func(o Order) bool {
		if len(out) > 0 && o.Price != out[0].Price {
			return false
		}
		out = append(out, o)
		return true
	})
	return out
}

// BBO aggregates the best bid and best offer levels of sym.
func (b *Builder) BBO(sym Symbol) Quote {
	return Quote{
		Bid: aggregate(b.BestBids(sym)),
		Ask: aggregate(b.BestOffers(sym)),
	}
}

func aggregate(orders []Order) Level {
	var lvl Level
	for _, o := range orders {
		lvl.Price = o.Price
		lvl.Size += o.Size
		lvl.Count++
	}
	return lvl
}

// Orders returns every live order of sym on side in ascending
// (price, size, id) order.
func (b *Builder) Orders(sym Symbol, side Side) []Order {
	l, ok := b.ledgers(side)[sym]
	if !ok {
		return nil
	}
	out := make([]Order, 0, l.Len())
	l.ascend(func(o Order) bool {
		out = append(out, o)
		return true
	})
	return out
}

// Depth returns the number of live orders of sym on side.
func (b *Builder) Depth(sym Symbol, side Side) int {
	if l, ok := b.ledgers(side)[sym]; ok {
		return l.Len()
	}
	return 0
}

// Lookup returns the live order for id with its recorded location.
func (b *Builder) Lookup(id uint64) (Order, Symbol, Side, bool) {
	loc, ok := b.index[id]
	if !ok {
		return Order{}, "", 0, false
	}
	return loc.node.order, loc.symbol, loc.side, true
}

// Len returns the number of live orders across all symbols.
func (b *Builder) Len() int { return len(b.index) }

// Symbols returns, sorted, every symbol with at least one live order.
func (b *Builder) Symbols() []Symbol {
	out := make([]Symbol, 0, len(b.bids)+len(b.asks))
	for sym := range b.bids {
		out = append(out, sym)
	}
	for sym := range b.asks {
		if _, dup := b.bids[sym]; !dup {
			out = append(out, sym)
		}
	}
	slices.Sort(out)
	return out
}

func (b *Builder) Stats() Stats { return b.stats }

// ---------------- Internals ---------------- //

func (b *Builder) ledgers(side Side) map[Symbol]*ledger {
	if side == Bid {
		return b.bids
	}
	return b.asks
}

// checkRoute records, but does not act on, an event that disagrees with
// where the order actually rests.
func (b *Builder) checkRoute(loc locator, sym Symbol, side Side, id uint64) {
	if side != loc.side {
		b.anomaly(SideMismatch, id)
	}
	if sym != loc.symbol {
		b.anomaly(SymbolMismatch, id)
	}
}

func (b *Builder) anomaly(kind AnomalyKind, id uint64) {
	b.stats.Anomalies[kind]++
	if b.observer != nil {
		b.observer.Anomaly(kind, id)
	}
}

func validSide(s Side) bool { return s == Bid || s == Ask }
