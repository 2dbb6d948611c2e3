package book

import "math"

type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return "unknown"
	}
}

// Symbol identifies an instrument. It is only ever compared.
type Symbol string

// Order is an immutable snapshot of one resting order. The side is
// implied by the ledger holding it.
type Order struct {
	Price float64
	Size  float64
	ID    uint64
}

// Less is the ledger's total order: price, then size, then id.
func (o Order) Less(other Order) bool {
	if o.Price != other.Price {
		return o.Price < other.Price
	}
	if o.Size != other.Size {
		return o.Size < other.Size
	}
	return o.ID < other.ID
}

func (o Order) valid() bool {
	return !math.IsNaN(o.Price) && !math.IsNaN(o.Size)
}

// Add introduces a new live order.
type Add struct {
	Symbol  Symbol
	Side    Side
	Price   float64
	Size    float64
	OrderID uint64
}

// Update carries the new price and size for an existing order.
type Update Add

// Delete removes an existing order. Price and size are informational.
type Delete Add

// Subscriber receives decoded events in stream order.
type Subscriber interface {
	OnAdd(Add) error
	OnUpdate(Update) error
	OnDelete(Delete) error
}

// Quote summarizes both sides of a symbol at the top of book.
type Quote struct {
	Bid Level
	Ask Level
}

// Level aggregates the orders resting at one price.
type Level struct {
	Price float64
	Size  float64
	Count int
}

// Empty reports whether no order rests at this level.
func (l Level) Empty() bool { return l.Count == 0 }
