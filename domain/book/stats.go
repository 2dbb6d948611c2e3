package book

import "errors"

var (
	// ErrDuplicateOrder is returned by OnAdd when the id is already live.
	ErrDuplicateOrder = errors.New("book: duplicate order id")
	// ErrUnknownOrder is returned by OnUpdate and OnDelete when the id is
	// not live. The event is a no-op.
	ErrUnknownOrder = errors.New("book: unknown order id")
	// ErrInvalidOrder is returned when price or size is NaN.
	ErrInvalidOrder = errors.New("book: invalid order values")
)

// AnomalyKind classifies a tolerated inconsistency in the event stream.
type AnomalyKind uint8

const (
	DuplicateAdd AnomalyKind = iota
	UnknownUpdate
	UnknownDelete
	SideMismatch
	SymbolMismatch
	InvalidOrder
	numAnomalyKinds
)

var anomalyNames = [numAnomalyKinds]string{
	DuplicateAdd:   "duplicate_add",
	UnknownUpdate:  "unknown_update",
	UnknownDelete:  "unknown_delete",
	SideMismatch:   "side_mismatch",
	SymbolMismatch: "symbol_mismatch",
	InvalidOrder:   "invalid_order",
}

func (k AnomalyKind) String() string {
	if k < numAnomalyKinds {
		return anomalyNames[k]
	}
	return "unknown"
}

// AnomalyKinds lists every kind, in declaration order.
func AnomalyKinds() []AnomalyKind {
	out := make([]AnomalyKind, 0, numAnomalyKinds)
	for k := AnomalyKind(0); k < numAnomalyKinds; k++ {
		out = append(out, k)
	}
	return out
}

// Observer is told about every anomaly as it happens.
type Observer interface {
	Anomaly(kind AnomalyKind, orderID uint64)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(kind AnomalyKind, orderID uint64)

func (f ObserverFunc) Anomaly(kind AnomalyKind, orderID uint64) { f(kind, orderID) }

// Stats counts applied events and anomalies since construction.
type Stats struct {
	Adds      uint64
	Updates   uint64
	Deletes   uint64
	InPlace   uint64 // updates applied without relocating the node
	Anomalies [numAnomalyKinds]uint64
}

// Count returns the number of anomalies of kind k.
func (s Stats) Count(k AnomalyKind) uint64 {
	if k >= numAnomalyKinds {
		return 0
	}
	return s.Anomalies[k]
}
