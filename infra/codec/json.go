package codec

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"bookbuilder/domain/book"
	"bookbuilder/domain/event"
)

// JSON encodes events as flat objects. Prices and sizes travel as decimal
// strings so feeds that quote them ("10.25") decode without loss of
// intent; bare numbers are accepted as well.
type JSON struct{}

type jsonEvent struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	Symbol  string          `json:"symbol"`
	Side    string          `json:"side"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	OrderID uint64          `json:"order_id"`
}

func (JSON) Encode(e event.Event) ([]byte, error) {
	if !finite(e.Price) || !finite(e.Size) {
		return nil, fmt.Errorf("%w: non-finite price or size", ErrMalformed)
	}
	return json.Marshal(jsonEvent{
		Type:    e.Kind.String(),
		Seq:     e.Seq,
		Symbol:  string(e.Symbol),
		Side:    e.Side.String(),
		Price:   decimal.NewFromFloat(e.Price),
		Size:    decimal.NewFromFloat(e.Size),
		OrderID: e.OrderID,
	})
}

func (JSON) Decode(b []byte) (event.Event, error) {
	var j jsonEvent
	if err := json.Unmarshal(b, &j); err != nil {
		return event.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	kind, err := event.ParseKind(j.Type)
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	side, err := event.ParseSide(j.Side)
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return event.Event{
		Kind:    kind,
		Seq:     j.Seq,
		Symbol:  book.Symbol(j.Symbol),
		Side:    side,
		Price:   j.Price.InexactFloat64(),
		Size:    j.Size.InexactFloat64(),
		OrderID: j.OrderID,
	}, nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
