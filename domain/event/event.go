// Package event defines the envelope that carries book mutations from a
// decoder or feed into a book.Subscriber.
package event

import (
	"fmt"

	"bookbuilder/domain/book"
)

type Kind uint8

const (
	KindAdd Kind = iota + 1
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindAdd:
		return "add"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind accepts the names produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "add":
		return KindAdd, nil
	case "update":
		return KindUpdate, nil
	case "delete":
		return KindDelete, nil
	}
	return 0, fmt.Errorf("event: unknown kind %q", s)
}

// ParseSide accepts "bid"/"buy" and "ask"/"sell".
func ParseSide(s string) (book.Side, error) {
	switch s {
	case "bid", "buy":
		return book.Bid, nil
	case "ask", "sell", "offer":
		return book.Ask, nil
	}
	return 0, fmt.Errorf("event: unknown side %q", s)
}

// Event is one decoded book mutation. Seq is assigned by the producer of
// the stream (journal writer or feed) and is zero when unknown.
type Event struct {
	Kind    Kind
	Seq     uint64
	Symbol  book.Symbol
	Side    book.Side
	Price   float64
	Size    float64
	OrderID uint64
}

func Add(sym book.Symbol, side book.Side, price, size float64, id uint64) Event {
	return Event{Kind: KindAdd, Symbol: sym, Side: side, Price: price, Size: size, OrderID: id}
}

func Update(sym book.Symbol, side book.Side, price, size float64, id uint64) Event {
	return Event{Kind: KindUpdate, Symbol: sym, Side: side, Price: price, Size: size, OrderID: id}
}

func Delete(sym book.Symbol, side book.Side, id uint64) Event {
	return Event{Kind: KindDelete, Symbol: sym, Side: side, OrderID: id}
}

func (e Event) fields() book.Add {
	return book.Add{Symbol: e.Symbol, Side: e.Side, Price: e.Price, Size: e.Size, OrderID: e.OrderID}
}

// Dispatch hands e to the matching handler of s.
func (e Event) Dispatch(s book.Subscriber) error {
	switch e.Kind {
	case KindAdd:
		return s.OnAdd(e.fields())
	case KindUpdate:
		return s.OnUpdate(book.Update(e.fields()))
	case KindDelete:
		return s.OnDelete(book.Delete(e.fields()))
	default:
		return fmt.Errorf("event: cannot dispatch %s", e.Kind)
	}
}
