package codec

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"bookbuilder/domain/book"
	"bookbuilder/domain/event"
)

// Field numbers of the wire message:
//
//	message Event {
//	  uint32  kind     = 1;
//	  uint64  seq      = 2;
//	  string  symbol   = 3;
//	  uint32  side     = 4;
//	  double  price    = 5;
//	  double  size     = 6;
//	  uint64  order_id = 7;
//	}
const (
	fieldKind    protowire.Number = 1
	fieldSeq     protowire.Number = 2
	fieldSymbol  protowire.Number = 3
	fieldSide    protowire.Number = 4
	fieldPrice   protowire.Number = 5
	fieldSize    protowire.Number = 6
	fieldOrderID protowire.Number = 7
)

// Binary encodes events in protobuf wire format.
type Binary struct{}

func (Binary) Encode(e event.Event) ([]byte, error) {
	return AppendBinary(make([]byte, 0, 48+len(e.Symbol)), e), nil
}

// AppendBinary appends the encoding of e to buf.
func AppendBinary(buf []byte, e event.Event) []byte {
	buf = protowire.AppendTag(buf, fieldKind, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(e.Kind))
	if e.Seq != 0 {
		buf = protowire.AppendTag(buf, fieldSeq, protowire.VarintType)
		buf = protowire.AppendVarint(buf, e.Seq)
	}
	buf = protowire.AppendTag(buf, fieldSymbol, protowire.BytesType)
	buf = protowire.AppendString(buf, string(e.Symbol))
	buf = protowire.AppendTag(buf, fieldSide, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(e.Side))
	buf = protowire.AppendTag(buf, fieldPrice, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, math.Float64bits(e.Price))
	buf = protowire.AppendTag(buf, fieldSize, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, math.Float64bits(e.Size))
	buf = protowire.AppendTag(buf, fieldOrderID, protowire.VarintType)
	buf = protowire.AppendVarint(buf, e.OrderID)
	return buf
}

func (Binary) Decode(b []byte) (event.Event, error) {
	var e event.Event
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return event.Event{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldSymbol && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return event.Event{}, fmt.Errorf("%w: symbol: %v", ErrMalformed, protowire.ParseError(m))
			}
			e.Symbol, n = book.Symbol(v), m
		case (num == fieldPrice || num == fieldSize) && typ == protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return event.Event{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
			}
			if num == fieldPrice {
				e.Price = math.Float64frombits(v)
			} else {
				e.Size = math.Float64frombits(v)
			}
			n = m
		case typ == protowire.VarintType && num >= fieldKind && num <= fieldOrderID:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return event.Event{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
			}
			switch num {
			case fieldKind:
				if v < uint64(event.KindAdd) || v > uint64(event.KindDelete) {
					return event.Event{}, fmt.Errorf("%w: kind %d", ErrMalformed, v)
				}
				e.Kind = event.Kind(v)
			case fieldSeq:
				e.Seq = v
			case fieldSide:
				if v != uint64(book.Bid) && v != uint64(book.Ask) {
					return event.Event{}, fmt.Errorf("%w: side %d", ErrMalformed, v)
				}
				e.Side = book.Side(v)
			case fieldOrderID:
				e.OrderID = v
			}
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return event.Event{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}

	if e.Kind < event.KindAdd || e.Kind > event.KindDelete {
		return event.Event{}, fmt.Errorf("%w: kind %d", ErrMalformed, e.Kind)
	}
	if e.Side != book.Bid && e.Side != book.Ask {
		return event.Event{}, fmt.Errorf("%w: side %d", ErrMalformed, e.Side)
	}
	return e, nil
}
