package service

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"bookbuilder/domain/book"
)

// QuoteMessage is the broadcast payload for a best bid/offer change.
// An empty side has a zero count.
type QuoteMessage struct {
	Symbol   string    `json:"symbol"`
	Seq      uint64    `json:"seq"`
	EventSeq uint64    `json:"event_seq,omitempty"`
	Bid      QuoteSide `json:"bid"`
	Ask      QuoteSide `json:"ask"`
}

type QuoteSide struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
	Count int             `json:"count"`
}

func quoteSide(l book.Level) (QuoteSide, error) {
	for _, f := range []float64{l.Price, l.Size} {
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return QuoteSide{}, fmt.Errorf("non-finite level %+v", l)
		}
	}
	return QuoteSide{
		Price: decimal.NewFromFloat(l.Price),
		Size:  decimal.NewFromFloat(l.Size),
		Count: l.Count,
	}, nil
}

func encodeQuote(sym book.Symbol, seq, eventSeq uint64, q book.Quote) ([]byte, error) {
	bid, err := quoteSide(q.Bid)
	if err != nil {
		return nil, err
	}
	ask, err := quoteSide(q.Ask)
	if err != nil {
		return nil, err
	}
	return json.Marshal(QuoteMessage{
		Symbol:   string(sym),
		Seq:      seq,
		EventSeq: eventSeq,
		Bid:      bid,
		Ask:      ask,
	})
}
