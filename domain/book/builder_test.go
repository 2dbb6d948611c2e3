package book

import (
	"errors"
	"math"
	"reflect"
	"slices"
	"testing"
)

const sym Symbol = "S"

func ids(orders []Order) []uint64 {
	out := make([]uint64, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.ID)
	}
	slices.Sort(out)
	return out
}

func mustApply(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// checkIndex asserts the index and the ledgers describe the same orders.
func checkIndex(t *testing.T, b *Builder) {
	t.Helper()
	seen := 0
	for _, side := range []Side{Bid, Ask} {
		for s, l := range b.ledgers(side) {
			if l.Len() == 0 {
				t.Fatalf("empty ledger kept for %s/%s", s, side)
			}
			verify(t, l)
			l.ascend(func(o Order) bool {
				loc, ok := b.index[o.ID]
				if !ok {
					t.Fatalf("ledger order %d missing from index", o.ID)
				}
				if loc.symbol != s || loc.side != side || loc.ledger != l || loc.node.order != o {
					t.Fatalf("index entry for %d points elsewhere", o.ID)
				}
				seen++
				return true
			})
		}
	}
	if seen != len(b.index) {
		t.Fatalf("ledgers hold %d orders, index has %d", seen, len(b.index))
	}
}

func TestEndToEndScenarios(t *testing.T) {
	b := NewBuilder()

	// 1. two bids tied at the best price
	mustApply(t, b.OnAdd(Add{Symbol: sym, Side: Bid, Price: 10.0, Size: 5, OrderID: 1}))
	mustApply(t, b.OnAdd(Add{Symbol: sym, Side: Bid, Price: 10.0, Size: 3, OrderID: 2}))
	mustApply(t, b.OnAdd(Add{Symbol: sym, Side: Bid, Price: 9.5, Size: 1, OrderID: 3}))
	if got := ids(b.BestBids(sym)); !reflect.DeepEqual(got, []uint64{1, 2}) {
		t.Fatalf("scenario 1: best bids = %v, want [1 2]", got)
	}
	checkIndex(t, b)

	// 2. delete one of them
	mustApply(t, b.OnDelete(Delete{Symbol: sym, Side: Bid, OrderID: 1}))
	best := b.BestBids(sym)
	if len(best) != 1 || best[0].ID != 2 || best[0].Price != 10.0 {
		t.Fatalf("scenario 2: best bids = %+v", best)
	}
	checkIndex(t, b)

	// 3. update moves id 2 up
	mustApply(t, b.OnUpdate(Update{Symbol: sym, Side: Bid, Price: 11.0, Size: 3, OrderID: 2}))
	best = b.BestBids(sym)
	if len(best) != 1 || best[0].ID != 2 || best[0].Price != 11.0 {
		t.Fatalf("scenario 3: best bids = %+v", best)
	}
	checkIndex(t, b)

	// 4. delete of a never-added id
	before := b.Orders(sym, Bid)
	if err := b.OnDelete(Delete{Symbol: sym, Side: Bid, OrderID: 999}); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("scenario 4: err = %v, want ErrUnknownOrder", err)
	}
	if after := b.Orders(sym, Bid); !reflect.DeepEqual(before, after) {
		t.Fatalf("scenario 4: ledger changed: %+v -> %+v", before, after)
	}
	checkIndex(t, b)

	// 5. asks are isolated from bids
	mustApply(t, b.OnAdd(Add{Symbol: sym, Side: Ask, Price: 12.0, Size: 2, OrderID: 4}))
	mustApply(t, b.OnAdd(Add{Symbol: sym, Side: Ask, Price: 12.0, Size: 1, OrderID: 5}))
	if got := ids(b.BestOffers(sym)); !reflect.DeepEqual(got, []uint64{4, 5}) {
		t.Fatalf("scenario 5: best offers = %v, want [4 5]", got)
	}
	if got := ids(b.BestBids(sym)); !reflect.DeepEqual(got, []uint64{2}) {
		t.Fatalf("scenario 5: best bids = %v, want [2]", got)
	}
	checkIndex(t, b)

	// 6. untouched symbol
	if got := b.BestBids("T"); len(got) != 0 {
		t.Errorf("scenario 6: best bids for T = %+v", got)
	}
	if got := b.BestOffers("T"); len(got) != 0 {
		t.Errorf("scenario 6: best offers for T = %+v", got)
	}
	if _, ok := b.bids["T"]; ok {
		t.Error("query must not create a ledger")
	}
}

func TestUnknownIdsAreNoOps(t *testing.T) {
	tests := []struct {
		name  string
		apply func(b *Builder) error
		kind  AnomalyKind
	}{
		{
			name:  "update never added",
			apply: func(b *Builder) error { return b.OnUpdate(Update{Symbol: "X", Side: Ask, Price: 1, Size: 1, OrderID: 42}) },
			kind:  UnknownUpdate,
		},
		{
			name:  "delete never added",
			apply: func(b *Builder) error { return b.OnDelete(Delete{Symbol: "X", Side: Bid, OrderID: 42}) },
			kind:  UnknownDelete,
		},
		{
			name: "delete twice",
			apply: func(b *Builder) error {
				_ = b.OnDelete(Delete{Symbol: sym, Side: Bid, OrderID: 1})
				return b.OnDelete(Delete{Symbol: sym, Side: Bid, OrderID: 1})
			},
			kind: UnknownDelete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			mustApply(t, b.OnAdd(Add{Symbol: sym, Side: Bid, Price: 10, Size: 1, OrderID: 1}))
			mustApply(t, b.OnAdd(Add{Symbol: "Other", Side: Ask, Price: 20, Size: 1, OrderID: 2}))
			other := b.Orders("Other", Ask)

			if err := tt.apply(b); !errors.Is(err, ErrUnknownOrder) {
				t.Fatalf("err = %v, want ErrUnknownOrder", err)
			}
			if got := b.Stats().Count(tt.kind); got != 1 {
				t.Errorf("%s count = %d, want 1", tt.kind, got)
			}
			if got := b.Orders("Other", Ask); !reflect.DeepEqual(got, other) {
				t.Errorf("other symbol changed: %+v", got)
			}
			if _, ok := b.bids["X"]; ok {
				t.Error("unknown event must not create a ledger")
			}
			checkIndex(t, b)
		})
	}
}

func TestDuplicateAddRejected(t *testing.T) {
	var seen []AnomalyKind
	b := NewBuilder(WithObserver(ObserverFunc(func(k AnomalyKind, id uint64) {
		seen = append(seen, k)
	})))
	mustApply(t, b.OnAdd(Add{Symbol: sym, Side: Bid, Price: 10, Size: 1, OrderID: 1}))

	err := b.OnAdd(Add{Symbol: sym, Side: Ask, Price: 99, Size: 9, OrderID: 1})
	if !errors.Is(err, ErrDuplicateOrder) {
		t.Fatalf("err = %v, want ErrDuplicateOrder", err)
	}
	o, s, side, ok := b.Lookup(1)
	if !ok || s != sym || side != Bid || o.Price != 10 {
		t.Errorf("original order overwritten: %+v %s %s", o, s, side)
	}
	if b.Depth(sym, Ask) != 0 {
		t.Error("duplicate add leaked into the ask side")
	}
	if !reflect.DeepEqual(seen, []AnomalyKind{DuplicateAdd}) {
		t.Errorf("observer saw %v", seen)
	}
}

func TestUpdateRoutesByRecordedLocation(t *testing.T) {
	b := NewBuilder()
	mustApply(t, b.OnAdd(Add{Symbol: sym, Side: Bid, Price: 10, Size: 1, OrderID: 1}))

	// event claims the wrong side and symbol; the bid on S must move
	mustApply(t, b.OnUpdate(Update{Symbol: "Z", Side: Ask, Price: 10.5, Size: 2, OrderID: 1}))

	best := b.BestBids(sym)
	if len(best) != 1 || best[0].Price != 10.5 || best[0].Size != 2 {
		t.Fatalf("best bids = %+v", best)
	}
	if b.Depth("Z", Ask) != 0 || b.Depth(sym, Ask) != 0 {
		t.Error("mismatching update touched another ledger")
	}
	st := b.Stats()
	if st.Count(SideMismatch) != 1 || st.Count(SymbolMismatch) != 1 {
		t.Errorf("mismatch counters = %d/%d", st.Count(SideMismatch), st.Count(SymbolMismatch))
	}

	mustApply(t, b.OnDelete(Delete{Symbol: sym, Side: Ask, OrderID: 1}))
	if b.Len() != 0 || len(b.Symbols()) != 0 {
		t.Errorf("delete routed by event side left %d orders", b.Len())
	}
}

func TestUpdatePreservesIdentity(t *testing.T) {
	tests := []struct {
		name    string
		price   float64
		size    float64
		inPlace bool
	}{
		{name: "size only, order kept", price: 10, size: 1.5, inPlace: true},
		{name: "crosses neighbour", price: 12, size: 1, inPlace: false},
		{name: "drops below all", price: 1, size: 1, inPlace: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			mustApply(t, b.OnAdd(Add{Symbol: sym, Side: Ask, Price: 9, Size: 1, OrderID: 1}))
			mustApply(t, b.OnAdd(Add{Symbol: sym, Side: Ask, Price: 10, Size: 1, OrderID: 2}))
			mustApply(t, b.OnAdd(Add{Symbol: sym, Side: Ask, Price: 11, Size: 1, OrderID: 3}))

			mustApply(t, b.OnUpdate(Update{Symbol: sym, Side: Ask, Price: tt.price, Size: tt.size, OrderID: 2}))

			if got := b.Depth(sym, Ask); got != 3 {
				t.Fatalf("depth = %d, want 3", got)
			}
			matches := 0
			for _, o := range b.Orders(sym, Ask) {
				if o.ID == 2 {
					matches++
					if o.Price != tt.price || o.Size != tt.size {
						t.Errorf("order 2 = %+v", o)
					}
				}
			}
			if matches != 1 {
				t.Fatalf("order 2 appears %d times", matches)
			}
			if got := b.Stats().InPlace == 1; got != tt.inPlace {
				t.Errorf("in place = %v, want %v", got, tt.inPlace)
			}
			checkIndex(t, b)
		})
	}
}

func TestInvalidValuesRejected(t *testing.T) {
	b := NewBuilder()
	if err := b.OnAdd(Add{Symbol: sym, Side: Bid, Price: math.NaN(), Size: 1, OrderID: 1}); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("NaN price: err = %v", err)
	}
	if err := b.OnAdd(Add{Symbol: sym, Side: Side(7), Price: 1, Size: 1, OrderID: 1}); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("bad side: err = %v", err)
	}
	mustApply(t, b.OnAdd(Add{Symbol: sym, Side: Bid, Price: 1, Size: 1, OrderID: 1}))
	if err := b.OnUpdate(Update{Symbol: sym, Side: Bid, Price: 1, Size: math.NaN(), OrderID: 1}); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("NaN size: err = %v", err)
	}
	if o, _, _, _ := b.Lookup(1); o.Size != 1 {
		t.Errorf("rejected update changed the order: %+v", o)
	}
	if got := b.Stats().Count(InvalidOrder); got != 3 {
		t.Errorf("invalid count = %d, want 3", got)
	}
}

func TestBBOAndSymbols(t *testing.T) {
	b := NewBuilder()
	mustApply(t, b.OnAdd(Add{Symbol: "B", Side: Bid, Price: 5, Size: 2, OrderID: 1}))
	mustApply(t, b.OnAdd(Add{Symbol: "B", Side: Bid, Price: 5, Size: 3, OrderID: 2}))
	mustApply(t, b.OnAdd(Add{Symbol: "A", Side: Ask, Price: 7, Size: 1, OrderID: 3}))

	q := b.BBO("B")
	if q.Bid != (Level{Price: 5, Size: 5, Count: 2}) {
		t.Errorf("bid level = %+v", q.Bid)
	}
	if !q.Ask.Empty() {
		t.Errorf("ask level = %+v, want empty", q.Ask)
	}
	if got := b.Symbols(); !reflect.DeepEqual(got, []Symbol{"A", "B"}) {
		t.Errorf("symbols = %v", got)
	}
}

func TestBestBidsOrderedFromTop(t *testing.T) {
	b := NewBuilder()
	mustApply(t, b.OnAdd(Add{Symbol: sym, Side: Bid, Price: 3, Size: 1, OrderID: 10}))
	mustApply(t, b.OnAdd(Add{Symbol: sym, Side: Bid, Price: 3, Size: 2, OrderID: 11}))
	mustApply(t, b.OnAdd(Add{Symbol: sym, Side: Bid, Price: 3, Size: 1, OrderID: 12}))

	got := b.BestBids(sym)
	want := []Order{{3, 2, 11}, {3, 1, 12}, {3, 1, 10}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("best bids = %+v, want %+v", got, want)
	}
}
