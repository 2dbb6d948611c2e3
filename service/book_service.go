package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"bookbuilder/domain/book"
	"bookbuilder/domain/event"
	"bookbuilder/infra/sequence"
	"bookbuilder/metrics"
)

// Outbox queues BBO messages for delivery.
type Outbox interface {
	Put(seq uint64, key, payload []byte) error
}

type Config struct {
	// Strict returns book errors (duplicate, unknown or invalid orders)
	// from Apply instead of only counting them.
	Strict bool
	// Capacity pre-sizes the order index.
	Capacity int
}

// BookService is the only write entry point into the book. It guards
// the single-threaded builder with a RWMutex, records metrics, and
// hands best bid/offer changes to the outbox.
type BookService struct {
	mu      sync.RWMutex
	book    *book.Builder
	quotes  map[book.Symbol]book.Quote
	lastSeq uint64

	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics

	outbox Outbox
	outSeq *sequence.Sequencer
}

type Option func(*BookService)

// WithOutbox publishes every BBO change to o, numbering messages after
// lastSeq.
func WithOutbox(o Outbox, lastSeq uint64) Option {
	return func(s *BookService) {
		s.outbox = o
		s.outSeq = sequence.New(lastSeq)
	}
}

func New(cfg Config, log *zap.Logger, m *metrics.Metrics, opts ...Option) *BookService {
	s := &BookService{
		quotes:  make(map[book.Symbol]book.Quote),
		cfg:     cfg,
		log:     log.With(zap.String("component", "book")),
		metrics: m,
	}
	s.book = book.NewBuilder(
		book.WithCapacity(cfg.Capacity),
		book.WithObserver(book.ObserverFunc(s.anomaly)),
	)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// Apply feeds one event to the book. Rejected events leave the book
// untouched; they are counted and, in strict mode, returned. Outbox
// failures are always returned.
func (s *BookService) Apply(e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sym := e.Symbol
	if e.Kind != event.KindAdd {
		// The order moves within, or leaves, the symbol it was added to.
		if _, at, _, ok := s.book.Lookup(e.OrderID); ok {
			sym = at
		}
	}

	start := time.Now()
	err := e.Dispatch(s.book)
	s.metrics.ApplyDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		s.log.Debug("event rejected",
			zap.Stringer("kind", e.Kind),
			zap.Uint64("seq", e.Seq),
			zap.Uint64("order_id", e.OrderID),
			zap.Error(err))
		if s.cfg.Strict {
			return err
		}
		return nil
	}

	s.metrics.Events.WithLabelValues(e.Kind.String()).Inc()
	s.metrics.LiveOrders.Set(float64(s.book.Len()))
	if e.Seq != 0 {
		s.lastSeq = e.Seq
	}
	return s.checkQuote(sym, e.Seq)
}

// Run applies every event of src until it ends or ctx is done.
func (s *BookService) Run(ctx context.Context, src Source) error {
	err := src.Run(ctx, s.Apply)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *BookService) checkQuote(sym book.Symbol, eventSeq uint64) error {
	q := s.book.BBO(sym)
	if q == s.quotes[sym] {
		return nil
	}

	if s.outbox != nil {
		seq := s.outSeq.Next()
		payload, err := encodeQuote(sym, seq, eventSeq, q)
		if err != nil {
			s.log.Warn("quote not published", zap.String("symbol", string(sym)), zap.Error(err))
		} else if err := s.outbox.Put(seq, []byte(sym), payload); err != nil {
			// Left uncommitted so the next event on sym queues it again.
			return fmt.Errorf("outbox put %d: %w", seq, err)
		}
	}

	if q.Bid.Empty() && q.Ask.Empty() {
		delete(s.quotes, sym)
	} else {
		s.quotes[sym] = q
	}
	s.metrics.BBOChanges.Inc()
	return nil
}

func (s *BookService) anomaly(kind book.AnomalyKind, id uint64) {
	s.metrics.Anomalies.WithLabelValues(kind.String()).Inc()
	s.log.Debug("book anomaly", zap.Stringer("kind", kind), zap.Uint64("order_id", id))
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

func (s *BookService) BestBids(sym book.Symbol) []book.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.BestBids(sym)
}

func (s *BookService) BestOffers(sym book.Symbol) []book.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.BestOffers(sym)
}

func (s *BookService) BBO(sym book.Symbol) book.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.BBO(sym)
}

func (s *BookService) Orders(sym book.Symbol, side book.Side) []book.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.Orders(sym, side)
}

func (s *BookService) Depth(sym book.Symbol, side book.Side) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.Depth(sym, side)
}

func (s *BookService) Symbols() []book.Symbol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.Symbols()
}

func (s *BookService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.Len()
}

func (s *BookService) Stats() book.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.Stats()
}

// LastSeq returns the sequence of the last applied event that carried one.
func (s *BookService) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq
}
