package sequence

import (
	"sync/atomic"

	"bookbuilder/domain/event"
)

// Sequencer hands out strictly increasing event sequence numbers.
// Safe for concurrent use.
type Sequencer struct {
	last atomic.Uint64
}

// New starts after last; pass the last sequence seen on replay, or 0.
func New(last uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(last)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued or observed sequence.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Stamp assigns the next sequence to e unless it already carries one
// that is ahead of the sequencer, in which case the sequencer catches up.
func (s *Sequencer) Stamp(e *event.Event) {
	if e.Seq == 0 {
		e.Seq = s.Next()
		return
	}
	s.Observe(e.Seq)
}

// Observe advances the sequencer to seq if seq is newer.
func (s *Sequencer) Observe(seq uint64) {
	for {
		cur := s.last.Load()
		if seq <= cur || s.last.CompareAndSwap(cur, seq) {
			return
		}
	}
}
