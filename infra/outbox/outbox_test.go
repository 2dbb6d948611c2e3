package outbox

import (
	"errors"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
)

func openMem(t *testing.T) *Outbox {
	t.Helper()
	o, err := Open("outbox", vfs.NewMem())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestPutGetUpdate(t *testing.T) {
	o := openMem(t)
	if err := o.Put(7, []byte("AAPL"), []byte(`{"symbol":"AAPL"}`)); err != nil {
		t.Fatal(err)
	}

	rec, err := o.Get(7)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != StateNew || string(rec.Key) != "AAPL" || string(rec.Payload) != `{"symbol":"AAPL"}` {
		t.Fatalf("rec = %+v", rec)
	}

	if err := o.UpdateState(7, StateSent, 2); err != nil {
		t.Fatal(err)
	}
	rec, _ = o.Get(7)
	if rec.State != StateSent || rec.Retries != 2 || rec.LastAttempt == 0 {
		t.Fatalf("after update rec = %+v", rec)
	}
	if string(rec.Payload) != `{"symbol":"AAPL"}` {
		t.Fatalf("payload lost on update: %q", rec.Payload)
	}
}

func TestScanOrderAndFilter(t *testing.T) {
	o := openMem(t)
	for _, seq := range []uint64{10, 2, 300} {
		if err := o.Put(seq, nil, []byte{byte(seq)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := o.UpdateState(10, StateAcked, 0); err != nil {
		t.Fatal(err)
	}

	var seqs []uint64
	err := o.Scan(func(seq uint64, _ Record) error {
		seqs = append(seqs, seq)
		return nil
	}, StateNew)
	if err != nil {
		t.Fatal(err)
	}
	if len(seqs) != 2 || seqs[0] != 2 || seqs[1] != 300 {
		t.Fatalf("NEW seqs = %v, want [2 300]", seqs)
	}

	last, err := o.LastSeq()
	if err != nil || last != 300 {
		t.Fatalf("LastSeq = %d, %v", last, err)
	}
}

// --- Edge Cases ---

func TestMissingRecord(t *testing.T) {
	o := openMem(t)
	if _, err := o.Get(1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get err = %v, want ErrNotFound", err)
	}
	if err := o.UpdateState(1, StateSent, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateState err = %v, want ErrNotFound", err)
	}
	if last, err := o.LastSeq(); err != nil || last != 0 {
		t.Fatalf("LastSeq on empty = %d, %v", last, err)
	}
}

func TestDelete(t *testing.T) {
	o := openMem(t)
	_ = o.Put(1, nil, nil)
	if err := o.Delete(1); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Get(1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v after delete", err)
	}
}

func TestLastSeqSurvivesDrainAndReopen(t *testing.T) {
	fs := vfs.NewMem()
	o, err := Open("outbox", fs)
	if err != nil {
		t.Fatal(err)
	}
	for seq := uint64(1); seq <= 3; seq++ {
		if err := o.Put(seq, nil, []byte("q")); err != nil {
			t.Fatal(err)
		}
	}
	for seq := uint64(1); seq <= 3; seq++ {
		if err := o.UpdateState(seq, StateAcked, 0); err != nil {
			t.Fatal(err)
		}
		if err := o.Delete(seq); err != nil {
			t.Fatal(err)
		}
	}
	if last, err := o.LastSeq(); err != nil || last != 3 {
		t.Fatalf("LastSeq after drain = %d, %v, want 3", last, err)
	}
	if err := o.Close(); err != nil {
		t.Fatal(err)
	}

	o, err = Open("outbox", fs)
	if err != nil {
		t.Fatal(err)
	}
	defer o.Close()
	if last, err := o.LastSeq(); err != nil || last != 3 {
		t.Fatalf("LastSeq after reopen = %d, %v, want 3", last, err)
	}
	n := 0
	_ = o.Scan(func(uint64, Record) error { n++; return nil })
	if n != 0 {
		t.Fatalf("Scan saw %d records; the high-water key must stay out of range", n)
	}
}
