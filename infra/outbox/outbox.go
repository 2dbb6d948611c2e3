// Package outbox keeps outgoing BBO messages in pebble until the
// broadcaster has delivered them.
package outbox

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

var ErrNotFound = errors.New("outbox: no such message")

// Record is one queued message.
type Record struct {
	State       State
	Retries     uint32
	LastAttempt int64
	Key         []byte // partitioning key for the sink
	Payload     []byte
}

const recordHeader = 1 + 4 + 8 + 2

// [state:1][retries:4][lastAttempt:8][keyLen:2][key][payload]
func encodeRecord(r Record) []byte {
	buf := make([]byte, recordHeader, recordHeader+len(r.Key)+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	binary.BigEndian.PutUint16(buf[13:15], uint16(len(r.Key)))
	buf = append(buf, r.Key...)
	return append(buf, r.Payload...)
}

func decodeRecord(b []byte) (Record, error) {
	if len(b) < recordHeader {
		return Record{}, fmt.Errorf("outbox: record too short (%d bytes)", len(b))
	}
	keyEnd := recordHeader + int(binary.BigEndian.Uint16(b[13:15]))
	if len(b) < keyEnd {
		return Record{}, fmt.Errorf("outbox: key overruns record (%d > %d bytes)", keyEnd, len(b))
	}
	return Record{
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Key:         bytes.Clone(b[recordHeader:keyEnd]),
		Payload:     bytes.Clone(b[keyEnd:]),
	}, nil
}

type Outbox struct {
	db *pebble.DB

	mu      sync.Mutex
	lastSeq uint64 // high-water mark, survives delivery and deletion
}

// Open opens the outbox stored in dir. fs may be nil for the real
// filesystem; tests pass vfs.NewMem().
func Open(dir string, fs vfs.FS) (*Outbox, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("outbox open %s: %w", dir, err)
	}
	o := &Outbox{db: db}
	if o.lastSeq, err = o.readLastSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return o, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// Put queues payload under seq in state NEW.
func (o *Outbox) Put(seq uint64, key, payload []byte) error {
	if len(key) > 0xffff {
		return fmt.Errorf("outbox: key of %d bytes too long", len(key))
	}
	rec := Record{State: StateNew, Key: key, Payload: payload}

	o.mu.Lock()
	defer o.mu.Unlock()

	b := o.db.NewBatch()
	defer b.Close()
	if err := b.Set(keyFor(seq), encodeRecord(rec), nil); err != nil {
		return err
	}
	if seq > o.lastSeq {
		if err := b.Set([]byte(lastSeqKey), binary.BigEndian.AppendUint64(nil, seq), nil); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return err
	}
	o.lastSeq = max(o.lastSeq, seq)
	return nil
}

// UpdateState moves seq to state and stamps the attempt time, keeping
// its payload.
func (o *Outbox) UpdateState(seq uint64, state State, retries uint32) error {
	rec, err := o.Get(seq)
	if err != nil {
		return err
	}
	rec.State = state
	rec.Retries = retries
	rec.LastAttempt = time.Now().UnixNano()
	return o.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

func (o *Outbox) Delete(seq uint64) error {
	return o.db.Delete(keyFor(seq), pebble.Sync)
}

func (o *Outbox) Get(seq uint64) (Record, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()
	return decodeRecord(val)
}

// Scan visits, in sequence order, every record in one of states. No
// states means all records.
func (o *Outbox) Scan(fn func(seq uint64, rec Record) error, states ...State) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		rec, err := decodeRecord(iter.Value())
		if err != nil {
			return err
		}
		if len(states) > 0 && !hasState(states, rec.State) {
			continue
		}
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		if err := fn(seq, rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// LastSeq returns the highest sequence ever queued, including messages
// already delivered and deleted, or 0 for a new outbox.
func (o *Outbox) LastSeq() (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSeq, nil
}

func (o *Outbox) readLastSeq() (uint64, error) {
	val, closer, err := o.db.Get([]byte(lastSeqKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("outbox: bad %s value (%d bytes)", lastSeqKey, len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

func hasState(states []State, s State) bool {
	for _, want := range states {
		if want == s {
			return true
		}
	}
	return false
}

const (
	keyPrefix  = "bbo/"
	lastSeqKey = "meta/last_seq"
)

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	return strconv.ParseUint(string(bytes.TrimPrefix(b, []byte(keyPrefix))), 10, 64)
}
