package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"bookbuilder/domain/event"
	"bookbuilder/infra/codec"
)

const headerSize = 1 + 8 + 8 + 4

// maxPayload bounds a single frame so a corrupt length cannot trigger a
// huge allocation.
const maxPayload = 1 << 20

var (
	ErrCorruptFrame = errors.New("journal: corrupt frame")
	ErrSequence     = errors.New("journal: non-monotonic sequence")

	// errTorn marks a frame cut short by the end of the file.
	errTorn = errors.New("torn frame")
)

// Record is one replayed frame.
type Record struct {
	Time  int64 // unix nanoseconds at append
	Event event.Event
}

func appendFrame(buf []byte, e event.Event, ts int64) []byte {
	start := len(buf)
	buf = append(buf, make([]byte, headerSize)...)
	buf = codec.AppendBinary(buf, e)
	payloadLen := len(buf) - start - headerSize

	h := buf[start : start+headerSize]
	h[0] = byte(e.Kind)
	binary.BigEndian.PutUint64(h[1:9], e.Seq)
	binary.BigEndian.PutUint64(h[9:17], uint64(ts))
	binary.BigEndian.PutUint32(h[17:21], uint32(payloadLen))

	return binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf[start:]))
}

// readFrame returns io.EOF only on a clean frame boundary.
func readFrame(r io.Reader) (*Record, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: %w in header", ErrCorruptFrame, errTorn)
		}
		return nil, err
	}

	seq := binary.BigEndian.Uint64(header[1:9])
	ts := int64(binary.BigEndian.Uint64(header[9:17]))
	l := binary.BigEndian.Uint32(header[17:21])
	if l > maxPayload {
		return nil, fmt.Errorf("%w: payload length %d at seq %d", ErrCorruptFrame, l, seq)
	}

	body := make([]byte, l+4)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: %w at seq %d", ErrCorruptFrame, errTorn, seq)
	}
	payload := body[:l]

	sum := crc32.NewIEEE()
	sum.Write(header[:])
	sum.Write(payload)
	if sum.Sum32() != binary.BigEndian.Uint32(body[l:]) {
		return nil, fmt.Errorf("%w: crc mismatch at seq %d", ErrCorruptFrame, seq)
	}

	e, err := codec.Binary{}.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: seq %d: %v", ErrCorruptFrame, seq, err)
	}
	e.Kind = event.Kind(header[0])
	e.Seq = seq
	return &Record{Time: ts, Event: e}, nil
}
