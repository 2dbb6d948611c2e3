package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"bookbuilder/domain/event"
	"bookbuilder/infra/sequence"
)

type Config struct {
	Dir             string
	SegmentSize     int64
	SegmentDuration time.Duration // 0 disables time based rotation
	Sync            bool          // fsync after every append
}

type segment struct {
	file   *os.File
	offset int64
}

func openSegment(dir string, index int) (*segment, error) {
	f, err := os.OpenFile(segmentPath(dir, index), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &segment{file: f, offset: st.Size()}, nil
}

func segmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("segment-%06d.jnl", index))
}

func segments(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "segment-*.jnl"))
}

// Writer appends events to a journal directory. Not safe for concurrent
// use.
type Writer struct {
	cfg        Config
	seq        *sequence.Sequencer
	current    *segment
	segIndex   int
	lastRotate time.Time
	buf        []byte
}

// Open prepares dir for appending. An existing journal is resumed: the
// sequence continues after its last frame and writing starts in a fresh
// segment.
func Open(cfg Config) (*Writer, error) {
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = 64 << 20
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	existing, err := segments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	var lastSeq uint64
	index := 0
	if len(existing) > 0 {
		last := existing[len(existing)-1]
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(last), "segment-"), ".jnl")
		if index, err = strconv.Atoi(name); err != nil {
			return nil, fmt.Errorf("journal: parse segment name %q: %w", last, err)
		}
		index++
		for i := len(existing) - 1; i >= 0 && lastSeq == 0; i-- {
			if lastSeq, err = recoverSegment(existing[i]); err != nil {
				return nil, err
			}
		}
	}

	seg, err := openSegment(cfg.Dir, index)
	if err != nil {
		return nil, err
	}
	return &Writer{
		cfg:        cfg,
		seq:        sequence.New(lastSeq),
		current:    seg,
		segIndex:   index,
		lastRotate: time.Now(),
	}, nil
}

// Append stamps e with the next sequence (or adopts e.Seq when it is
// ahead) and writes it. It returns the sequence written.
func (w *Writer) Append(e event.Event) (uint64, error) {
	if e.Seq != 0 && e.Seq <= w.seq.Current() {
		return 0, fmt.Errorf("%w: %d after %d", ErrSequence, e.Seq, w.seq.Current())
	}
	w.seq.Stamp(&e)

	w.buf = appendFrame(w.buf[:0], e, time.Now().UnixNano())
	n, err := w.current.file.Write(w.buf)
	w.current.offset += int64(n)
	if err != nil {
		return 0, err
	}
	if w.cfg.Sync {
		if err := w.current.file.Sync(); err != nil {
			return 0, err
		}
	}

	if w.shouldRotate() {
		if err := w.rotate(); err != nil {
			return e.Seq, err
		}
	}
	return e.Seq, nil
}

// LastSeq returns the sequence of the last frame written or resumed.
func (w *Writer) LastSeq() uint64 { return w.seq.Current() }

func (w *Writer) shouldRotate() bool {
	return w.current.offset >= w.cfg.SegmentSize ||
		(w.cfg.SegmentDuration > 0 && time.Since(w.lastRotate) >= w.cfg.SegmentDuration)
}

func (w *Writer) rotate() error {
	if err := w.current.file.Close(); err != nil {
		return err
	}
	w.segIndex++

	seg, err := openSegment(w.cfg.Dir, w.segIndex)
	if err != nil {
		return err
	}
	w.current = seg
	w.lastRotate = time.Now()
	return nil
}

func (w *Writer) Close() error {
	if err := w.current.file.Sync(); err != nil {
		_ = w.current.file.Close()
		return err
	}
	return w.current.file.Close()
}
