package journal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"bookbuilder/domain/event"
)

type ReplayHandler func(*Record) error

// Replay feeds every frame under dir to fn in order and returns the last
// sequence seen. It stops at the first error from fn or from the files.
func Replay(dir string, fn ReplayHandler) (lastSeq uint64, err error) {
	files, err := segments(dir)
	if err != nil {
		return 0, err
	}
	for _, path := range files {
		if lastSeq, err = replaySegment(path, lastSeq, fn); err != nil {
			return lastSeq, err
		}
	}
	return lastSeq, nil
}

func replaySegment(path string, lastSeq uint64, fn ReplayHandler) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return lastSeq, err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64<<10)
	for {
		rec, err := readFrame(r)
		if err == io.EOF {
			return lastSeq, nil
		}
		if err != nil {
			return lastSeq, fmt.Errorf("%s: %w", path, err)
		}
		if rec.Event.Seq <= lastSeq {
			return lastSeq, fmt.Errorf("%s: %w: %d after %d", path, ErrSequence, rec.Event.Seq, lastSeq)
		}
		lastSeq = rec.Event.Seq
		if err := fn(rec); err != nil {
			return lastSeq, err
		}
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// recoverSegment scans one segment for its final sequence. A torn final
// frame, left by a crashed writer, is cut off so the segment replays
// cleanly; any other damage is returned.
func recoverSegment(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var last uint64
	var good int64
	r := &countingReader{r: f}
	br := bufio.NewReader(r)
	for {
		rec, err := readFrame(br)
		if err == io.EOF {
			return last, nil
		}
		if errors.Is(err, errTorn) {
			if err := os.Truncate(path, good); err != nil {
				return last, fmt.Errorf("journal: truncate torn tail of %s: %w", path, err)
			}
			return last, nil
		}
		if err != nil {
			return last, fmt.Errorf("%s: %w", path, err)
		}
		last = rec.Event.Seq
		good = r.n - int64(br.Buffered())
	}
}

// Source replays a journal directory as a feed.
type Source struct {
	Dir string
}

func (s Source) Run(ctx context.Context, emit func(event.Event) error) error {
	_, err := Replay(s.Dir, func(rec *Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return emit(rec.Event)
	})
	return err
}
