package batch

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/ipc"
	"github.com/apache/arrow/go/v10/arrow/memory"
)

// EncodeStream returns rec encoded as one self-contained Arrow IPC stream:
// schema, one record batch and the end-of-stream marker.
func EncodeStream(mem memory.Allocator, rec arrow.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	if err := w.Write(rec); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("write ipc record: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close ipc stream: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadStreams decodes consecutive IPC streams from r and calls fn for every
// record in order. Records are released after fn returns; fn must Retain any
// record it keeps.
func ReadStreams(mem memory.Allocator, r io.Reader, fn func(arrow.Record) error) error {
	br := bufio.NewReader(r)
	for stream := 0; ; stream++ {
		if _, err := br.Peek(1); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read ipc stream %d: %w", stream, err)
		}
		if err := readStream(mem, br, fn); err != nil {
			return fmt.Errorf("ipc stream %d: %w", stream, err)
		}
	}
}

func readStream(mem memory.Allocator, r io.Reader, fn func(arrow.Record) error) error {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return err
	}
	defer rdr.Release()

	for rdr.Next() {
		if err := fn(rdr.Record()); err != nil {
			return err
		}
	}
	return rdr.Err()
}
