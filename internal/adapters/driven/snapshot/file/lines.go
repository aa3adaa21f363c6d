package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
)

// lineWriter appends compacted JSON documents to a file, one per line.
type lineWriter struct {
	file *os.File
	buf  *bufio.Writer
	n    int64
}

func createLineWriter(path string) (*lineWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("snapshot file %s: %w", path, domain.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("creating snapshot file: %w", err)
	}
	return &lineWriter{file: f, buf: bufio.NewWriter(f)}, nil
}

func (w *lineWriter) writeDocument(body []byte) error {
	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return fmt.Errorf("%w: snapshot record is not JSON: %v", domain.ErrInvalidInput, err)
	}
	compact.WriteByte('\n')
	return w.writeRaw(compact.Bytes())
}

func (w *lineWriter) writeRaw(line []byte) error {
	n, err := w.buf.Write(line)
	w.n += int64(n)
	if err != nil {
		return fmt.Errorf("writing snapshot file: %w", err)
	}
	return nil
}

func (w *lineWriter) flush() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flushing snapshot file: %w", err)
	}
	return nil
}

func (w *lineWriter) close() error {
	flushErr := w.flush()
	closeErr := w.file.Close()
	return errors.Join(flushErr, closeErr)
}

// lineHandler receives one non-blank line. Returning false stops the scan.
type lineHandler func(line []byte) bool

// scanLines calls fn for each non-blank line of the file at path.
func scanLines(ctx context.Context, path string, fn lineHandler) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening snapshot file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := r.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			if !fn(trimmed) {
				return ctx.Err()
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading snapshot file: %w", err)
		}
	}
}

// sendRecord delivers a record unless ctx is done.
func sendRecord(ctx context.Context, out chan<- domain.Record, segment domain.Segment, line []byte) bool {
	select {
	case out <- domain.Record{Segment: segment, Body: json.RawMessage(line)}:
		return true
	case <-ctx.Done():
		return false
	}
}
