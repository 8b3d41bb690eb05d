package results

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/torosent/loadforge/internal/dispatcher"
)

// Writer appends entries to a JSON Lines record log. It implements
// runner.Sink and is safe for concurrent use. Encoding failures are
// remembered and reported by Err and Close rather than interrupting the run.
type Writer struct {
	mu       sync.Mutex
	instance int
	closer   io.Closer
	buf      *bufio.Writer
	enc      *json.Encoder
	err      error
}

// NewWriter writes entries for instance to w. If w is an io.Closer, Close
// closes it.
func NewWriter(w io.Writer, instance int) *Writer {
	buf := bufio.NewWriterSize(w, 64*1024)
	out := &Writer{instance: instance, buf: buf, enc: json.NewEncoder(buf)}
	out.enc.SetEscapeHTML(false)
	if c, ok := w.(io.Closer); ok {
		out.closer = c
	}
	return out
}

// Create opens path for appending, creating it if needed.
func Create(path string, instance int) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open record log: %w", err)
	}
	return NewWriter(f, instance), nil
}

// Observe writes one record.
func (w *Writer) Observe(rec dispatcher.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	if err := w.enc.Encode(FromRecord(w.instance, rec)); err != nil {
		w.err = fmt.Errorf("write record: %w", err)
	}
}

// Flush pushes buffered entries to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil && w.err == nil {
		w.err = fmt.Errorf("flush record log: %w", err)
	}
	return w.err
}

// Err returns the first write error, if any.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close flushes and closes the log. Further calls only flush.
func (w *Writer) Close() error {
	err := w.Flush()
	w.mu.Lock()
	closer := w.closer
	w.closer = nil
	w.mu.Unlock()
	if closer != nil {
		if cerr := closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// ReadEntries decodes a record log, calling fn for each entry in order.
// Blank lines are skipped.
func ReadEntries(r io.Reader, fn func(Entry) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return scanner.Err()
}
