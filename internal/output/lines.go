package output

import (
	"bytes"
	"sync"
)

// LineWriter is an io.Writer that reassembles lines split across Write
// calls and hands each complete line (without the newline) to fn.
type LineWriter struct {
	mu  sync.Mutex
	buf []byte
	fn  func(line []byte)
}

// NewLineWriter returns a LineWriter that calls fn once per line.
func NewLineWriter(fn func(line []byte)) *LineWriter {
	return &LineWriter{fn: fn}
}

// Write implements io.Writer.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(w.buf[:i], []byte("\r"))
		w.emit(line)
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits a trailing line that had no newline.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *LineWriter) emit(line []byte) {
	if w.fn == nil {
		return
	}
	out := make([]byte, len(line))
	copy(out, line)
	w.fn(out)
}
