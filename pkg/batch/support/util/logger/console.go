package logger

import (
	"bytes"
	"sync"
)

// maxLineBytes bounds a buffered partial line; longer output is relayed in pieces.
const maxLineBytes = 64 << 10

// ConsoleWriter relays raw output lines to the log destination verbatim.
// Each complete line is written atomically with respect to log records; a
// trailing partial line is held until the next line break or Flush. A carriage
// return ends a line too, so progress output is relayed as it is drawn.
// Prefix, when set, is prepended to every relayed line.
type ConsoleWriter struct {
	Prefix string

	mu  sync.Mutex
	buf []byte
}

// NewConsoleWriter returns a ConsoleWriter that prefixes every line with prefix.
func NewConsoleWriter(prefix string) *ConsoleWriter {
	return &ConsoleWriter{Prefix: prefix}
}

// Write implements io.Writer.
func (w *ConsoleWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		line := w.buf[:i:i]
		next := i + 1
		if w.buf[i] == '\r' {
			if next == len(w.buf) {
				// Wait for the next write: it may start with the \n of a CRLF.
				break
			}
			if w.buf[next] == '\n' {
				next++
			} else if len(line) == 0 {
				w.buf = w.buf[next:]
				continue
			}
		}
		w.emit(append(line, '\n'))
		w.buf = w.buf[next:]
	}
	for len(w.buf) >= maxLineBytes {
		w.emit(append(w.buf[:maxLineBytes:maxLineBytes], '\n'))
		w.buf = w.buf[maxLineBytes:]
	}
	return len(p), nil
}

// WriteLine relays a single line, appending a newline.
func (w *ConsoleWriter) WriteLine(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(append([]byte(line), '\n'))
}

// Flush relays any buffered partial line.
func (w *ConsoleWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if line := bytes.TrimSuffix(w.buf, []byte("\r")); len(line) > 0 {
		w.emit(append(line[:len(line):len(line)], '\n'))
	}
	w.buf = nil
}

func (w *ConsoleWriter) emit(line []byte) {
	outMu.Lock()
	defer outMu.Unlock()
	if w.Prefix != "" {
		_, _ = out.Write([]byte(w.Prefix))
	}
	_, _ = out.Write(line)
}
