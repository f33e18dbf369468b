package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
)

// stdoutWriter writes audit events to stdout as JSON lines
type stdoutWriter struct {
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewStdoutWriter creates a new stdout writer
func NewStdoutWriter() Writer {
	return newStreamWriter(os.Stdout)
}

func newStreamWriter(w io.Writer) Writer {
	return &stdoutWriter{
		encoder: json.NewEncoder(w),
	}
}

// Write writes an event as one JSON line
func (w *stdoutWriter) Write(ev *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.encoder.Encode(ev)
}

// Close closes the writer (no-op for stdout)
func (w *stdoutWriter) Close() error {
	return nil
}
