package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// fileWriter writes audit events to a file with rotation
type fileWriter struct {
	logger  *lumberjack.Logger
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewFileWriter creates a new file writer with log rotation
func NewFileWriter(filename string, maxSizeMB, maxAgeDays, maxBackups int) (Writer, error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	logger := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxAge:     maxAgeDays,
		MaxBackups: maxBackups,
		LocalTime:  true,
		Compress:   true,
	}

	w := &fileWriter{
		logger:  logger,
		encoder: json.NewEncoder(logger),
	}

	// Startup marker. A trail that begins without one was truncated.
	if err := w.Write(markerEvent(EventTypeStartup, "audit log started")); err != nil {
		return nil, fmt.Errorf("write startup event: %w", err)
	}

	return w, nil
}

// Write writes an event to the file
func (w *fileWriter) Write(ev *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.encoder.Encode(ev)
}

// Close writes the shutdown marker and closes the file
func (w *fileWriter) Close() error {
	_ = w.Write(markerEvent(EventTypeShutdown, "audit log stopped"))

	return w.logger.Close()
}

// markerEvent builds the startup/shutdown records the writer emits itself.
// Markers sit outside the hash chain.
func markerEvent(typ EventType, info string) *Event {
	ev := NewEvent(typ, "audit_log")
	ev.Info = info
	return ev
}
