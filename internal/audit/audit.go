// Package audit emits security-relevant events as JSON lines. Entries
// are queued and flushed in batches so callers never block on the sink.
package audit

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/SkynetNext/gateway-dataplane/internal/config"
	"github.com/SkynetNext/gateway-dataplane/pkg/xlog"
)

// Entry is one audit record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	Source    string    `json:"source,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Logger writes entries to a configured sink. A nil *Logger is valid
// and discards everything, so callers never need an enabled check.
type Logger struct {
	sink    io.Writer
	closer  io.Closer
	entries chan *Entry
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewLogger builds a Logger from configuration. Disabled audit yields
// a nil Logger.
func NewLogger(cfg *config.AuditConfig) *Logger {
	if !cfg.Enabled {
		return nil
	}
	sink, closer := openSink(cfg.Sink)
	return NewWriterLogger(sink, closer)
}

// NewWriterLogger builds a Logger over an explicit sink.
func NewWriterLogger(w io.Writer, c io.Closer) *Logger {
	l := &Logger{
		sink:    w,
		closer:  c,
		entries: make(chan *Entry, 256),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go l.run()
	return l
}

func openSink(sink string) (io.Writer, io.Closer) {
	switch {
	case sink == "" || strings.EqualFold(sink, "stdout"):
		return os.Stdout, nil
	case strings.EqualFold(sink, "stderr"):
		return os.Stderr, nil
	case strings.HasPrefix(sink, "file://"):
		path := strings.TrimPrefix(sink, "file://")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			xlog.Warnf("Failed to create audit log dir %s: %v", filepath.Dir(path), err)
			return os.Stdout, nil
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			xlog.Warnf("Failed to open audit log file %s: %v", path, err)
			return os.Stdout, nil
		}
		return f, f
	default:
		return os.Stdout, nil
	}
}

// Log queues one entry. The entry is dropped with a warning when the
// buffer is full; the caller is never blocked.
func (l *Logger) Log(e Entry) {
	if l == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case l.entries <- &e:
	default:
		xlog.Warnf("Audit buffer full, dropping entry: action=%s", e.Action)
	}
}

func (l *Logger) run() {
	defer close(l.doneCh)
	batch := make([]*Entry, 0, 100)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case e := <-l.entries:
			batch = append(batch, e)
			if len(batch) >= 100 {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-l.stopCh:
			for {
				select {
				case e := <-l.entries:
					batch = append(batch, e)
				default:
					if len(batch) > 0 {
						l.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (l *Logger) flush(batch []*Entry) {
	for _, e := range batch {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if _, err := l.sink.Write(append(data, '\n')); err != nil {
			xlog.Warnf("Failed to write audit log: %v", err)
		}
	}
}

// Close flushes buffered entries and releases the sink.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	close(l.stopCh)
	<-l.doneCh
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
