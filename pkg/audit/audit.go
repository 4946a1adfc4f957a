// Package audit appends one structured line per tool invocation to the
// configured audit log. Recording is best-effort: a write failure is logged
// through slog, never surfaced to the tool call.
package audit

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const logPrefix = "audit:audit"

// DefaultPath is the audit destination when none is configured.
const DefaultPath = "/var/log/odoo/mcp_audit.log"

const defaultBufferSize = 256

// maxFieldLen caps rendered field values; longer values are truncated with
// an ellipsis so a single call cannot bloat the log.
const maxFieldLen = 100

// Invocation outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeTimeout     = "timeout"
	OutcomeRateLimited = "rate_limited"
)

// Field is one key/value detail pair. Fields are ordered so rendered lines
// are deterministic.
type Field struct {
	Key   string
	Value string
}

// F builds a Field.
func F(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Event is a single audit record.
type Event struct {
	Time     time.Time
	Tenant   string
	User     string
	Tool     string
	Outcome  string
	Duration time.Duration
	Fields   []Field
}

// Options configures a Sink.
type Options struct {
	// Path is the append target. Empty uses DefaultPath.
	Path string
	// Enabled gates recording entirely; a disabled sink drops events
	// without queueing.
	Enabled bool
	// BufferSize is the event queue depth. Zero uses the default.
	BufferSize int
}

// Sink serializes audit writes through a single writer goroutine fed by a
// bounded queue. Record never blocks the caller: when the queue is full the
// event is dropped and the drop is logged.
type Sink struct {
	opts Options

	mu     sync.Mutex
	closed bool
	ch     chan Event
	done   chan struct{}
}

// NewSink creates a Sink and starts its writer.
func NewSink(opts Options) *Sink {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	s := &Sink{
		opts: opts,
		ch:   make(chan Event, opts.BufferSize),
		done: make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// Record queues an event for writing. Safe to call from any goroutine,
// including after Close (the event is then dropped).
func (s *Sink) Record(e Event) {
	if !s.opts.Enabled {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
		slog.Error(fmt.Sprintf("%s - audit queue full, dropping event for tool %s", logPrefix, e.Tool))
	}
}

// Close drains queued events and stops the writer. Idempotent.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
	<-s.done
}

func (s *Sink) writeLoop() {
	defer close(s.done)
	for e := range s.ch {
		if err := appendLine(s.opts.Path, FormatLine(e)); err != nil {
			slog.Error(fmt.Sprintf("%s - Failed to write to audit log: %v", logPrefix, err))
		}
	}
}

// appendLine opens the log in append mode for each write so external
// rotation never needs coordination with the sink.
func appendLine(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

// FormatLine renders an event as a single audit line:
//
//	[<RFC3339 UTC>] DB=<tenant> USER=<user> TOOL=<tool> OUTCOME=<outcome> <KEY>=<value>... DURATION=<ms>ms
func FormatLine(e Event) string {
	parts := []string{
		"[" + e.Time.UTC().Format(time.RFC3339Nano) + "]",
		"DB=" + e.Tenant,
		"USER=" + e.User,
		"TOOL=" + e.Tool,
	}
	if e.Outcome != "" {
		parts = append(parts, "OUTCOME="+e.Outcome)
	}
	for _, f := range e.Fields {
		parts = append(parts, strings.ToUpper(f.Key)+"="+truncate(f.Value))
	}
	if e.Duration > 0 {
		parts = append(parts, fmt.Sprintf("DURATION=%dms", e.Duration.Milliseconds()))
	}
	return strings.Join(parts, " ")
}

func truncate(v string) string {
	if len(v) > maxFieldLen {
		return v[:maxFieldLen] + "..."
	}
	return v
}
