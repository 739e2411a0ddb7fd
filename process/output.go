package process

import (
	"bytes"
	"regexp"
	"strings"
	"sync"

	"github.com/kbukum/e2ekit/logger"
)

// LineKind classifies a line of application output.
type LineKind string

const (
	KindMigration LineKind = "migration"
	KindReady     LineKind = "ready"
	KindError     LineKind = "error"
	KindOutput    LineKind = "output"
)

var (
	errorLineRe     = regexp.MustCompile(`(?i)(\berror\b|exception|\bfatal\b|panic:|unhandled|ECONNREFUSED|EADDRINUSE)`)
	migrationLineRe = regexp.MustCompile(`(?i)(migrat|applying|schema)`)
	readyLineRe     = regexp.MustCompile(`(?i)(\bready\b|listening|server started|started server|local:\s+https?://)`)
)

// ClassifyLine assigns a kind to a line of output. Errors win over migration
// lines so that a failed migration is reported as an error.
func ClassifyLine(line string) LineKind {
	switch {
	case errorLineRe.MatchString(line):
		return KindError
	case migrationLineRe.MatchString(line):
		return KindMigration
	case readyLineRe.MatchString(line):
		return KindReady
	default:
		return KindOutput
	}
}

// ringBuffer keeps the last n lines.
type ringBuffer struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newRingBuffer(n int) *ringBuffer {
	if n <= 0 {
		n = 1
	}
	return &ringBuffer{lines: make([]string, n)}
}

func (r *ringBuffer) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

// Lines returns the buffered lines, oldest first.
func (r *ringBuffer) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.lines[:r.next]...)
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}

// lineWriter is an io.Writer that calls fn once per complete line.
type lineWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
	fn  func(string)
}

func newLineWriter(fn func(string)) *lineWriter {
	return &lineWriter{fn: fn}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := string(w.buf.Next(idx + 1))
		w.emit(line)
	}
	return len(p), nil
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineWriter) emit(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	w.fn(line)
}

// outputForwarder routes classified application output to the suite logger.
type outputForwarder struct {
	log  *logger.Logger
	mode string
}

func (f outputForwarder) forward(stream, line string) {
	if f.mode == "none" {
		return
	}
	kind := ClassifyLine(line)
	fields := logger.Fields(logger.FieldStream, stream, logger.FieldKind, string(kind))
	switch kind {
	case KindError:
		f.log.Error(line, fields)
	case KindMigration, KindReady:
		f.log.Info(line, fields)
	default:
		if f.mode == "all" {
			f.log.Info(line, fields)
		} else {
			f.log.Debug(line, fields)
		}
	}
}
