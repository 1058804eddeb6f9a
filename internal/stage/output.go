package stage

import (
	"bytes"
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	// tailLines is how many trailing output lines are kept for diagnostics.
	tailLines = 8
	// maxTailLineBytes caps each tail line, since the tail ends up in job
	// messages that are stored, polled and published.
	maxTailLineBytes = 512
	// maxLineBytes caps a single streamed line. The rest of an overlong line
	// is dropped up to the next newline.
	maxLineBytes = 4096

	truncatedMarker = " [truncated]"
)

// Output collects a command's stdout and stderr. Each stream gets its own
// Writer so partial lines are never interleaved, while complete lines are
// forwarded to the log callback and recorded in a shared bounded tail.
type Output struct {
	logf func(string)

	mu   sync.Mutex
	tail []string
}

// NewOutput returns an Output that forwards lines to logf, which may be nil.
func NewOutput(logf func(string)) *Output {
	return &Output{logf: logf}
}

// Writer returns a new line-splitting writer feeding o. Call Flush on it once
// the stream is closed to emit a trailing unterminated line.
func (o *Output) Writer() *LineWriter {
	return &LineWriter{out: o}
}

// Tail returns the most recent output lines joined by " | ".
func (o *Output) Tail() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return strings.Join(o.tail, " | ")
}

func (o *Output) line(s string) {
	s = strings.TrimRight(s, "\r")
	o.mu.Lock()
	o.tail = append(o.tail, truncate(s, maxTailLineBytes))
	if len(o.tail) > tailLines {
		o.tail = o.tail[len(o.tail)-tailLines:]
	}
	logf := o.logf
	o.mu.Unlock()

	if logf != nil {
		logf(s)
	}
}

// LineWriter splits a byte stream into lines of at most maxLineBytes.
type LineWriter struct {
	out       *Output
	buf       []byte
	truncated bool
}

func (w *LineWriter) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		chunk := p
		if i >= 0 {
			chunk = p[:i]
		}
		if !w.truncated {
			if room := maxLineBytes - len(w.buf); len(chunk) > room {
				chunk = chunk[:room]
				w.truncated = true
			}
			w.buf = append(w.buf, chunk...)
		}
		if i < 0 {
			break
		}
		w.emit()
		p = p[i+1:]
	}
	return n, nil
}

// Flush emits any buffered partial line.
func (w *LineWriter) Flush() {
	if len(w.buf) > 0 || w.truncated {
		w.emit()
	}
}

func (w *LineWriter) emit() {
	line := string(w.buf)
	if w.truncated {
		line += truncatedMarker
	}
	w.buf = w.buf[:0]
	w.truncated = false
	w.out.line(line)
}

// truncate shortens s to at most limit bytes plus the marker, without
// splitting a UTF-8 sequence.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncatedMarker
}
