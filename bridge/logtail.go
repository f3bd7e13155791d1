package bridge

import (
	"bytes"
	"io"
	"sync"

	"go.uber.org/zap"
)

// logTail keeps the last max lines written by the guest to stdout and
// stderr, and forwards each line to the logger.
type logTail struct {
	log   *zap.Logger
	lines []string
	mu    sync.Mutex
	next  int
	max   int
	full  bool
}

func newLogTail(max int, log *zap.Logger) *logTail {
	return &logTail{max: max, lines: make([]string, max), log: log}
}

// writer returns an io.Writer for one guest stream.
func (t *logTail) writer(stream string) io.Writer {
	return &lineWriter{tail: t, stream: stream}
}

func (t *logTail) push(stream, line string) {
	t.log.Debug("guest output", zap.String("stream", stream), zap.String("line", line))

	t.mu.Lock()
	t.lines[t.next] = line
	t.next++
	if t.next == t.max {
		t.next = 0
		t.full = true
	}
	t.mu.Unlock()
}

// Lines returns the retained lines, oldest first.
func (t *logTail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	if t.full {
		out = append(out, t.lines[t.next:]...)
	}
	return append(out, t.lines[:t.next]...)
}

// lineWriter splits one stream into lines.
type lineWriter struct {
	tail    *logTail
	stream  string
	partial []byte
	mu      sync.Mutex
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	data := p
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			w.partial = append(w.partial, data...)
			break
		}
		line := string(w.partial) + string(data[:i])
		w.partial = w.partial[:0]
		data = data[i+1:]
		w.tail.push(w.stream, line)
	}
	return len(p), nil
}
