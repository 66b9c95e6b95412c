package cli

import (
	"bytes"
	"io"
	"sync"
)

// linePrefixer serializes the build logs of concurrent builds onto one
// writer. Lines are written whole so builds never interleave mid-line.
type linePrefixer struct {
	mu     sync.Mutex
	w      io.Writer
	prefix bool
}

func newLinePrefixer(w io.Writer, prefix bool) *linePrefixer {
	return &linePrefixer{w: w, prefix: prefix}
}

// Writer returns the build log for label
func (p *linePrefixer) Writer(label string) io.Writer {
	lw := &lineWriter{p: p}
	if p.prefix {
		lw.prefix = []byte("[" + label + "] ")
	}
	return lw
}

type lineWriter struct {
	p      *linePrefixer
	prefix []byte

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *lineWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(b)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx == -1 {
			break
		}
		if err := w.emit(w.buf.Next(idx + 1)); err != nil {
			return len(b), err
		}
	}
	return len(b), nil
}

// Flush writes a trailing partial line
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return
	}
	line := append(w.buf.Bytes(), '\n')
	w.buf.Reset()
	_ = w.emit(line)
}

func (w *lineWriter) emit(line []byte) error {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	if len(w.prefix) > 0 {
		if _, err := w.p.w.Write(w.prefix); err != nil {
			return err
		}
	}
	_, err := w.p.w.Write(line)
	return err
}

// flusher is implemented by the build log writers that buffer partial lines
type flusher interface {
	Flush()
}

func flush(w io.Writer) {
	if f, ok := w.(flusher); ok {
		f.Flush()
	}
}
