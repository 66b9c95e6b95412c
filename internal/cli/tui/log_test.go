package tui

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

var errTest = errors.New("boom")

func waitForMessages(t *testing.T, r *recordingSender, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs := r.all()
		if len(msgs) >= n {
			lines := make([]string, 0, len(msgs))
			for _, m := range msgs {
				lines = append(lines, m.(LogMsg).Line)
			}
			return lines
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, got %d", n, len(r.all()))
	return nil
}

func TestLogWriter_SplitsLines(t *testing.T) {
	sender := &recordingSender{}
	w := NewLogWriter(sender)

	fmt.Fprint(w, "first\r\nsec")
	fmt.Fprint(w, "ond\n\nthird")
	w.Flush()

	lines := waitForMessages(t, sender, 3)
	want := []string{"first", "second", "third"}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestLogWriter_WithPrefix(t *testing.T) {
	sender := &recordingSender{}
	w := NewLogWriter(sender)
	build := w.WithPrefix("web#2")

	fmt.Fprintln(build, "checking out")

	lines := waitForMessages(t, sender, 1)
	if lines[0] != "[web#2] checking out" {
		t.Errorf("line = %q, want prefixed line", lines[0])
	}
}

func TestLogWriter_TruncatesLongLines(t *testing.T) {
	sender := &recordingSender{}
	w := NewLogWriter(sender)
	w.maxLine = 5

	fmt.Fprintln(w, "abcdefgh")

	lines := waitForMessages(t, sender, 1)
	if lines[0] != "abcde..." {
		t.Errorf("line = %q, want truncated", lines[0])
	}
}
