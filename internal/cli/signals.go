package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"
)

// exitInterrupted is the status of a run abandoned by a second signal
const exitInterrupted = 130

// SignalHandler turns SIGINT/SIGTERM into build cancellation. The first
// signal cancels the context, which makes every build remove its
// containers, and reports the builds being cleaned. A second signal stops
// waiting for cleanup; whatever is left is removed by `dockerslaves cleanup`.
type SignalHandler struct {
	signals  chan os.Signal
	cancel   context.CancelFunc
	out      io.Writer
	stopCh   chan struct{} // closed by Stop to signal goroutine to exit
	done     chan struct{} // closed when goroutine exits
	stopOnce sync.Once

	interrupted chan struct{}

	mu     sync.Mutex
	builds func() []string
	force  func()
}

// NewSignalHandler creates a signal handler cancelling ctx through cancel
// and reporting to out.
func NewSignalHandler(cancel context.CancelFunc, out io.Writer) *SignalHandler {
	if out == nil {
		out = io.Discard
	}
	return &SignalHandler{
		signals:     make(chan os.Signal, 2),
		cancel:      cancel,
		out:         out,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		interrupted: make(chan struct{}),
		force:       func() { os.Exit(exitInterrupted) },
	}
}

// TrackBuilds sets the source of the builds reported on interrupt.
func (h *SignalHandler) TrackBuilds(builds func() []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.builds = builds
}

// OnForce replaces what a second signal does (default: exit with status 130).
func (h *SignalHandler) OnForce(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.force = fn
}

// Start begins listening for signals
func (h *SignalHandler) Start() {
	h.StartWithNotify(true)
}

// StartWithNotify begins listening for signals, optionally registering with OS signal handling.
// Pass false for notify in unit tests to avoid global signal state interactions.
func (h *SignalHandler) StartWithNotify(notify bool) {
	if notify {
		signal.Notify(h.signals, syscall.SIGINT, syscall.SIGTERM)
	}

	started := make(chan struct{})
	go func() {
		defer close(h.done)
		close(started)

		select {
		case sig := <-h.signals:
			h.interrupt(sig)
		case <-h.stopCh:
			return
		}

		select {
		case sig := <-h.signals:
			slog.Warn("second signal, abandoning cleanup", "signal", sig.String())
			fmt.Fprintln(h.out, "Not waiting for cleanup; run `dockerslaves cleanup` to remove leftover containers")
			h.mu.Lock()
			force := h.force
			h.mu.Unlock()
			force()
		case <-h.stopCh:
		}
	}()

	<-started
}

func (h *SignalHandler) interrupt(sig os.Signal) {
	slog.Info("received signal, cleaning up", "signal", sig.String())
	if h.cancel != nil {
		h.cancel()
	}

	h.mu.Lock()
	source := h.builds
	h.mu.Unlock()

	switch {
	case source == nil:
		fmt.Fprintln(h.out, "\nInterrupted, shutting down")
	default:
		if builds := source(); len(builds) > 0 {
			fmt.Fprintf(h.out, "\nInterrupted, removing containers of %s (interrupt again to stop waiting)\n",
				strings.Join(builds, ", "))
		} else {
			fmt.Fprintln(h.out, "\nInterrupted, no build environment to remove")
		}
	}
	close(h.interrupted)
}

// Done returns a channel closed once the first signal was handled
func (h *SignalHandler) Done() <-chan struct{} {
	return h.interrupted
}

// Stop stops the signal handler and cleans up
func (h *SignalHandler) Stop() {
	signal.Stop(h.signals)
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
	// The goroutine may be in the force callback; don't wait on it for long
	select {
	case <-h.done:
	case <-time.After(100 * time.Millisecond):
	}
}
