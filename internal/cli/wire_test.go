package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RevCBH/dockerslaves/internal/config"
	"github.com/RevCBH/dockerslaves/internal/container"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type readCloser struct {
	io.Reader
	io.Writer
}

func (readCloser) Close() error { return nil }

func TestWireHost_NilConfig(t *testing.T) {
	_, err := WireHost(nil, nil)
	assert.Error(t, err)
}

func TestWireHost_UnsupportedRuntime(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Runtime = "containerd"

	_, err := WireHost(cfg, nil)
	assert.ErrorContains(t, err, "unsupported container runtime")
}

func TestDrainChannel_LogsAgentOutput(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))

	connect := drainChannel(logger)
	c := &container.Container{Name: "dockerslaves-web-remoting"}
	ch := readCloser{Reader: strings.NewReader("agent connected\n"), Writer: io.Discard}

	require.NoError(t, connect(context.Background(), c, ch))

	assert.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, "agent connected") && strings.Contains(s, "dockerslaves-web-remoting")
	}, testTimeout, testTick)
}

func TestHost_CloseFlushesEvents(t *testing.T) {
	rt := testRuntime()
	host := testHost(t, testConfig(), rt)

	res := runBuild(context.Background(), host, "api", io.Discard)
	require.NoError(t, res.Err)

	require.NoError(t, host.Events.Close())
	b, err := host.Store.FindBuild("api#1")
	require.NoError(t, err)
	require.NotNil(t, b)

	events, err := host.Store.ListEvents(b.Provisioning)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "provisioning.started", events[0].EventType)
	assert.WithinDuration(t, time.Now(), events[0].CreatedAt, time.Minute)
}
