package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RevCBH/dockerslaves/internal/container"
)

// fakeRuntime is an in-memory container.Manager
type fakeRuntime struct {
	mu sync.Mutex

	images  map[string]bool
	pullErr error

	// exitCodes maps a command's first argument to its exit code
	exitCodes map[string]int

	containers map[container.ContainerID]string // id -> role
	running    map[container.ContainerID]bool
	removeErr  map[container.ContainerID]error
	execs      []string
	removed    []container.ContainerID
	nextID     int
}

func newFakeRuntime(images ...string) *fakeRuntime {
	f := &fakeRuntime{
		images:     make(map[string]bool),
		exitCodes:  make(map[string]int),
		containers: make(map[container.ContainerID]string),
		running:    make(map[container.ContainerID]bool),
		removeErr:  make(map[container.ContainerID]error),
	}
	for _, img := range images {
		f.images[img] = true
	}
	return f
}

// addContainer registers a container created by someone else
func (f *fakeRuntime) addContainer(id, role string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[container.ContainerID(id)] = role
	f.running[container.ContainerID(id)] = true
}

func (f *fakeRuntime) InspectImage(ctx context.Context, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.images[ref] {
		return "", fmt.Errorf("Error: No such image: %s", ref)
	}
	return "sha256:" + ref, nil
}

func (f *fakeRuntime) PullImage(ctx context.Context, ref string, w io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pullErr != nil {
		return f.pullErr
	}
	f.images[ref] = true
	return nil
}

func (f *fakeRuntime) BuildImage(ctx context.Context, cfg container.BuildConfig, w io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[cfg.Tag] = true
	return nil
}

func (f *fakeRuntime) Create(ctx context.Context, cfg container.ContainerConfig) (container.ContainerID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := container.ContainerID(fmt.Sprintf("%064x", f.nextID))
	f.containers[id] = cfg.Labels[container.LabelRole]
	return id, nil
}

func (f *fakeRuntime) Start(ctx context.Context, id container.ContainerID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return errors.New("Error: No such container")
	}
	f.running[id] = true
	return nil
}

func (f *fakeRuntime) Attach(ctx context.Context, id container.ContainerID) (io.ReadWriteCloser, error) {
	return nopChannel{}, nil
}

func (f *fakeRuntime) IsRunning(ctx context.Context, id container.ContainerID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[id], nil
}

func (f *fakeRuntime) Exec(ctx context.Context, id container.ContainerID, cfg container.ExecConfig) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, f.containers[id]+": "+strings.Join(cfg.Cmd, " "))
	if len(cfg.Cmd) == 0 {
		return 0, nil
	}
	return f.exitCodes[cfg.Cmd[0]], nil
}

func (f *fakeRuntime) Logs(ctx context.Context, id container.ContainerID) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeRuntime) Stop(ctx context.Context, id container.ContainerID, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[id] = false
	return nil
}

func (f *fakeRuntime) Remove(ctx context.Context, id container.ContainerID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.removeErr[id]; err != nil {
		return err
	}
	delete(f.containers, id)
	delete(f.running, id)
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeRuntime) ListByLabel(ctx context.Context, label string) ([]container.ContainerID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]container.ContainerID, 0, len(f.containers))
	for id := range f.containers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *fakeRuntime) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

func (f *fakeRuntime) execLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.execs...)
}

// nopChannel is a remoting channel whose agent never speaks
type nopChannel struct{}

func (nopChannel) Read(p []byte) (int, error)  { return 0, io.EOF }
func (nopChannel) Write(p []byte) (int, error) { return len(p), nil }
func (nopChannel) Close() error                { return nil }
