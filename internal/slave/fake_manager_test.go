package slave

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/RevCBH/dockerslaves/internal/container"
)

var errNoSuchImage = errors.New("Error: No such image")

// fakeManager is an in-memory container.Manager. Calls are recorded as
// "<op> <role>" (or "<op> <image>" for image operations).
type fakeManager struct {
	mu sync.Mutex

	images    map[string]bool
	pullErr   map[string]error
	createErr map[container.Role]error
	startErr  map[container.Role]error
	removeErr map[container.Role]error
	// removeBlock makes removal of the role wait until its context ends
	removeBlock map[container.Role]bool
	attachErr   error
	// logs is the output returned by Logs, per role
	logs    map[container.Role]string
	logsErr error

	// exec handles process launches; default exits 0
	exec func(ctx context.Context, role container.Role, cfg container.ExecConfig) (int, error)

	calls   []string
	configs []container.ContainerConfig
	roles   map[container.ContainerID]container.Role
	running map[container.ContainerID]bool
	nextID  int
}

func newFakeManager(images ...string) *fakeManager {
	f := &fakeManager{
		images:      make(map[string]bool),
		pullErr:     make(map[string]error),
		createErr:   make(map[container.Role]error),
		startErr:    make(map[container.Role]error),
		removeErr:   make(map[container.Role]error),
		removeBlock: make(map[container.Role]bool),
		roles:       make(map[container.ContainerID]container.Role),
		running:     make(map[container.ContainerID]bool),
		logs:        make(map[container.Role]string),
	}
	for _, img := range images {
		f.images[img] = true
	}
	return f
}

func (f *fakeManager) record(op, subject string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+" "+subject)
}

func (f *fakeManager) roleOf(id container.ContainerID) container.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roles[id]
}

func (f *fakeManager) InspectImage(ctx context.Context, ref string) (string, error) {
	f.record("inspect", ref)
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.images[ref] {
		return "", errNoSuchImage
	}
	return "sha256:" + ref, nil
}

func (f *fakeManager) PullImage(ctx context.Context, ref string, w io.Writer) error {
	f.record("pull", ref)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pullErr[ref]; err != nil {
		return err
	}
	f.images[ref] = true
	return nil
}

func (f *fakeManager) BuildImage(ctx context.Context, cfg container.BuildConfig, w io.Writer) error {
	f.record("build", cfg.Tag)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[cfg.Tag] = true
	return nil
}

func (f *fakeManager) Create(ctx context.Context, cfg container.ContainerConfig) (container.ContainerID, error) {
	role := container.Role(cfg.Labels[container.LabelRole])
	f.record("create", string(role))
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErr[role]; err != nil {
		return "", err
	}
	f.nextID++
	id := container.ContainerID(fmt.Sprintf("%064d", f.nextID))
	f.roles[id] = role
	f.configs = append(f.configs, cfg)
	return id, nil
}

func (f *fakeManager) Start(ctx context.Context, id container.ContainerID) error {
	role := f.roleOf(id)
	f.record("start", string(role))
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.startErr[role]; err != nil {
		return err
	}
	f.running[id] = true
	return nil
}

func (f *fakeManager) Attach(ctx context.Context, id container.ContainerID) (io.ReadWriteCloser, error) {
	f.record("attach", string(f.roleOf(id)))
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	return &fakeChannel{}, nil
}

func (f *fakeManager) IsRunning(ctx context.Context, id container.ContainerID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[id], nil
}

func (f *fakeManager) Exec(ctx context.Context, id container.ContainerID, cfg container.ExecConfig) (int, error) {
	role := f.roleOf(id)
	f.record("exec", string(role)+" "+strings.Join(cfg.Cmd, " "))
	if f.exec != nil {
		return f.exec(ctx, role, cfg)
	}
	return 0, nil
}

func (f *fakeManager) Logs(ctx context.Context, id container.ContainerID) (io.ReadCloser, error) {
	role := f.roleOf(id)
	f.record("logs", string(role))
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	return io.NopCloser(strings.NewReader(f.logs[role])), nil
}

func (f *fakeManager) Stop(ctx context.Context, id container.ContainerID, timeout time.Duration) error {
	f.record("stop", string(f.roleOf(id)))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[id] = false
	return nil
}

func (f *fakeManager) Remove(ctx context.Context, id container.ContainerID) error {
	role := f.roleOf(id)
	f.record("rm", string(role))

	f.mu.Lock()
	block := f.removeBlock[role]
	err := f.removeErr[role]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, id)
	delete(f.roles, id)
	return nil
}

func (f *fakeManager) ListByLabel(ctx context.Context, label string) ([]container.ContainerID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []container.ContainerID
	for id := range f.roles {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeManager) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeManager) count(prefix string) int {
	n := 0
	for _, c := range f.callLog() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeManager) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.roles)
}

type fakeChannel struct {
	mu     sync.Mutex
	closed bool
}

func (c *fakeChannel) Read(p []byte) (int, error)  { return 0, io.EOF }
func (c *fakeChannel) Write(p []byte) (int, error) { return len(p), nil }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
