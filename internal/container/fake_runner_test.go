package container

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

type fakeRunner struct {
	mu        sync.Mutex
	responses map[string][]fakeResponse
	calls     []fakeCall
}

type fakeResponse struct {
	stdout string
	stderr string
	code   int
	err    error
	block  bool // wait for ctx to end
}

type fakeCall struct {
	bin  string
	args []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		responses: make(map[string][]fakeResponse),
	}
}

func (f *fakeRunner) stub(args string, resp fakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[args] = append(f.responses[args], resp)
}

func (f *fakeRunner) Run(ctx context.Context, bin string, inv Invocation) (int, error) {
	key := strings.Join(inv.Args, " ")
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{bin: bin, args: append([]string(nil), inv.Args...)})
	queue := f.responses[key]
	if len(queue) == 0 {
		f.mu.Unlock()
		return -1, fmt.Errorf("unexpected %s call: %s", bin, key)
	}
	resp := queue[0]
	f.responses[key] = queue[1:]
	f.mu.Unlock()

	if resp.stdout != "" && inv.Stdout != nil {
		_, _ = io.WriteString(inv.Stdout, resp.stdout)
	}
	if resp.stderr != "" && inv.Stderr != nil {
		_, _ = io.WriteString(inv.Stderr, resp.stderr)
	}
	if resp.block {
		<-ctx.Done()
		return -1, ctx.Err()
	}
	return resp.code, resp.err
}

func (f *fakeRunner) callsFor(args ...string) int {
	key := strings.Join(args, " ")
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, call := range f.calls {
		if strings.Join(call.args, " ") == key {
			count++
		}
	}
	return count
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// runnerFunc adapts a function to the Runner interface.
type runnerFunc func(ctx context.Context, bin string, inv Invocation) (int, error)

func (fn runnerFunc) Run(ctx context.Context, bin string, inv Invocation) (int, error) {
	return fn(ctx, bin, inv)
}
