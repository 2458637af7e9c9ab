package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// fakeRunner answers invocations from a table keyed by command.
type fakeRunner struct {
	mu       sync.Mutex
	outcomes map[string]ProcessOutcome
	errs     map[string]error
	delay    map[string]time.Duration
	calls    []Invocation

	inFlight    int
	maxInFlight int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		outcomes: make(map[string]ProcessOutcome),
		errs:     make(map[string]error),
		delay:    make(map[string]time.Duration),
	}
}

func (f *fakeRunner) on(command string, out ProcessOutcome) *fakeRunner {
	f.outcomes[command] = out
	return f
}

func (f *fakeRunner) Run(ctx context.Context, inv Invocation) (ProcessOutcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	out, ok := f.outcomes[inv.Command]
	err := f.errs[inv.Command]
	d := f.delay[inv.Command]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if d > 0 {
		time.Sleep(d)
	}
	if err != nil {
		return ProcessOutcome{}, err
	}
	if !ok {
		return ProcessOutcome{}, errors.New("exec: \"" + inv.Command + "\": executable file not found in $PATH")
	}
	if out.TimedOut && out.Duration == 0 {
		out.Duration = inv.Timeout
	}
	return out, nil
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Command
	}
	return out
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// mapCache is an in-memory ResultCache keyed by tool and args.
type mapCache struct {
	mu      sync.Mutex
	entries map[string]GateResult
	sets    int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]GateResult)}
}

func (c *mapCache) key(tool string, args []string, projectPath string) string {
	return tool + "\x00" + strings.Join(args, " ") + "\x00" + projectPath
}

func (c *mapCache) Get(tool string, args []string, projectPath string) (GateResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[c.key(tool, args, projectPath)]
	return r, ok
}

func (c *mapCache) Set(tool string, args []string, projectPath string, result GateResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[c.key(tool, args, projectPath)] = result
}

func (c *mapCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]GateResult)
	return nil
}

func passing() ProcessOutcome {
	return ProcessOutcome{Stdout: "ok", ExitCode: 0, Duration: 10 * time.Millisecond}
}

func failing() ProcessOutcome {
	return ProcessOutcome{Stdout: "boom", ExitCode: 1, Duration: 10 * time.Millisecond}
}

func gate(name string, class ConcurrencyClass) *Descriptor {
	return &Descriptor{
		Name:        name,
		Command:     name,
		Timeout:     time.Minute,
		Concurrency: class,
		Recovery:    "fix-" + name,
	}
}
