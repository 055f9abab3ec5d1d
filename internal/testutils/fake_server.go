package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FakeServer is an in-memory server.Server for unit tests. Commands are
// answered by Handler and recorded in order, so tests can assert both
// responses and command ordering without a real SSH target.
type FakeServer struct {
	Name string
	// Handler answers Execute calls. A nil handler returns empty output.
	Handler func(cmd string) (string, error)
	// ProbeErrs are returned by successive Probe calls; once exhausted,
	// Probe succeeds.
	ProbeErrs []error

	mu       sync.Mutex
	commands []string
	probes   int
}

func (f *FakeServer) ID() string {
	if f.Name == "" {
		return "fake"
	}
	return f.Name
}

func (f *FakeServer) Address() string { return "fake.local" }

func (f *FakeServer) Execute(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	f.commands = append(f.commands, command)
	handler := f.Handler
	f.mu.Unlock()

	if handler == nil {
		return "", nil
	}
	return handler(command)
}

func (f *FakeServer) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probes < len(f.ProbeErrs) {
		err := f.ProbeErrs[f.probes]
		f.probes++
		return err
	}
	f.probes++
	return nil
}

// Commands returns a copy of the executed command log.
func (f *FakeServer) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.commands))
	copy(out, f.commands)
	return out
}

// ProbeCount returns how often Probe was called.
func (f *FakeServer) ProbeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

// Response maps a command substring to canned output.
type Response struct {
	Contains string
	Output   string
	Err      error
}

// RespondWith builds a handler that answers commands by substring match,
// first rule wins. Unmatched commands return an error so tests notice
// unexpected remote calls.
func RespondWith(rules ...Response) func(cmd string) (string, error) {
	return func(cmd string) (string, error) {
		for _, rule := range rules {
			if rule.Contains != "" && strings.Contains(cmd, rule.Contains) {
				return rule.Output, rule.Err
			}
		}
		return "", fmt.Errorf("unexpected command: %s", cmd)
	}
}
