// Package sentinel persists the reboot marker on the target. The marker
// is the only state shared between invocations: it exists exactly when a
// run requested a reboot and no later run has observed the target since.
package sentinel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/vsagcr/scopeprep/internal/server"
	"github.com/vsagcr/scopeprep/internal/strutil"
)

// State is the persisted cross-run signal.
type State int

const (
	StateNone State = iota
	StateRebootPending
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateRebootPending:
		return "reboot_pending"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const payloadState = "reboot_pending"

const missingMarker = "__SCOPEPREP_NO_SENTINEL__"

// Payload records which run requested the reboot and when.
type Payload struct {
	State       string    `yaml:"state"`
	RunID       string    `yaml:"run_id"`
	RequestedAt time.Time `yaml:"requested_at"`
}

// Mark writes the sentinel file under the target user's home directory.
// path is relative to the home directory.
func Mark(ctx context.Context, s server.Server, path, runID string) error {
	payload, err := renderPayload(Payload{
		State:       payloadState,
		RunID:       runID,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	script := fmt.Sprintf(
		`p="$HOME"/%s; umask 077; printf '%%s' %s > "$p"`,
		strutil.ShellEscape(path),
		strutil.ShellEscape(payload),
	)
	if _, err := s.Execute(ctx, "sh -c "+strutil.ShellEscape(script)); err != nil {
		return fmt.Errorf("write reboot sentinel: %w", err)
	}
	return nil
}

// Take reads and clears the sentinel in a single remote command, so a
// run that observes the pending state also consumes it. Returns
// StateNone when no sentinel exists.
func Take(ctx context.Context, s server.Server, path string) (State, *Payload, error) {
	script := fmt.Sprintf(
		`p="$HOME"/%s; if [ -f "$p" ]; then cat "$p" && rm -f "$p"; else printf '%%s' %s; fi`,
		strutil.ShellEscape(path),
		strutil.ShellEscape(missingMarker),
	)
	output, err := s.Execute(ctx, "sh -c "+strutil.ShellEscape(script))
	if err != nil {
		return StateNone, nil, fmt.Errorf("read reboot sentinel: %w", err)
	}
	if strings.TrimSpace(output) == missingMarker {
		return StateNone, nil, nil
	}

	payload, err := parsePayload(output)
	if err != nil {
		return StateNone, nil, fmt.Errorf("reboot sentinel %q is corrupt (file has been cleared): %w", path, err)
	}
	return StateRebootPending, payload, nil
}

func renderPayload(p Payload) (string, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode sentinel payload: %w", err)
	}
	return string(data), nil
}

func parsePayload(raw string) (*Payload, error) {
	var p Payload
	if err := yaml.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	if p.State != payloadState {
		return nil, fmt.Errorf("unexpected sentinel state %q", p.State)
	}
	return &p, nil
}
