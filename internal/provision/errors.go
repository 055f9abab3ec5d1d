package provision

import (
	"errors"
	"fmt"
	"time"
)

// Process exit codes. ExitRebootPending is reserved for the one
// non-error outcome that still ends the process: the target is
// rebooting and the caller should re-invoke once it is back.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitRebootPending = 3
)

// ErrRebootPending is returned by Run when a reboot was requested and
// the target is going down. The run did not fail; it cannot continue
// until the target is back up.
var ErrRebootPending = errors.New("target is rebooting, re-run to resume provisioning")

// UnreachableError reports that the target never answered within the
// polling budget.
type UnreachableError struct {
	Address string
	Timeout time.Duration
	Err     error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("target %s unreachable after %s: %v", e.Address, e.Timeout, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

func (e *UnreachableError) Remediation() string {
	return "check that the target is powered on, connected to the network, and running an SSH server"
}

// PreconditionError reports a check that found the target in a state
// provisioning cannot proceed from.
type PreconditionError struct {
	Check       string
	Detail      string
	Remediation string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition %q failed: %s", e.Check, e.Detail)
}

// CommandError reports a remote command whose failure aborts the run.
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	out := e.Output
	if out != "" {
		return fmt.Sprintf("command %q failed: %v: %s", e.Command, e.Err, out)
	}
	return fmt.Sprintf("command %q failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// RemediationOf extracts operator guidance from an error chain, if any
// error in it carries some.
func RemediationOf(err error) string {
	var r interface{ Remediation() string }
	if errors.As(err, &r) {
		return r.Remediation()
	}
	var p *PreconditionError
	if errors.As(err, &p) {
		return p.Remediation
	}
	return ""
}
