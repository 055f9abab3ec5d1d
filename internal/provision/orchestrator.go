// Package provision drives a full provisioning run against one target:
// reachability, package installation, bus interface enablement, the
// reboot round-trip, hardware validation, and the streaming service.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vsagcr/scopeprep/internal/config"
	"github.com/vsagcr/scopeprep/internal/retry"
	"github.com/vsagcr/scopeprep/internal/sentinel"
	"github.com/vsagcr/scopeprep/internal/server"
	"github.com/vsagcr/scopeprep/internal/task"
	"github.com/vsagcr/scopeprep/internal/task/catalog"
	"github.com/vsagcr/scopeprep/internal/task/ifaces"
	"github.com/vsagcr/scopeprep/internal/task/packages"
	"github.com/vsagcr/scopeprep/internal/task/stream"
	"github.com/vsagcr/scopeprep/internal/task/taskutil"
)

// PromptFunc asks the operator a yes/no question.
type PromptFunc func(question string) (bool, error)

// Orchestrator runs the provisioning state machine. The only state it
// shares between invocations is the reboot sentinel on the target; the
// local process keeps nothing.
type Orchestrator struct {
	logger *slog.Logger
	srv    server.Server
	cfg    *config.Config
	runner *task.Runner
	runID  string

	// Prompt is consulted when enable_missing is "prompt". Defaults to
	// declining, so a misconfigured non-interactive run never flips
	// interfaces silently.
	Prompt PromptFunc
}

func NewOrchestrator(logger *slog.Logger, srv server.Server, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		logger: logger,
		srv:    srv,
		cfg:    cfg,
		runner: task.NewRunner(logger),
		runID:  uuid.NewString(),
	}
}

// phases is the task list split by provisioning phase.
type phases struct {
	packages   []task.Task
	interfaces []*ifaces.EnableTask
	stream     []*stream.StartTask
}

// Run executes one provisioning pass. It returns ErrRebootPending when
// a reboot was requested; everything else is either success or a hard
// failure.
func (o *Orchestrator) Run(ctx context.Context) error {
	logger := o.logger.With("run_id", o.runID, "target", o.srv.ID())

	ph, err := o.planPhases()
	if err != nil {
		return err
	}

	if err := o.EnsureReachable(ctx); err != nil {
		return err
	}
	logger.Info("Target is reachable", "address", o.srv.Address())

	state, payload, err := sentinel.Take(ctx, o.srv, o.cfg.Provision.SentinelPath)
	if err != nil {
		return err
	}

	if state == sentinel.StateRebootPending {
		logger.Info("Resuming after reboot", "requested_by", payload.RunID, "requested_at", payload.RequestedAt)
		return o.resume(ctx, logger, ph)
	}

	return o.fullRun(ctx, logger, ph)
}

// fullRun is the from-scratch path: install packages, reconcile bus
// interfaces, request a reboot if enablement changed boot configuration.
func (o *Orchestrator) fullRun(ctx context.Context, logger *slog.Logger, ph phases) error {
	if err := o.runner.Run(ctx, o.srv, ph.packages...); err != nil {
		return err
	}

	pending, err := o.pendingInterfaces(ctx, ph.interfaces)
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		logger.Info("All interfaces enabled, no reboot needed")
		return o.finish(ctx, logger, ph, nil)
	}

	enable, err := o.decideEnable(pending)
	if err != nil {
		return err
	}
	if !enable {
		// Skipping enablement is not a failure; validation decides on
		// the hardware that is actually there.
		logger.Warn("Proceeding without enabling interfaces", "interfaces", busNames(pending))
		return o.finish(ctx, logger, ph, pending)
	}

	enableTasks := make([]task.Task, 0, len(pending))
	for _, t := range pending {
		enableTasks = append(enableTasks, t)
	}
	if err := o.runner.Run(ctx, o.srv, enableTasks...); err != nil {
		return err
	}

	return o.requestReboot(ctx, logger)
}

// resume is the post-reboot path: wait for the newly enabled device
// files, then validate and start streaming. Prompting is skipped; the
// decision was made before the reboot.
func (o *Orchestrator) resume(ctx context.Context, logger *slog.Logger, ph phases) error {
	if err := o.waitForDevices(ctx, logger, ph.interfaces); err != nil {
		return err
	}
	return o.finish(ctx, logger, ph, nil)
}

// finish validates hardware and starts the streaming service. Both
// paths converge here once interface state is final. disabled lists
// buses that stay off this run; checks depending on them are skipped.
func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, ph phases, disabled []*ifaces.EnableTask) error {
	opts := HardwareOptions{BatteryCheck: o.cfg.Provision.BatteryCheck}
	for _, t := range disabled {
		if t.Bus().Name == ifaces.I2C.Name && opts.BatteryCheck {
			logger.Warn("Skipping battery check, I2C is disabled")
			opts.BatteryCheck = false
		}
	}
	if err := ValidateHardware(ctx, logger, o.srv, opts); err != nil {
		return err
	}

	streamTasks := make([]task.Task, 0, len(ph.stream))
	for _, t := range ph.stream {
		streamTasks = append(streamTasks, t)
	}
	if err := o.runner.Run(ctx, o.srv, streamTasks...); err != nil {
		return err
	}

	for _, t := range ph.stream {
		if err := o.waitForPort(ctx, t.Port()); err != nil {
			return err
		}
		logger.Info("Streaming service is up", "port", t.Port())
	}

	logger.Info("Provisioning complete")
	return nil
}

// EnsureReachable polls the target until an SSH session succeeds or the
// reachability budget runs out.
func (o *Orchestrator) EnsureReachable(ctx context.Context) error {
	poll := o.cfg.Provision.Reachability
	err := retry.Until(ctx, poll.Interval, poll.Timeout, o.srv.Probe)
	if err == nil {
		return nil
	}
	if errors.Is(err, retry.ErrTimeout) {
		return &UnreachableError{Address: o.srv.Address(), Timeout: poll.Timeout, Err: err}
	}
	return err
}

// ProbeInterfaces reports the observed state of every configured bus.
func (o *Orchestrator) ProbeInterfaces(ctx context.Context) (map[string]ifaces.State, error) {
	ph, err := o.planPhases()
	if err != nil {
		return nil, err
	}

	states := make(map[string]ifaces.State, len(ph.interfaces))
	for _, t := range ph.interfaces {
		state, err := ifaces.Probe(ctx, o.srv, t.Bus())
		if err != nil {
			return nil, err
		}
		states[t.Bus().Name] = state
	}
	return states, nil
}

// Validate runs the hardware checks without touching anything else.
func (o *Orchestrator) Validate(ctx context.Context) error {
	if err := o.EnsureReachable(ctx); err != nil {
		return err
	}
	opts := HardwareOptions{BatteryCheck: o.cfg.Provision.BatteryCheck}
	return ValidateHardware(ctx, o.logger, o.srv, opts)
}

func (o *Orchestrator) planPhases() (phases, error) {
	tasks, unknown, err := task.PlanTasks(o.cfg.Tasks, catalog.Builtins())
	if err != nil {
		return phases{}, err
	}
	for _, key := range unknown {
		taskutil.Warnf("unknown task %q in config, skipping", key)
	}

	var ph phases
	for _, t := range tasks {
		switch typed := t.(type) {
		case *ifaces.EnableTask:
			ph.interfaces = append(ph.interfaces, typed)
		case *stream.StartTask:
			ph.stream = append(ph.stream, typed)
		case *packages.InstallTask:
			ph.packages = append(ph.packages, typed)
		default:
			ph.packages = append(ph.packages, t)
		}
	}
	return ph, nil
}

// pendingInterfaces probes each configured bus and returns the tasks
// whose bus is not yet enabled.
func (o *Orchestrator) pendingInterfaces(ctx context.Context, tasks []*ifaces.EnableTask) ([]*ifaces.EnableTask, error) {
	var pending []*ifaces.EnableTask
	for _, t := range tasks {
		state, err := ifaces.Probe(ctx, o.srv, t.Bus())
		if err != nil {
			return nil, err
		}
		o.logger.Info("Interface state", "interface", t.Bus().Name, "state", state.String())
		if state != ifaces.StateEnabled {
			pending = append(pending, t)
		}
	}
	return pending, nil
}

func (o *Orchestrator) decideEnable(pending []*ifaces.EnableTask) (bool, error) {
	switch o.cfg.Provision.EnableMissing {
	case config.EnableAlways:
		return true, nil
	case config.EnableNever:
		return false, nil
	}

	if o.Prompt == nil {
		return false, nil
	}
	question := fmt.Sprintf("%s disabled. Enable and reboot the target?", busNames(pending))
	return o.Prompt(question)
}

// requestReboot persists the sentinel and only then issues the reboot,
// so a crash between the two leaves a sentinel behind rather than a
// rebooting target with no marker.
func (o *Orchestrator) requestReboot(ctx context.Context, logger *slog.Logger) error {
	if err := sentinel.Mark(ctx, o.srv, o.cfg.Provision.SentinelPath, o.runID); err != nil {
		return err
	}
	logger.Info("Reboot sentinel written", "path", o.cfg.Provision.SentinelPath)

	// The connection drops mid-command when the reboot lands, so the
	// command error is expected and discarded.
	if _, err := o.srv.Execute(ctx, "sudo -n reboot"); err != nil {
		logger.Debug("Reboot command ended with error (expected)", "error", err)
	}
	logger.Info("Reboot requested")
	return ErrRebootPending
}

// waitForDevices polls for each enabled bus's device file. After a
// reboot the kernel needs a moment to create them.
func (o *Orchestrator) waitForDevices(ctx context.Context, logger *slog.Logger, tasks []*ifaces.EnableTask) error {
	poll := o.cfg.Provision.DeviceWait
	for _, t := range tasks {
		bus := t.Bus()
		err := retry.Until(ctx, poll.Interval, poll.Timeout, func(ctx context.Context) error {
			present, err := taskutil.PathExists(ctx, o.srv, bus.DevicePath)
			if err != nil {
				return err
			}
			if !present {
				return fmt.Errorf("%s not present", bus.DevicePath)
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, retry.ErrTimeout) {
				return &PreconditionError{
					Check:       fmt.Sprintf("%s device present", bus.Name),
					Detail:      fmt.Sprintf("%s did not appear within %s after reboot", bus.DevicePath, poll.Timeout),
					Remediation: "check boot configuration for the dtparam overlay and reboot again",
				}
			}
			return err
		}
		logger.Info("Device present", "device", bus.DevicePath)
	}
	return nil
}

// waitForPort polls until the streaming port accepts connections.
func (o *Orchestrator) waitForPort(ctx context.Context, port int) error {
	poll := o.cfg.Provision.DeviceWait
	err := retry.Until(ctx, poll.Interval, poll.Timeout, func(ctx context.Context) error {
		listening, err := stream.PortListening(ctx, o.srv, port)
		if err != nil {
			return err
		}
		if !listening {
			return fmt.Errorf("port %d not listening", port)
		}
		return nil
	})
	if err != nil && errors.Is(err, retry.ErrTimeout) {
		return &PreconditionError{
			Check:       "streaming service listening",
			Detail:      fmt.Sprintf("port %d did not start listening within %s", port, poll.Timeout),
			Remediation: "inspect the compose service logs with `docker compose logs` on the target",
		}
	}
	return err
}

func busNames(tasks []*ifaces.EnableTask) string {
	names := make([]string, 0, len(tasks))
	for _, t := range tasks {
		names = append(names, t.Bus().Name)
	}
	switch len(names) {
	case 0:
		return "no interfaces"
	case 1:
		return "interface " + names[0]
	default:
		out := names[0]
		for _, n := range names[1 : len(names)-1] {
			out += ", " + n
		}
		return "interfaces " + out + " and " + names[len(names)-1]
	}
}
