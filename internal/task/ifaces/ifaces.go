// Package ifaces enables the low-level hardware buses (I2C, SPI) that
// must be switched on in boot configuration before their device files
// appear. Enabling takes effect at the next boot.
package ifaces

import (
	"context"
	"fmt"

	"github.com/vsagcr/scopeprep/internal/bootcfg"
	"github.com/vsagcr/scopeprep/internal/server"
	"github.com/vsagcr/scopeprep/internal/task"
	"github.com/vsagcr/scopeprep/internal/task/taskutil"
)

const TaskKey = "interfaces"

// Bus describes one switchable hardware interface.
type Bus struct {
	Name       string
	Param      string // dtparam key in the boot configuration
	DevicePath string // device file that appears once enabled and booted
	RaspiCmd   string // raspi-config nonint subcommand
}

var (
	I2C = Bus{Name: "i2c", Param: bootcfg.ParamI2C, DevicePath: "/dev/i2c-1", RaspiCmd: "do_i2c"}
	SPI = Bus{Name: "spi", Param: bootcfg.ParamSPI, DevicePath: "/dev/spidev0.0", RaspiCmd: "do_spi"}
)

// State is the observed condition of a bus on the target.
type State int

const (
	StateUnknown State = iota
	StateEnabled
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateEnabled:
		return "ENABLED"
	case StateDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

type Config struct {
	I2C bool `yaml:"i2c"`
	SPI bool `yaml:"spi"`
}

// Buses returns the buses this config wants enabled.
func (c Config) Buses() []Bus {
	var buses []Bus
	if c.I2C {
		buses = append(buses, I2C)
	}
	if c.SPI {
		buses = append(buses, SPI)
	}
	return buses
}

func Spec() task.Spec {
	return task.SpecFor(TaskKey, "interfaces.yaml", buildTasks)
}

func buildTasks(cfg Config) ([]task.Task, error) {
	buses := cfg.Buses()
	tasks := make([]task.Task, 0, len(buses))
	for _, bus := range buses {
		tasks = append(tasks, &EnableTask{bus: bus})
	}
	return tasks, nil
}

// Probe determines the bus state. Device file presence is authoritative
// while a live session answers; when the device check cannot run, the
// static boot configuration is inspected instead.
func Probe(ctx context.Context, s server.Server, bus Bus) (State, error) {
	present, devErr := taskutil.PathExists(ctx, s, bus.DevicePath)
	if devErr == nil {
		if present {
			return StateEnabled, nil
		}
		return StateDisabled, nil
	}

	_, content, cfgErr := bootcfg.ReadConfig(ctx, s)
	if cfgErr != nil {
		return StateUnknown, nil
	}
	if bootcfg.Enabled(content, bus.Param) {
		return StateEnabled, nil
	}
	return StateDisabled, nil
}

// EnableTask switches one bus on. It prefers raspi-config when the
// target has it and otherwise rewrites the boot configuration directly.
// Either way the resulting file content is the same on repeated runs.
type EnableTask struct {
	bus Bus
}

// NewEnableTask returns the enablement task for a single bus.
func NewEnableTask(bus Bus) *EnableTask {
	return &EnableTask{bus: bus}
}

func (t *EnableTask) Name() string {
	return fmt.Sprintf("enable %s interface", t.bus.Name)
}

func (t *EnableTask) Bus() Bus { return t.bus }

func (t *EnableTask) NeedsExecution(ctx context.Context, s server.Server) (bool, error) {
	state, err := Probe(ctx, s, t.bus)
	if err != nil {
		return false, err
	}
	return state != StateEnabled, nil
}

func (t *EnableTask) Execute(ctx context.Context, s server.Server) error {
	available, err := taskutil.CommandAvailable(ctx, s, "raspi-config")
	if err != nil {
		return err
	}
	if available {
		// raspi-config nonint uses 0 for "enable".
		cmd := fmt.Sprintf("sudo -n raspi-config nonint %s 0", t.bus.RaspiCmd)
		if _, err := s.Execute(ctx, cmd); err != nil {
			return fmt.Errorf("enable %s via raspi-config: %w", t.bus.Name, err)
		}
		return nil
	}

	prefix, err := taskutil.SudoPrefix(ctx, s)
	if err != nil {
		return err
	}

	path, content, err := bootcfg.ReadConfig(ctx, s)
	if err != nil {
		return fmt.Errorf("enable %s: %w", t.bus.Name, err)
	}

	updated := bootcfg.SetParam(content, t.bus.Param, bootcfg.ValueOn)
	if updated == content {
		return nil
	}
	if err := taskutil.WriteFile(ctx, s, prefix, path, updated); err != nil {
		return fmt.Errorf("enable %s: %w", t.bus.Name, err)
	}
	return nil
}
