package provision

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/vsagcr/scopeprep/internal/server"
	"github.com/vsagcr/scopeprep/internal/strutil"
	"github.com/vsagcr/scopeprep/internal/task/taskutil"
)

// CW2015 fuel gauge, wired to I2C bus 1. VCELL is a 14-bit value in
// 1.25mV steps, SOC a fixed-point percentage with 1/256 resolution.
const (
	fuelGaugeAddr     = "0x62"
	fuelGaugeRegVCELL = "0x02"
	fuelGaugeRegSOC   = "0x04"
)

// HardwareOptions selects which validation checks run.
type HardwareOptions struct {
	// BatteryCheck probes the CW2015 fuel gauge over I2C.
	BatteryCheck bool
}

// hardwareCheck is one fail-fast validation step.
type hardwareCheck struct {
	name        string
	remediation string
	run         func(ctx context.Context, s server.Server) (string, error)
}

// ValidateHardware runs the hardware checks in order and stops at the
// first failure. Order matters: a missing camera makes every later
// check pointless, so the operator sees the root cause first.
func ValidateHardware(ctx context.Context, logger *slog.Logger, s server.Server, opts HardwareOptions) error {
	checks := []hardwareCheck{
		{
			name:        "usb camera attached",
			remediation: "plug the camera into a USB port and check `lsusb` lists it",
			run:         checkUSBCamera,
		},
		{
			name:        "video device nodes",
			remediation: "reboot the target; if /dev/video0 still does not appear, re-seat the camera",
			run:         checkVideoDevices,
		},
		{
			name:        "docker daemon active",
			remediation: "run `sudo systemctl enable --now docker` on the target",
			run:         checkDockerActive,
		},
	}
	if opts.BatteryCheck {
		checks = append(checks, hardwareCheck{
			name:        "battery fuel gauge",
			remediation: "check the UPS HAT is seated and the I2C interface is enabled",
			run:         checkFuelGauge,
		})
	}

	for _, check := range checks {
		detail, err := check.run(ctx, s)
		if err != nil {
			return &PreconditionError{
				Check:       check.name,
				Detail:      err.Error(),
				Remediation: check.remediation,
			}
		}
		logger.Info("Hardware check passed", "check", check.name, "detail", detail)
	}
	return nil
}

func checkUSBCamera(ctx context.Context, s server.Server) (string, error) {
	output, err := s.Execute(ctx, "lsusb")
	if err != nil {
		return "", &CommandError{Command: "lsusb", Output: strutil.TrimOutput(output), Err: err}
	}
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "camera") || strings.Contains(lower, "video") || strings.Contains(lower, "webcam") {
			return strutil.TrimOutput(line), nil
		}
	}
	return "", fmt.Errorf("no camera-class device in lsusb output")
}

func checkVideoDevices(ctx context.Context, s server.Server) (string, error) {
	// /dev/video0 must exist and be readable by the session user.
	script := `if [ -r /dev/video0 ]; then echo readable; elif [ -e /dev/video0 ]; then echo unreadable; else echo missing; fi`
	output, err := s.Execute(ctx, "sh -c "+strutil.ShellEscape(script))
	if err != nil {
		return "", &CommandError{Command: "check /dev/video0", Output: strutil.TrimOutput(output), Err: err}
	}
	switch strutil.TrimOutput(output) {
	case "readable":
	case "unreadable":
		return "", fmt.Errorf("/dev/video0 exists but is not readable, add the user to the video group")
	default:
		return "", fmt.Errorf("/dev/video0 does not exist")
	}

	// Cameras typically expose several nodes; report which are present.
	var present []string
	for _, path := range []string{"/dev/video0", "/dev/video1", "/dev/video2"} {
		exists, err := taskutil.PathExists(ctx, s, path)
		if err != nil {
			return "", err
		}
		if exists {
			present = append(present, path)
		}
	}
	return strings.Join(present, ", "), nil
}

func checkDockerActive(ctx context.Context, s server.Server) (string, error) {
	output, err := s.Execute(ctx, "systemctl is-active docker")
	state := strutil.TrimOutput(output)
	if err != nil || state != "active" {
		if state == "" {
			state = "unknown"
		}
		return "", fmt.Errorf("docker service is %s", state)
	}
	return "active", nil
}

func checkFuelGauge(ctx context.Context, s server.Server) (string, error) {
	vcell, err := readFuelGaugeWord(ctx, s, fuelGaugeRegVCELL)
	if err != nil {
		return "", err
	}
	soc, err := readFuelGaugeWord(ctx, s, fuelGaugeRegSOC)
	if err != nil {
		return "", err
	}

	voltage := float64(vcell&0x3fff) * 1.25 / 1000.0
	charge := float64(soc) / 256.0
	if voltage <= 0 {
		return "", fmt.Errorf("fuel gauge reports zero cell voltage")
	}
	return fmt.Sprintf("%.2fV, %.1f%% charge", voltage, charge), nil
}

// readFuelGaugeWord reads a 16-bit register pair from the CW2015. The
// gauge stores the high byte at the lower register address while
// i2cget word reads arrive low byte first, hence the swap.
func readFuelGaugeWord(ctx context.Context, s server.Server, reg string) (uint16, error) {
	cmd := fmt.Sprintf("sudo -n i2cget -y 1 %s %s w", fuelGaugeAddr, reg)
	output, err := s.Execute(ctx, cmd)
	if err != nil {
		return 0, &CommandError{Command: cmd, Output: strutil.TrimOutput(output), Err: err}
	}

	raw := strutil.TrimOutput(output)
	value, err := strconv.ParseUint(strings.TrimPrefix(raw, "0x"), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("unexpected fuel gauge response %q: %w", raw, err)
	}
	word := uint16(value)
	return word<<8 | word>>8, nil
}
