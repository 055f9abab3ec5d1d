package provision

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vsagcr/scopeprep/internal/config"
	"github.com/vsagcr/scopeprep/internal/retry"
	"github.com/vsagcr/scopeprep/internal/testutils"
)

func testConfig(enableMissing string) *config.Config {
	return &config.Config{
		Provision: config.ProvisionConfig{
			EnableMissing: enableMissing,
			Reachability:  config.PollConfig{Interval: time.Millisecond, Timeout: 100 * time.Millisecond},
			DeviceWait:    config.PollConfig{Interval: time.Millisecond, Timeout: 100 * time.Millisecond},
			SentinelPath:  ".scopeprep-reboot",
		},
		Tasks: map[string]any{
			"packages":   map[string]any{"install": []any{}},
			"interfaces": map[string]any{"i2c": true, "spi": false},
			"stream":     map[string]any{"compose_dir": "stream", "port": 8443},
		},
	}
}

// healthyResponses answers every command a run against a fully
// provisioned target issues.
func healthyResponses() []testutils.Response {
	return []testutils.Response{
		{Contains: "rm -f", Output: "__SCOPEPREP_NO_SENTINEL__"},
		{Contains: "/dev/i2c-1", Output: "present\n"},
		{Contains: "lsusb", Output: "ID 046d:0825 Logitech, Inc. Webcam C270\n"},
		{Contains: "-r /dev/video0", Output: "readable\n"},
		{Contains: "/dev/video1", Output: "absent\n"},
		{Contains: "/dev/video2", Output: "absent\n"},
		{Contains: "/dev/video0", Output: "present\n"},
		{Contains: "is-active docker", Output: "active\n"},
		{Contains: "ss -ltn", Output: "0.0.0.0:22\n0.0.0.0:8443\n"},
	}
}

func TestRunCompletesWithoutReboot(t *testing.T) {
	srv := &testutils.FakeServer{Handler: testutils.RespondWith(healthyResponses()...)}
	o := NewOrchestrator(discardLogger(), srv, testConfig(config.EnablePrompt))
	o.Prompt = func(string) (bool, error) {
		t.Error("prompted although every interface is enabled")
		return false, nil
	}

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, cmd := range srv.Commands() {
		if strings.Contains(cmd, "reboot") && !strings.Contains(cmd, ".scopeprep-reboot") {
			t.Fatalf("unexpected reboot command: %q", cmd)
		}
	}
}

func TestRunEnablesAndReboots(t *testing.T) {
	srv := &testutils.FakeServer{
		Handler: testutils.RespondWith(
			testutils.Response{Contains: "umask", Output: ""},
			testutils.Response{Contains: "rm -f", Output: "__SCOPEPREP_NO_SENTINEL__"},
			testutils.Response{Contains: "/dev/i2c-1", Output: "absent\n"},
			testutils.Response{Contains: "command -v", Output: "yes\n"},
			testutils.Response{Contains: "raspi-config", Output: ""},
			testutils.Response{Contains: "sudo -n reboot", Err: errors.New("connection closed by remote host")},
		),
	}
	o := NewOrchestrator(discardLogger(), srv, testConfig(config.EnableAlways))

	err := o.Run(context.Background())
	if !errors.Is(err, ErrRebootPending) {
		t.Fatalf("expected ErrRebootPending, got %v", err)
	}

	cmds := srv.Commands()
	sentinelIdx, rebootIdx, enableIdx := -1, -1, -1
	for i, cmd := range cmds {
		switch {
		case strings.Contains(cmd, "umask"):
			sentinelIdx = i
		case strings.Contains(cmd, "sudo -n reboot"):
			rebootIdx = i
		case strings.Contains(cmd, "raspi-config nonint do_i2c 0"):
			enableIdx = i
		}
	}
	if enableIdx == -1 {
		t.Fatalf("interface was not enabled: %v", cmds)
	}
	if sentinelIdx == -1 || rebootIdx == -1 {
		t.Fatalf("missing sentinel write or reboot: %v", cmds)
	}
	if sentinelIdx > rebootIdx {
		t.Fatal("sentinel must be written before the reboot is issued")
	}
	if enableIdx > sentinelIdx {
		t.Fatal("interfaces must be enabled before the sentinel is written")
	}
}

func TestRunResumesAfterReboot(t *testing.T) {
	payload := "state: reboot_pending\nrun_id: 3f1c\nrequested_at: 2026-08-29T10:00:00Z\n"
	rules := append([]testutils.Response{
		{Contains: "rm -f", Output: payload},
	}, healthyResponses()[1:]...)

	srv := &testutils.FakeServer{Handler: testutils.RespondWith(rules...)}
	o := NewOrchestrator(discardLogger(), srv, testConfig(config.EnablePrompt))
	o.Prompt = func(string) (bool, error) {
		t.Error("resume path must not prompt")
		return false, nil
	}

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, cmd := range srv.Commands() {
		if strings.Contains(cmd, "raspi-config") || strings.Contains(cmd, "sudo -n reboot") {
			t.Fatalf("resume path must not enable interfaces or reboot: %q", cmd)
		}
	}
}

func TestRunDeclinedEnablement(t *testing.T) {
	// I2C is disabled and stays that way; the run must still proceed to
	// hardware validation and succeed on the camera alone.
	declinedRules := func() []testutils.Response {
		rules := []testutils.Response{
			{Contains: "rm -f", Output: "__SCOPEPREP_NO_SENTINEL__"},
			{Contains: "/dev/i2c-1", Output: "absent\n"},
		}
		return append(rules, healthyResponses()[2:]...)
	}

	assertNoChanges := func(t *testing.T, srv *testutils.FakeServer) {
		t.Helper()
		for _, cmd := range srv.Commands() {
			if strings.Contains(cmd, "raspi-config") || strings.Contains(cmd, "umask") || strings.Contains(cmd, "sudo -n reboot") {
				t.Fatalf("declined run must not change the target: %q", cmd)
			}
		}
	}

	t.Run("operator declines prompt", func(t *testing.T) {
		srv := &testutils.FakeServer{Handler: testutils.RespondWith(declinedRules()...)}
		o := NewOrchestrator(discardLogger(), srv, testConfig(config.EnablePrompt))
		prompted := false
		o.Prompt = func(q string) (bool, error) {
			prompted = true
			if !strings.Contains(q, "i2c") {
				t.Errorf("question does not name the interface: %q", q)
			}
			return false, nil
		}

		if err := o.Run(context.Background()); err != nil {
			t.Fatalf("declined run must still validate and succeed: %v", err)
		}
		if !prompted {
			t.Fatal("expected a prompt")
		}
		assertNoChanges(t, srv)
	})

	t.Run("policy never skips the prompt", func(t *testing.T) {
		srv := &testutils.FakeServer{Handler: testutils.RespondWith(declinedRules()...)}
		o := NewOrchestrator(discardLogger(), srv, testConfig(config.EnableNever))
		o.Prompt = func(string) (bool, error) {
			t.Error("policy never must not prompt")
			return false, nil
		}

		if err := o.Run(context.Background()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		assertNoChanges(t, srv)
	})

	t.Run("nil prompt declines", func(t *testing.T) {
		srv := &testutils.FakeServer{Handler: testutils.RespondWith(declinedRules()...)}
		o := NewOrchestrator(discardLogger(), srv, testConfig(config.EnablePrompt))

		if err := o.Run(context.Background()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		assertNoChanges(t, srv)
	})

	t.Run("battery check is skipped while I2C stays disabled", func(t *testing.T) {
		srv := &testutils.FakeServer{Handler: testutils.RespondWith(declinedRules()...)}
		cfg := testConfig(config.EnableNever)
		cfg.Provision.BatteryCheck = true
		o := NewOrchestrator(discardLogger(), srv, cfg)

		if err := o.Run(context.Background()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		for _, cmd := range srv.Commands() {
			if strings.Contains(cmd, "i2cget") {
				t.Fatalf("fuel gauge probed although I2C is disabled: %q", cmd)
			}
		}
	})
}

func TestEnsureReachable(t *testing.T) {
	t.Run("recovers after failed probes", func(t *testing.T) {
		srv := &testutils.FakeServer{
			ProbeErrs: []error{
				errors.New("connection refused"),
				errors.New("connection refused"),
			},
		}
		o := NewOrchestrator(discardLogger(), srv, testConfig(config.EnablePrompt))

		if err := o.EnsureReachable(context.Background()); err != nil {
			t.Fatalf("EnsureReachable failed: %v", err)
		}
		if srv.ProbeCount() != 3 {
			t.Fatalf("expected 3 probes, got %d", srv.ProbeCount())
		}
	})

	t.Run("reports unreachable after the budget", func(t *testing.T) {
		probeErrs := make([]error, 1000)
		for i := range probeErrs {
			probeErrs[i] = errors.New("no route to host")
		}
		srv := &testutils.FakeServer{ProbeErrs: probeErrs}

		cfg := testConfig(config.EnablePrompt)
		cfg.Provision.Reachability = config.PollConfig{Interval: time.Millisecond, Timeout: 20 * time.Millisecond}
		o := NewOrchestrator(discardLogger(), srv, cfg)

		err := o.EnsureReachable(context.Background())
		var unreachable *UnreachableError
		if !errors.As(err, &unreachable) {
			t.Fatalf("expected UnreachableError, got %v", err)
		}
		if !errors.Is(err, retry.ErrTimeout) {
			t.Fatalf("expected wrapped timeout, got %v", err)
		}
		if unreachable.Address != srv.Address() {
			t.Fatalf("unexpected address: %q", unreachable.Address)
		}
	})
}

func TestProbeInterfaces(t *testing.T) {
	srv := &testutils.FakeServer{
		Handler: testutils.RespondWith(
			testutils.Response{Contains: "/dev/i2c-1", Output: "present\n"},
		),
	}
	o := NewOrchestrator(discardLogger(), srv, testConfig(config.EnablePrompt))

	states, err := o.ProbeInterfaces(context.Background())
	if err != nil {
		t.Fatalf("ProbeInterfaces failed: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("expected one bus, got %v", states)
	}
	if got := states["i2c"].String(); got != "ENABLED" {
		t.Fatalf("expected i2c ENABLED, got %s", got)
	}
}

func TestRemediationOf(t *testing.T) {
	unreachable := &UnreachableError{Address: "pi.local", Timeout: time.Second, Err: errors.New("refused")}
	if RemediationOf(unreachable) == "" {
		t.Fatal("expected remediation for UnreachableError")
	}

	pre := &PreconditionError{Check: "c", Detail: "d", Remediation: "do the thing"}
	if got := RemediationOf(pre); got != "do the thing" {
		t.Fatalf("unexpected remediation: %q", got)
	}

	if RemediationOf(errors.New("plain")) != "" {
		t.Fatal("expected no remediation for a plain error")
	}
}
