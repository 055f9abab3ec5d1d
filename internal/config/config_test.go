package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, DefaultConfigFileName)
	configContent := `
target:
  name: scope-pi
  address: 192.168.1.50
  user:
    name: pi
    ssh_key: ~/.ssh/id_ed25519
    sudo_password: raspberry
  use_agent: false
  handshake_timeout: 12s
provision:
  enable_missing: never
  reachability:
    interval: 2s
    timeout: 120s
tasks:
  interfaces:
    spi: false
  packages:
    install:
      - i2c-tools
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write temp config file: %v", err)
	}

	t.Run("load target and tasks config", func(t *testing.T) {
		cfg, err := Load(configPath)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		tgt := cfg.Target
		if tgt.Name != "scope-pi" {
			t.Fatalf("expected target name %q, got %q", "scope-pi", tgt.Name)
		}
		if tgt.Address != "192.168.1.50" {
			t.Fatalf("expected address %q, got %q", "192.168.1.50", tgt.Address)
		}
		if tgt.User.Name != "pi" {
			t.Fatalf("expected user name %q, got %q", "pi", tgt.User.Name)
		}
		if tgt.User.SSHKey != "~/.ssh/id_ed25519" {
			t.Fatalf("expected ssh_key %q, got %q", "~/.ssh/id_ed25519", tgt.User.SSHKey)
		}
		if tgt.UseAgent == nil || *tgt.UseAgent != false {
			t.Fatalf("expected use_agent=false, got %v", tgt.UseAgent)
		}
		if tgt.HandshakeTimeout != 12*time.Second {
			t.Fatalf("expected handshake_timeout=12s, got %s", tgt.HandshakeTimeout)
		}

		ifaces, ok := cfg.Tasks["interfaces"].(map[string]any)
		if !ok || ifaces["spi"] != false {
			t.Fatalf("expected interfaces spi=false, got %+v", cfg.Tasks["interfaces"])
		}
	})

	t.Run("provision settings with defaults filled in", func(t *testing.T) {
		cfg, err := Load(configPath)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		p := cfg.Provision
		if p.EnableMissing != EnableNever {
			t.Fatalf("expected enable_missing=never, got %q", p.EnableMissing)
		}
		if p.Reachability.Interval != 2*time.Second || p.Reachability.Timeout != 120*time.Second {
			t.Fatalf("unexpected reachability poll config: %+v", p.Reachability)
		}
		if p.DeviceWait.Interval != DefaultDeviceWaitInterval || p.DeviceWait.Timeout != DefaultDeviceWaitTimeout {
			t.Fatalf("expected default device_wait config, got %+v", p.DeviceWait)
		}
		if p.SentinelPath != DefaultSentinelPath {
			t.Fatalf("expected default sentinel path, got %q", p.SentinelPath)
		}
	})

	t.Run("invalid enable_missing policy", func(t *testing.T) {
		badPath := filepath.Join(tmpDir, "bad.yaml")
		bad := "provision:\n  enable_missing: sometimes\n"
		if err := os.WriteFile(badPath, []byte(bad), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		if _, err := Load(badPath); err == nil {
			t.Error("expected error for invalid enable_missing policy, got nil")
		}
	})

	t.Run("load from non-existent file", func(t *testing.T) {
		_, err := Load("non-existent-file.yaml")
		if err == nil {
			t.Error("expected error when loading non-existent file, got nil")
		}
	})

	t.Run("env overrides sudo password", func(t *testing.T) {
		envKey := "SCOPEPREP_TARGET_USER_SUDO_PASSWORD"
		if err := os.Setenv(envKey, "env-pass"); err != nil {
			t.Fatalf("failed to set env var: %v", err)
		}
		t.Cleanup(func() {
			_ = os.Unsetenv(envKey)
		})

		cfg, err := Load(configPath)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Target.User.SudoPassword != "env-pass" {
			t.Fatalf("expected env override sudo_password %q, got %q", "env-pass", cfg.Target.User.SudoPassword)
		}
	})
}
