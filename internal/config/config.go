package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	goconfig "github.com/tpodg/go-config"
)

const DefaultConfigFileName = ".scopeprep.yaml"

// Policies for handling interfaces that are not yet enabled.
const (
	EnablePrompt = "prompt"
	EnableAlways = "always"
	EnableNever  = "never"
)

// Defaults applied by Load when the file leaves fields unset.
const (
	DefaultReachabilityInterval = 5 * time.Second
	DefaultReachabilityTimeout  = 300 * time.Second
	DefaultDeviceWaitInterval   = 2 * time.Second
	DefaultDeviceWaitTimeout    = 60 * time.Second
	DefaultSentinelPath         = ".scopeprep-reboot"
)

type Config struct {
	Target    TargetConfig    `yaml:"target"`
	Provision ProvisionConfig `yaml:"provision"`
	Tasks     map[string]any  `yaml:"tasks"`
}

type TargetConfig struct {
	Name             string        `yaml:"name"`
	Address          string        `yaml:"address"`
	User             UserConfig    `yaml:"user"`
	KnownHostsPath   string        `yaml:"known_hosts"`
	UseAgent         *bool         `yaml:"use_agent"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

type UserConfig struct {
	Name         string `yaml:"name"`
	SSHKey       string `yaml:"ssh_key"`
	SudoPassword string `yaml:"sudo_password"`
}

type ProvisionConfig struct {
	// EnableMissing decides what to do with interfaces that are not yet
	// enabled: prompt the operator, enable without asking, or skip.
	EnableMissing string     `yaml:"enable_missing"`
	Reachability  PollConfig `yaml:"reachability"`
	DeviceWait    PollConfig `yaml:"device_wait"`
	// SentinelPath is the reboot sentinel location, relative to the
	// target user's home directory.
	SentinelPath string `yaml:"sentinel_path"`
	// BatteryCheck adds a fuel gauge probe to hardware validation.
	BatteryCheck bool `yaml:"battery_check"`
}

type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Load reads the configuration from the given file or default locations
// and fills in defaults for unset provisioning knobs.
func Load(cfgFile string) (*Config, error) {
	path, err := findConfigFile(cfgFile)
	if err != nil {
		return nil, err
	}

	c := goconfig.New()
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for %s: %w", path, err)
		}
		c.WithProviders(&goconfig.Yaml{Path: absPath})
	}

	c.WithProviders(&goconfig.Env{Prefix: "SCOPEPREP"})

	cfg := &Config{}
	if err := c.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	p := &c.Provision
	switch p.EnableMissing {
	case "":
		p.EnableMissing = EnablePrompt
	case EnablePrompt, EnableAlways, EnableNever:
	default:
		return fmt.Errorf("invalid enable_missing policy %q (must be %s, %s or %s)",
			p.EnableMissing, EnablePrompt, EnableAlways, EnableNever)
	}

	if p.Reachability.Interval == 0 {
		p.Reachability.Interval = DefaultReachabilityInterval
	}
	if p.Reachability.Timeout == 0 {
		p.Reachability.Timeout = DefaultReachabilityTimeout
	}
	if p.DeviceWait.Interval == 0 {
		p.DeviceWait.Interval = DefaultDeviceWaitInterval
	}
	if p.DeviceWait.Timeout == 0 {
		p.DeviceWait.Timeout = DefaultDeviceWaitTimeout
	}
	if p.SentinelPath == "" {
		p.SentinelPath = DefaultSentinelPath
	}
	return nil
}

func findConfigFile(cfgFile string) (string, error) {
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			return "", fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
		return cfgFile, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, DefaultConfigFileName)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if _, err := os.Stat(DefaultConfigFileName); err == nil {
		return DefaultConfigFileName, nil
	}

	return "", nil
}
