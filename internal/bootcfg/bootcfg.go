// Package bootcfg models the Raspberry Pi firmware configuration file
// and the dtparam lines that switch hardware interfaces on. The file
// moved between OS releases, so readers search a fixed candidate list.
package bootcfg

import (
	"context"
	"fmt"
	"strings"

	"github.com/vsagcr/scopeprep/internal/server"
	"github.com/vsagcr/scopeprep/internal/task/taskutil"
)

const (
	// ParamI2C and ParamSPI are the dtparam keys controlling the buses.
	ParamI2C = "i2c_arm"
	ParamSPI = "spi"

	ValueOn  = "on"
	ValueOff = "off"
)

// CandidatePaths lists boot config locations, newest layout first.
var CandidatePaths = []string{
	"/boot/firmware/config.txt",
	"/boot/config.txt",
}

// ReadConfig locates the boot configuration on the target and returns
// its path and content.
func ReadConfig(ctx context.Context, s server.Server) (string, string, error) {
	prefix, err := taskutil.SudoPrefix(ctx, s)
	if err != nil {
		return "", "", err
	}

	for _, path := range CandidatePaths {
		output, missing, err := taskutil.ReadFileIfExists(ctx, s, prefix, path)
		if err != nil {
			return "", "", err
		}
		if missing {
			continue
		}
		return path, output, nil
	}
	return "", "", fmt.Errorf("boot config not found (checked: %s)", strings.Join(CandidatePaths, ", "))
}

// Enabled reports whether the content enables the given dtparam key.
// The firmware applies lines top to bottom, so the last matching line wins.
func Enabled(content, param string) bool {
	value := ""
	for _, line := range strings.Split(content, "\n") {
		if v, ok := paramValue(line, param); ok {
			value = v
		}
	}
	return value == ValueOn
}

// HasParam reports whether any line sets the given dtparam key at all.
func HasParam(content, param string) bool {
	for _, line := range strings.Split(content, "\n") {
		if _, ok := paramValue(line, param); ok {
			return true
		}
	}
	return false
}

// SetParam removes every assignment of param and appends a single
// line setting it. Applying it twice yields identical content.
func SetParam(content, param, value string) string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines)+1)
	for _, line := range lines {
		if _, ok := paramValue(line, param); !ok {
			out = append(out, line)
			continue
		}
		// dtparam lines can carry several comma-separated assignments;
		// keep the unrelated ones.
		if kept, remaining := stripParam(line, param); remaining {
			out = append(out, kept)
		}
	}

	// Drop trailing blank lines so the appended setting does not drift
	// further down the file on repeated runs.
	for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
		out = out[:len(out)-1]
	}

	out = append(out, fmt.Sprintf("dtparam=%s=%s", param, value))
	return strings.Join(out, "\n") + "\n"
}

// stripParam rewrites a dtparam line without the assignments for param.
// remaining is false when nothing else was set on the line.
func stripParam(line, param string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	rest, found := strings.CutPrefix(trimmed, "dtparam=")
	if !found {
		return line, true
	}
	kept := make([]string, 0, 2)
	for _, part := range strings.Split(rest, ",") {
		key, _, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && strings.TrimSpace(key) == param {
			continue
		}
		kept = append(kept, strings.TrimSpace(part))
	}
	if len(kept) == 0 {
		return "", false
	}
	return "dtparam=" + strings.Join(kept, ","), true
}

// paramValue extracts the value when line is a dtparam setting for the
// given key. Comments and unrelated settings return ok=false.
func paramValue(line, param string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "#") {
		return "", false
	}
	rest, found := strings.CutPrefix(trimmed, "dtparam=")
	if !found {
		return "", false
	}
	// dtparam accepts comma-separated assignments on a single line.
	for _, part := range strings.Split(rest, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(key) == param {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}
