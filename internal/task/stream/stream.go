// Package stream starts the camera streaming service on the target via
// docker compose and reports whether its TCP port is accepting
// connections.
package stream

import (
	"context"
	"fmt"
	"strings"

	"github.com/vsagcr/scopeprep/internal/server"
	"github.com/vsagcr/scopeprep/internal/strutil"
	"github.com/vsagcr/scopeprep/internal/task"
	"github.com/vsagcr/scopeprep/internal/task/taskutil"
)

const TaskKey = "stream"

type Config struct {
	// ComposeDir is the directory holding the compose file, relative to
	// the remote user's home unless absolute.
	ComposeDir string `yaml:"compose_dir"`
	Port       int    `yaml:"port"`
}

func Spec() task.Spec {
	return task.SpecFor(TaskKey, "stream.yaml", buildTasks)
}

func buildTasks(cfg Config) ([]task.Task, error) {
	dir := strings.TrimSpace(cfg.ComposeDir)
	if dir == "" {
		return nil, fmt.Errorf("stream: compose_dir cannot be empty")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("stream: invalid port %d", cfg.Port)
	}
	return []task.Task{NewStartTask(dir, cfg.Port)}, nil
}

type StartTask struct {
	composeDir string
	port       int
}

func NewStartTask(composeDir string, port int) *StartTask {
	return &StartTask{composeDir: composeDir, port: port}
}

func (t *StartTask) Name() string {
	return fmt.Sprintf("start streaming service on port %d", t.port)
}

func (t *StartTask) NeedsExecution(ctx context.Context, s server.Server) (bool, error) {
	listening, err := PortListening(ctx, s, t.port)
	if err != nil {
		return false, err
	}
	return !listening, nil
}

func (t *StartTask) Execute(ctx context.Context, s server.Server) error {
	prefix, err := taskutil.SudoPrefix(ctx, s)
	if err != nil {
		return err
	}

	script := fmt.Sprintf("cd %s && %sdocker compose up -d", t.composeDirExpr(), prefix)
	if _, err := s.Execute(ctx, "sh -c "+strutil.ShellEscape(script)); err != nil {
		return fmt.Errorf("start streaming service: %w", err)
	}
	return nil
}

func (t *StartTask) Port() int { return t.port }

func (t *StartTask) composeDirExpr() string {
	if strings.HasPrefix(t.composeDir, "/") {
		return strutil.ShellEscape(t.composeDir)
	}
	return `"$HOME"/` + strutil.ShellEscape(t.composeDir)
}

// PortListening reports whether a TCP listener is bound to the port on
// the target. ss ships with iproute2 on Raspberry Pi OS.
func PortListening(ctx context.Context, s server.Server, port int) (bool, error) {
	const script = "ss -ltn 2>/dev/null | awk '{print $4}'"
	output, err := s.Execute(ctx, "sh -c "+strutil.ShellEscape(script))
	if err != nil {
		return false, fmt.Errorf("check listening port %d: %w", port, err)
	}

	suffix := fmt.Sprintf(":%d", port)
	listening := false
	if err := taskutil.ScanLines(output, func(line string) {
		if strings.HasSuffix(strings.TrimSpace(line), suffix) {
			listening = true
		}
	}); err != nil {
		return false, err
	}
	return listening, nil
}
