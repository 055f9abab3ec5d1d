// Package packages installs the system packages the camera rig needs
// (bus tools, video4linux utilities, the container runtime).
package packages

import (
	"context"
	"fmt"
	"strings"

	"github.com/vsagcr/scopeprep/internal/server"
	"github.com/vsagcr/scopeprep/internal/strutil"
	"github.com/vsagcr/scopeprep/internal/task"
	"github.com/vsagcr/scopeprep/internal/task/taskutil"
)

const TaskKey = "packages"

type Config struct {
	Install []string `yaml:"install"`
}

func Spec() task.Spec {
	return task.SpecFor(TaskKey, "packages.yaml", buildTasks)
}

func buildTasks(cfg Config) ([]task.Task, error) {
	pkgs := strutil.CleanList(cfg.Install)
	if len(pkgs) == 0 {
		return nil, nil
	}
	for _, pkg := range pkgs {
		if err := taskutil.ValidateIdentifier("package", pkg); err != nil {
			return nil, err
		}
	}
	return []task.Task{&InstallTask{packages: pkgs}}, nil
}

type InstallTask struct {
	packages []string
}

func (t *InstallTask) Name() string {
	return fmt.Sprintf("install packages: %s", strings.Join(t.packages, ", "))
}

func (t *InstallTask) NeedsExecution(ctx context.Context, s server.Server) (bool, error) {
	missing, err := t.missingPackages(ctx, s)
	if err != nil {
		return false, err
	}
	return len(missing) > 0, nil
}

func (t *InstallTask) Execute(ctx context.Context, s server.Server) error {
	prefix, err := taskutil.SudoPrefix(ctx, s)
	if err != nil {
		return err
	}

	script, err := t.renderScript()
	if err != nil {
		return err
	}

	cmd := prefix + "sh -c " + strutil.ShellEscape(script)
	if _, err := s.Execute(ctx, cmd); err != nil {
		return err
	}
	return nil
}

// missingPackages returns the subset of configured packages not yet
// installed, according to dpkg.
func (t *InstallTask) missingPackages(ctx context.Context, s server.Server) ([]string, error) {
	var sb strings.Builder
	sb.WriteString("for p in")
	for _, pkg := range t.packages {
		sb.WriteString(" ")
		sb.WriteString(strutil.ShellEscape(pkg))
	}
	sb.WriteString(`; do dpkg -s "$p" >/dev/null 2>&1 || printf '%s\n' "$p"; done`)

	output, err := s.Execute(ctx, "sh -c "+strutil.ShellEscape(sb.String()))
	if err != nil {
		return nil, fmt.Errorf("check installed packages: %w", err)
	}

	var missing []string
	if err := taskutil.ScanLines(output, func(line string) {
		line = strings.TrimSpace(line)
		if line != "" {
			missing = append(missing, line)
		}
	}); err != nil {
		return nil, err
	}
	return missing, nil
}

type installScriptData struct {
	Packages []string
}

func (t *InstallTask) renderScript() (string, error) {
	var buf strings.Builder
	data := installScriptData{Packages: t.packages}
	if err := packageScriptTemplates.ExecuteTemplate(&buf, "main", data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}
