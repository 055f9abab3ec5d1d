package taskutil

import (
	"context"
	"fmt"
	"strings"

	"github.com/vsagcr/scopeprep/internal/server"
	"github.com/vsagcr/scopeprep/internal/strutil"
)

const missingFileSentinel = "__SCOPEPREP_MISSING__"

// SudoPrefix returns "sudo -n " unless the session already runs as root.
func SudoPrefix(ctx context.Context, s server.Server) (string, error) {
	output, err := s.Execute(ctx, "id -u")
	if err != nil {
		return "", fmt.Errorf("check for root user: %w", err)
	}
	if strings.TrimSpace(output) == "0" {
		return "", nil
	}
	return "sudo -n ", nil
}

// ReadFileIfExists returns the file content, or missing=true when the
// path does not exist on the target.
func ReadFileIfExists(ctx context.Context, s server.Server, prefix, path string) (string, bool, error) {
	marker := missingFileSentinel + ":" + path
	pathEsc := strutil.ShellEscape(path)
	script := fmt.Sprintf(
		"if [ -f %s ]; then cat %s; else printf '%%s' %s; fi",
		pathEsc,
		pathEsc,
		strutil.ShellEscape(marker),
	)
	cmd := prefix + "sh -c " + strutil.ShellEscape(script)
	output, err := s.Execute(ctx, cmd)
	if err != nil {
		return "", false, fmt.Errorf("read file %q: %w", path, err)
	}
	if strings.TrimSpace(output) == marker {
		return "", true, nil
	}
	return output, false, nil
}

// PathExists reports whether path exists on the target. The check runs
// without sudo; device files under /dev are world-visible.
func PathExists(ctx context.Context, s server.Server, path string) (bool, error) {
	pathEsc := strutil.ShellEscape(path)
	script := fmt.Sprintf("if [ -e %s ]; then echo present; else echo absent; fi", pathEsc)
	output, err := s.Execute(ctx, "sh -c "+strutil.ShellEscape(script))
	if err != nil {
		return false, fmt.Errorf("check path %q: %w", path, err)
	}
	return strings.TrimSpace(output) == "present", nil
}

// WriteFile replaces the file at path with content, creating it if
// necessary. Content is passed through printf so arbitrary bytes short
// of NUL survive the round trip.
func WriteFile(ctx context.Context, s server.Server, prefix, path, content string) error {
	script := fmt.Sprintf(
		"printf '%%s' %s > %s",
		strutil.ShellEscape(content),
		strutil.ShellEscape(path),
	)
	cmd := prefix + "sh -c " + strutil.ShellEscape(script)
	if _, err := s.Execute(ctx, cmd); err != nil {
		return fmt.Errorf("write file %q: %w", path, err)
	}
	return nil
}

// CommandAvailable reports whether the named command resolves on the
// target's PATH.
func CommandAvailable(ctx context.Context, s server.Server, name string) (bool, error) {
	script := fmt.Sprintf(
		"if command -v %s >/dev/null 2>&1; then echo yes; else echo no; fi",
		strutil.ShellEscape(name),
	)
	output, err := s.Execute(ctx, "sh -c "+strutil.ShellEscape(script))
	if err != nil {
		return false, fmt.Errorf("check command %q: %w", name, err)
	}
	return strings.TrimSpace(output) == "yes", nil
}
