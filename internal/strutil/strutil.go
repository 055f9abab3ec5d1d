package strutil

import "strings"

// CleanList returns a de-duplicated list of trimmed, non-empty strings.
func CleanList(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

// ShellEscape returns a single-quoted shell literal for value.
func ShellEscape(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

// TrimOutput strips the trailing newline and surrounding whitespace
// that remote command output usually carries.
func TrimOutput(output string) string {
	return strings.TrimSpace(output)
}
