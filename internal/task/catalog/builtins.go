package catalog

import (
	"github.com/vsagcr/scopeprep/internal/task"
	"github.com/vsagcr/scopeprep/internal/task/ifaces"
	"github.com/vsagcr/scopeprep/internal/task/packages"
	"github.com/vsagcr/scopeprep/internal/task/stream"
)

// Builtins returns the built-in task specifications in execution order:
// packages first, then bus interfaces, then the streaming service.
func Builtins() []task.Spec {
	return []task.Spec{
		packages.Spec(),
		ifaces.Spec(),
		stream.Spec(),
	}
}
