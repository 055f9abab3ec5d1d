package packages

import (
	"embed"
	"text/template"

	"github.com/vsagcr/scopeprep/internal/strutil"
)

//go:embed scripts/*.sh.tmpl
var packageScriptsFS embed.FS

var packageScriptTemplates = template.Must(template.New("packages").Funcs(template.FuncMap{
	"shellEscape": strutil.ShellEscape,
}).Option("missingkey=error").ParseFS(packageScriptsFS, "scripts/*.sh.tmpl"))
