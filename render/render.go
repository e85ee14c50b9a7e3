// Package render expands artifact templates against the configuration
// model, the resource allocation and the synthesized rules. Every
// template receives an explicit, fully-constructed context and fails
// closed: an undefined reference is a render error, never an empty
// substitution.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"text/template"

	"github.com/imp-platform/imp/alloc"
	"github.com/imp-platform/imp/catalog"
	"github.com/imp-platform/imp/common/xtemplate"
	"github.com/imp-platform/imp/config"
	"github.com/imp-platform/imp/ruleset"
)

// Target locations of the rendered artifacts.
const (
	DataplaneDir   = "/etc/dataplane"
	RoutingConfDir = "/etc/frr"
	SystemdDir     = "/etc/systemd/system"
	NetworkdDir    = "/etc/systemd/network"
)

// Kind classifies an artifact. The apply engine maps kinds to the
// services that must be restarted, statically, never by inspecting the
// live system.
type Kind string

const (
	KindCoreStartup    Kind = "core-startup"
	KindCoreCommands   Kind = "core-commands"
	KindRoutingConfig  Kind = "routing-config"
	KindSystemdUnit    Kind = "systemd-unit"
	KindNetworkdUnit   Kind = "networkd-unit"
	KindModuleStartup  Kind = "module-startup"
	KindModuleCommands Kind = "module-commands"
	KindModuleUnit     Kind = "module-unit"
)

// Artifact is one rendered text file together with its target path.
type Artifact struct {
	// Path is the absolute destination.
	Path string
	Kind Kind
	// Module is the owning module, empty for core artifacts.
	Module  string
	Mode    fs.FileMode
	Content []byte
}

// RenderError reports a template that could not be expanded.
type RenderError struct {
	Module   string
	Artifact string
	Msg      string
}

func (e *RenderError) Error() string {
	switch {
	case e.Module == "":
		return fmt.Sprintf("artifact %s: %s", e.Artifact, e.Msg)
	case e.Artifact == "":
		return fmt.Sprintf("module %q: %s", e.Module, e.Msg)
	default:
		return fmt.Sprintf("module %q: artifact %s: %s", e.Module, e.Artifact, e.Msg)
	}
}

//go:embed templates/*.tmpl
var templateFS embed.FS

// templates is parsed once; bodies are syntax-checked at package init.
var templates = func() *template.Template {
	t := xtemplate.New("artifacts")
	return template.Must(t.ParseFS(templateFS, "templates/*.tmpl"))
}()

// Render produces the full artifact set: the core dataplane startup
// and command script, the routing daemon config, the unit files that
// depend on the interface set, and three artifacts per enabled module.
// A failing module stops its own artifacts only; core artifact
// failures are fatal.
func Render(cfg *config.RouterConfig, cat *catalog.Catalog, a *alloc.Allocation, rules *ruleset.Rules) ([]Artifact, []error) {
	ctx, err := newContext(cfg, cat, a, rules)
	if err != nil {
		return nil, []error{err}
	}

	var artifacts []Artifact
	var errs []error

	core := []struct {
		tmpl string
		path string
		kind Kind
	}{
		{"startup-core.conf.tmpl", path.Join(DataplaneDir, "startup-core.conf"), KindCoreStartup},
		{"commands-core.txt.tmpl", path.Join(DataplaneDir, "commands-core.txt"), KindCoreCommands},
		{"frr.conf.tmpl", path.Join(RoutingConfDir, "frr.conf"), KindRoutingConfig},
		{"netns-move-interfaces.service.tmpl", path.Join(SystemdDir, "netns-move-interfaces.service"), KindSystemdUnit},
	}
	for _, c := range core {
		content, err := execute(c.tmpl, ctx)
		if err != nil {
			errs = append(errs, &RenderError{Artifact: path.Base(c.path), Msg: err.Error()})
			continue
		}
		artifacts = append(artifacts, Artifact{Path: c.path, Kind: c.kind, Mode: 0o644, Content: content})
	}

	if cfg.Management != nil {
		content, err := execute("10-management.network.tmpl", ctx)
		if err != nil {
			errs = append(errs, &RenderError{Artifact: "10-management.network", Msg: err.Error()})
		} else {
			artifacts = append(artifacts, Artifact{
				Path:    path.Join(NetworkdDir, "10-management.network"),
				Kind:    KindNetworkdUnit,
				Mode:    0o644,
				Content: content,
			})
		}
	}

	for _, mod := range ctx.Modules {
		arts, merrs := renderModule(ctx, mod)
		if len(merrs) > 0 {
			errs = append(errs, merrs...)
			continue
		}
		artifacts = append(artifacts, arts...)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return artifacts, nil
}

// renderModule produces the startup config, command script and service
// unit of one module. The first failure stops this module.
func renderModule(base *Context, mod ModuleView) ([]Artifact, []error) {
	ctx := *base
	ctx.Module = &mod

	fail := func(artifact string, err error) []error {
		return []error{&RenderError{Module: mod.Name, Artifact: artifact, Msg: err.Error()}}
	}

	startup, err := execute("startup-module.conf.tmpl", &ctx)
	if err != nil {
		return nil, fail("startup-"+mod.Name+".conf", err)
	}

	// The command script is the generated connection preamble followed
	// by the module's own template body.
	preamble, err := execute("commands-module-preamble.txt.tmpl", &ctx)
	if err != nil {
		return nil, fail("commands-"+mod.Name+".txt", err)
	}
	body, err := executeBody(mod.Name, mod.Template, &ctx)
	if err != nil {
		return nil, fail("commands-"+mod.Name+".txt", err)
	}
	commands := append(preamble, body...)

	unit, err := execute("dataplane-module.service.tmpl", &ctx)
	if err != nil {
		return nil, fail("dataplane-"+mod.Name+".service", err)
	}

	return []Artifact{
		{
			Path:    path.Join(DataplaneDir, "startup-"+mod.Name+".conf"),
			Kind:    KindModuleStartup,
			Module:  mod.Name,
			Mode:    0o644,
			Content: startup,
		},
		{
			Path:    path.Join(DataplaneDir, "commands-"+mod.Name+".txt"),
			Kind:    KindModuleCommands,
			Module:  mod.Name,
			Mode:    0o644,
			Content: commands,
		},
		{
			Path:    path.Join(SystemdDir, "dataplane-"+mod.Name+".service"),
			Kind:    KindModuleUnit,
			Module:  mod.Name,
			Mode:    0o644,
			Content: unit,
		},
	}, nil
}

func execute(name string, ctx *Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, ctx); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// executeBody expands a module-supplied template body.
func executeBody(name, body string, ctx *Context) ([]byte, error) {
	t, err := xtemplate.Parse(name, body)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
