package render

import (
	"fmt"

	"github.com/imp-platform/imp/alloc"
	"github.com/imp-platform/imp/catalog"
	"github.com/imp-platform/imp/config"
	"github.com/imp-platform/imp/ruleset"
)

// ConnectionView is a module connection with its allocation resolved.
type ConnectionView struct {
	Name       string
	Purpose    string
	SocketID   int
	SocketPath string
	// LinkName is the dataplane interface name on both ends.
	LinkName   string
	CoreAddr   string
	ModuleAddr string
	Prefix     int
	CreateLCP  bool
}

// ModuleView is the per-module template context.
type ModuleView struct {
	Name           string
	DisplayName    string
	Config         map[string]any
	Connections    []ConnectionView
	CLISocket      string
	MainCore       int
	Workers        string
	Shared         bool
	Plugins        []string
	DisablePlugins []string
	// HeapSize is the dataplane heap, in the "<n>M" form the startup
	// config expects.
	HeapSize string
	// Template is the module's command artifact body.
	Template string
}

// Connection resolves a connection by name; an unknown name fails the
// render.
func (m ModuleView) Connection(name string) (ConnectionView, error) {
	for _, conn := range m.Connections {
		if conn.Name == name {
			return conn, nil
		}
	}
	return ConnectionView{}, fmt.Errorf("module %q has no connection %q", m.Name, name)
}

// InterfaceView is a read-only view of a dataplane interface.
type InterfaceView struct {
	// Name is the role name, which is also the dataplane interface
	// name. Iface is the kernel name of the physical port.
	Name      string
	Iface     string
	MAC       string
	PCI       string
	Addresses []string
	Networks  []string
	MTU       int
}

// RuleView is one preformatted ACL entry.
type RuleView struct {
	Action string
	Match  string
}

// PolicyView is one steering policy with its attachment point resolved.
type PolicyView struct {
	ID      int
	Attach  string
	NextHop string
	Rules   []RuleView
}

// AdvertView is one advertised prefix with its next hop resolved.
type AdvertView struct {
	Module        string
	Prefix        string
	NextHop       string
	AddressFamily string
}

// Context is the complete template context. Every value a template may
// reference is constructed here; templates never reach into ambient
// state.
type Context struct {
	Hostname       string
	Management     *config.ManagementConfig
	External       InterfaceView
	Internals      []InterfaceView
	Interfaces     []InterfaceView
	Routes         []config.Route
	BGP            config.BGPConfig
	NAT            config.NATConfig
	Container      config.ContainerConfig
	CPU            config.CPUConfig
	Modules        []ModuleView
	Policies       []PolicyView
	Advertisements []AdvertView
	// Module is the module being rendered, nil for core artifacts.
	Module *ModuleView
}

func linkName(module, connection string) string {
	return module + "-" + connection
}

func newContext(cfg *config.RouterConfig, cat *catalog.Catalog, a *alloc.Allocation, rules *ruleset.Rules) (*Context, error) {
	ctx := &Context{
		Hostname:   cfg.Hostname,
		Management: cfg.Management,
		External:   interfaceView(&cfg.External),
		Routes:     cfg.Routes,
		BGP:        cfg.BGP,
		NAT:        cfg.NAT,
		Container:  cfg.Container,
		CPU:        cfg.CPU,
	}
	for i := range cfg.Internals {
		ctx.Internals = append(ctx.Internals, interfaceView(&cfg.Internals[i]))
	}
	ctx.Interfaces = append([]InterfaceView{ctx.External}, ctx.Internals...)

	for _, mod := range a.Modules {
		def, ok := cat.Get(mod.Name)
		if !ok {
			return nil, &RenderError{Module: mod.Name, Msg: "no definition for enabled module"}
		}
		inst := cfg.Module(mod.Name)
		if inst == nil {
			return nil, &RenderError{Module: mod.Name, Msg: "allocation references a module absent from config"}
		}
		ctx.Modules = append(ctx.Modules, moduleView(def, &mod, inst))
	}

	for _, p := range rules.Policies {
		ctx.Policies = append(ctx.Policies, policyView(p))
	}
	for _, adv := range rules.Advertisements {
		ctx.Advertisements = append(ctx.Advertisements, AdvertView{
			Module:        adv.Module,
			Prefix:        adv.Prefix,
			NextHop:       adv.NextHop.String(),
			AddressFamily: adv.AddressFamily,
		})
	}

	return ctx, nil
}

func interfaceView(iface *config.Interface) InterfaceView {
	view := InterfaceView{
		Name:     iface.Name,
		Iface:    iface.Iface,
		MAC:      iface.MAC,
		PCI:      iface.PCI,
		Networks: iface.Networks(),
		MTU:      iface.MTU,
	}
	for _, addr := range iface.IPv4 {
		view.Addresses = append(view.Addresses, addr.String())
	}
	for _, addr := range iface.IPv6 {
		view.Addresses = append(view.Addresses, addr.String())
	}
	return view
}

func moduleView(def *catalog.Definition, mod *alloc.Module, inst *config.ModuleInstance) ModuleView {
	view := ModuleView{
		Name:           def.Name,
		DisplayName:    def.DisplayName,
		Config:         def.ConfigWithDefaults(inst.Config),
		CLISocket:      mod.CLISocketPath,
		MainCore:       mod.CPU.MainCore,
		Workers:        alloc.FormatCorelist(mod.CPU.Workers),
		Shared:         mod.CPU.Shared,
		Plugins:        def.Plugins,
		DisablePlugins: def.DisablePlugins,
		HeapSize:       fmt.Sprintf("%dM", int(def.Memory.MBytes())),
		Template:       def.Template,
	}
	for _, sock := range mod.Sockets {
		view.Connections = append(view.Connections, ConnectionView{
			Name:       sock.Connection,
			Purpose:    sock.Purpose,
			SocketID:   sock.ID,
			SocketPath: sock.Path,
			LinkName:   linkName(def.Name, sock.Connection),
			CoreAddr:   sock.CoreAddr.String(),
			ModuleAddr: sock.ModuleAddr.String(),
			Prefix:     sock.Prefix,
			CreateLCP:  sock.CreateLCP,
		})
	}
	return view
}

func policyView(p ruleset.Policy) PolicyView {
	attach := p.Interface
	if attach == "" {
		attach = linkName(p.Module, p.SourceConnection)
	}

	view := PolicyView{
		ID:      p.ID,
		Attach:  attach,
		NextHop: p.NextHop.String(),
	}
	for _, r := range p.Rules {
		action := "deny"
		if r.Permit {
			action = "permit"
		}
		match := ""
		if r.Source != "" {
			match = "src " + r.Source
		}
		if r.Destination != "" {
			if match != "" {
				match += " "
			}
			match += "dst " + r.Destination
		}
		view.Rules = append(view.Rules, RuleView{Action: action, Match: match})
	}
	return view
}
