package config

import (
	"fmt"
	"slices"

	"github.com/hashicorp/go-multierror"
)

// Mutators are total: each one validates the would-be result before
// touching the receiver, so a failed mutation never leaves the model
// partially changed. Staging applies them on an in-memory copy and only
// the apply engine persists the document.

// commit replaces the receiver with next if next still validates.
// Violations that already existed before the mutation are not blamed on
// it: only new ones abort.
func (m *RouterConfig) commit(next *RouterConfig) error {
	prior := map[string]bool{}
	for _, err := range m.Validate() {
		prior[err.Error()] = true
	}

	var result *multierror.Error
	for _, err := range next.Validate() {
		if !prior[err.Error()] {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}

	*m = *next
	return nil
}

// AssignRole binds a physical interface to a role. For the internal
// role the interface is appended to the ordered internal list; its name
// becomes "internal<N>".
func (m *RouterConfig) AssignRole(role string, iface Interface) error {
	next := m.Clone()

	switch role {
	case RoleManagement:
		next.Management = &ManagementConfig{Iface: iface.Iface, Mode: "dhcp"}
	case RoleExternal:
		iface.Name = RoleExternal
		if iface.MTU == 0 {
			iface.MTU = 1500
		}
		next.External = iface
	case RoleInternal:
		iface.Name = fmt.Sprintf("internal%d", len(next.Internals))
		if iface.MTU == 0 {
			iface.MTU = 1500
		}
		next.Internals = append(next.Internals, iface)
	default:
		return invalid("role", "unknown role %q", role)
	}

	return m.commit(next)
}

// SetAddressing replaces the addresses of the named dataplane
// interface.
func (m *RouterConfig) SetAddressing(name string, ipv4, ipv6 []Addr) error {
	next := m.Clone()

	iface := next.InterfaceByName(name)
	if iface == nil {
		return invalid("interfaces", "no interface named %q", name)
	}
	iface.IPv4 = ipv4
	iface.IPv6 = ipv6

	return m.commit(next)
}

// SetManagementStatic switches the management interface to static
// addressing.
func (m *RouterConfig) SetManagementStatic(ipv4 string, prefix int, gateway string) error {
	next := m.Clone()

	if next.Management == nil {
		return invalid("management", "no management interface assigned")
	}
	next.Management.Mode = "static"
	next.Management.IPv4 = ipv4
	next.Management.IPv4Prefix = prefix
	next.Management.IPv4Gateway = gateway

	return m.commit(next)
}

// SetRoute adds a static route, replacing any existing route to the
// same destination.
func (m *RouterConfig) SetRoute(route Route) error {
	next := m.Clone()

	replaced := false
	for i := range next.Routes {
		if next.Routes[i].Destination == route.Destination {
			next.Routes[i] = route
			replaced = true
			break
		}
	}
	if !replaced {
		next.Routes = append(next.Routes, route)
	}

	return m.commit(next)
}

// RemoveRoute deletes the static route to the given destination.
func (m *RouterConfig) RemoveRoute(destination string) error {
	next := m.Clone()

	before := len(next.Routes)
	next.Routes = slices.DeleteFunc(next.Routes, func(r Route) bool {
		return r.Destination == destination
	})
	if len(next.Routes) == before {
		return invalid("routes", "no route to %q", destination)
	}

	return m.commit(next)
}

// EnableModule enables a module instance, creating it when absent.
func (m *RouterConfig) EnableModule(name string) error {
	next := m.Clone()

	if mod := next.Module(name); mod != nil {
		mod.Enabled = true
	} else {
		next.Modules = append(next.Modules, ModuleInstance{
			Name:    name,
			Enabled: true,
			Config:  map[string]any{},
		})
	}

	return m.commit(next)
}

// DisableModule disables a module instance. The instance and its config
// are kept, so re-enabling restores the previous settings.
func (m *RouterConfig) DisableModule(name string) error {
	next := m.Clone()

	mod := next.Module(name)
	if mod == nil {
		return invalid("modules", "no module named %q", name)
	}
	mod.Enabled = false

	return m.commit(next)
}

// SetModuleField sets a single field of a module's config map.
func (m *RouterConfig) SetModuleField(name, field string, value any) error {
	next := m.Clone()

	mod := next.Module(name)
	if mod == nil {
		return invalid("modules", "no module named %q", name)
	}
	if mod.Config == nil {
		mod.Config = map[string]any{}
	}
	mod.Config[field] = value

	return m.commit(next)
}
