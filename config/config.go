// Package config holds the router configuration model: the single
// authoritative document from which every generated artifact derives.
package config

import (
	"fmt"
	"net/netip"

	"github.com/imp-platform/imp/common/xnetip"
)

// Interface roles. Role assignment is 1:1 and exhaustive over selected
// interfaces: one optional management interface, exactly one external
// and one or more internal interfaces.
const (
	RoleManagement = "management"
	RoleExternal   = "external"
	RoleInternal   = "internal"
)

// Addr is a single IP address with its prefix length.
type Addr struct {
	Address string `json:"address"`
	Prefix  int    `json:"prefix"`
}

// String returns the address in CIDR notation.
func (m Addr) String() string {
	return fmt.Sprintf("%s/%d", m.Address, m.Prefix)
}

// Interface is a dataplane interface bound to a role.
type Interface struct {
	// Name is the role name the interface is known by inside the
	// dataplane ("external", "internal0", ...).
	Name string `json:"name"`
	// Iface is the kernel interface name ("eth0").
	Iface string `json:"iface"`
	MAC   string `json:"mac,omitempty"`
	// PCI is the device address used for dataplane binding.
	PCI  string `json:"pci,omitempty"`
	IPv4 []Addr `json:"ipv4"`
	IPv6 []Addr `json:"ipv6,omitempty"`
	MTU  int    `json:"mtu"`
}

// Networks returns the IPv4 networks covering the interface addresses.
func (m *Interface) Networks() []string {
	out := make([]string, 0, len(m.IPv4))
	for _, addr := range m.IPv4 {
		prefix, err := netip.ParsePrefix(addr.String())
		if err != nil {
			continue
		}
		out = append(out, prefix.Masked().String())
	}
	return out
}

// IPv6Networks returns the IPv6 networks covering the interface addresses.
func (m *Interface) IPv6Networks() []string {
	out := make([]string, 0, len(m.IPv6))
	for _, addr := range m.IPv6 {
		prefix, err := netip.ParsePrefix(addr.String())
		if err != nil {
			continue
		}
		out = append(out, prefix.Masked().String())
	}
	return out
}

// Route is a static route, including default routes.
type Route struct {
	// Destination in CIDR notation ("0.0.0.0/0", "10.0.0.0/8").
	Destination string `json:"destination"`
	// Via is the next-hop address.
	Via string `json:"via"`
	// Interface optionally pins the route to an interface.
	Interface string `json:"interface,omitempty"`
}

// ManagementConfig describes the management interface, which stays in
// the default namespace for out-of-band access.
type ManagementConfig struct {
	Iface string `json:"iface"`
	// Mode is either "dhcp" or "static".
	Mode        string `json:"mode"`
	IPv4        string `json:"ipv4,omitempty"`
	IPv4Prefix  int    `json:"ipv4_prefix,omitempty"`
	IPv4Gateway string `json:"ipv4_gateway,omitempty"`
}

// BGPPeer is a single BGP neighbor.
type BGPPeer struct {
	Name string `json:"name"`
	// PeerIP is an IPv4 or IPv6 address.
	PeerIP      string `json:"peer_ip"`
	PeerASN     uint32 `json:"peer_asn"`
	Description string `json:"description,omitempty"`
}

// BGPConfig enables BGP on the routing daemon.
type BGPConfig struct {
	Enabled  bool      `json:"enabled"`
	ASN      uint32    `json:"asn,omitempty"`
	RouterID string    `json:"router_id,omitempty"`
	Peers    []BGPPeer `json:"peers,omitempty"`
}

// NATMapping is a single deterministic NAT mapping.
type NATMapping struct {
	SourceNetwork string `json:"source_network"`
	NATPool       string `json:"nat_pool"`
}

// BypassPair is a source/destination pair that must never be diverted
// into a module (direct routing wins).
type BypassPair struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// NATConfig holds the shared NAT facts referenced by modules and the
// rule synthesizer.
type NATConfig struct {
	BGPPrefix   string       `json:"bgp_prefix,omitempty"`
	Mappings    []NATMapping `json:"mappings,omitempty"`
	BypassPairs []BypassPair `json:"bypass_pairs,omitempty"`
}

// ContainerConfig describes the container network attached to the
// dataplane.
type ContainerConfig struct {
	Network   string `json:"network"`
	Gateway   string `json:"gateway"`
	Prefix    int    `json:"prefix"`
	BridgeIP  string `json:"bridge_ip"`
	DHCPStart string `json:"dhcp_start"`
	DHCPEnd   string `json:"dhcp_end"`
}

// DefaultContainerConfig returns the container network defaults.
func DefaultContainerConfig() ContainerConfig {
	cfg, _ := ContainerConfigFromNetwork("10.234.116.0/24", "10.234.116.5")
	return cfg
}

// ContainerConfigFromNetwork derives the bridge address and DHCP range
// from the network CIDR: bridge is the first host, DHCP spans host 100
// through the last usable address.
func ContainerConfigFromNetwork(network, gateway string) (ContainerConfig, error) {
	prefix, err := netip.ParsePrefix(network)
	if err != nil {
		return ContainerConfig{}, fmt.Errorf("invalid container network %q: %w", network, err)
	}
	prefix = prefix.Masked()

	base := prefix.Addr()
	bridge := xnetip.AddOffset(base, 1)
	dhcpStart := xnetip.AddOffset(base, 100)
	dhcpEnd := xnetip.PrevAddr(xnetip.LastAddr(prefix))

	return ContainerConfig{
		Network:   prefix.String(),
		Gateway:   gateway,
		Prefix:    prefix.Bits(),
		BridgeIP:  bridge.String(),
		DHCPStart: dhcpStart.String(),
		DHCPEnd:   dhcpEnd.String(),
	}, nil
}

// ModuleInstance is a configured module nested inside RouterConfig.
// Config must conform to the referenced module definition's schema.
type ModuleInstance struct {
	Name    string         `json:"name"`
	Enabled bool           `json:"enabled"`
	Config  map[string]any `json:"config"`
}

// RouterConfig is the aggregate root: the complete declared intent of
// the router. It is created once, mutated only through the staging
// layer and persisted as the single authoritative document after a
// successful apply.
type RouterConfig struct {
	Hostname   string            `json:"hostname"`
	Management *ManagementConfig `json:"management,omitempty"`
	External   Interface         `json:"external"`
	Internals  []Interface       `json:"internals"`
	Routes     []Route           `json:"routes,omitempty"`
	BGP        BGPConfig         `json:"bgp"`
	NAT        NATConfig         `json:"nat"`
	Container  ContainerConfig   `json:"container"`
	CPU        CPUConfig         `json:"cpu"`
	// Modules is ordered: declaration order drives resource allocation.
	Modules []ModuleInstance `json:"modules"`
}

// DefaultConfig returns an empty configuration with sane defaults.
func DefaultConfig() *RouterConfig {
	return &RouterConfig{
		Hostname:  "appliance",
		Container: DefaultContainerConfig(),
		CPU:       DetectCPUConfig(),
	}
}

// Module returns the module instance with the given name, or nil.
func (m *RouterConfig) Module(name string) *ModuleInstance {
	for i := range m.Modules {
		if m.Modules[i].Name == name {
			return &m.Modules[i]
		}
	}
	return nil
}

// EnabledModules returns enabled module instances in declaration order.
func (m *RouterConfig) EnabledModules() []ModuleInstance {
	out := make([]ModuleInstance, 0, len(m.Modules))
	for _, mod := range m.Modules {
		if mod.Enabled {
			out = append(out, mod)
		}
	}
	return out
}

// Interfaces returns all dataplane interfaces: external first, then the
// internals in declaration order.
func (m *RouterConfig) Interfaces() []Interface {
	out := make([]Interface, 0, 1+len(m.Internals))
	out = append(out, m.External)
	out = append(out, m.Internals...)
	return out
}

// InterfaceByName returns the dataplane interface with the given role
// name, or nil.
func (m *RouterConfig) InterfaceByName(name string) *Interface {
	if m.External.Name == name {
		return &m.External
	}
	for i := range m.Internals {
		if m.Internals[i].Name == name {
			return &m.Internals[i]
		}
	}
	return nil
}
