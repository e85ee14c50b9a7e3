package config

import (
	"fmt"
	"net/netip"
	"regexp"
)

// ValidationError reports a single invariant violation, naming the
// exact field it concerns.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

var moduleNameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// ValidIPv4 reports whether s is a valid IPv4 address.
func ValidIPv4(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is4()
}

// ValidIPv6 reports whether s is a valid IPv6 address.
func ValidIPv6(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is6()
}

// ValidIPv4CIDR reports whether s is a valid IPv4 prefix in CIDR
// notation.
func ValidIPv4CIDR(s string) bool {
	prefix, err := netip.ParsePrefix(s)
	return err == nil && prefix.Addr().Is4()
}

// ValidIPv6CIDR reports whether s is a valid IPv6 prefix in CIDR
// notation.
func ValidIPv6CIDR(s string) bool {
	prefix, err := netip.ParsePrefix(s)
	return err == nil && prefix.Addr().Is6()
}

// Validate checks every model invariant and returns all violations
// found, never stopping at the first. An empty slice means the
// configuration is well-formed.
func (m *RouterConfig) Validate() []error {
	var errs []error

	if m.Hostname == "" {
		errs = append(errs, invalid("hostname", "must not be empty"))
	}

	errs = append(errs, m.validateRoles()...)
	errs = append(errs, m.validateAddressing()...)
	errs = append(errs, m.validateRoutes()...)
	errs = append(errs, m.validateBGP()...)
	errs = append(errs, m.validateNAT()...)
	errs = append(errs, m.validateContainer()...)
	errs = append(errs, m.validateModules()...)

	return errs
}

func (m *RouterConfig) validateRoles() []error {
	var errs []error

	if m.External.Iface == "" {
		errs = append(errs, invalid("external.iface", "exactly one external interface is required"))
	}
	if len(m.Internals) == 0 {
		errs = append(errs, invalid("internals", "at least one internal interface is required"))
	}

	// No kernel interface may be bound to more than one role.
	seen := map[string]string{}
	claim := func(field, iface string) {
		if iface == "" {
			return
		}
		if prev, ok := seen[iface]; ok {
			errs = append(errs, invalid(field, "interface %q is already assigned to %s", iface, prev))
			return
		}
		seen[iface] = field
	}

	if m.Management != nil {
		claim("management.iface", m.Management.Iface)
	}
	claim("external.iface", m.External.Iface)
	for i := range m.Internals {
		claim(fmt.Sprintf("internals[%d].iface", i), m.Internals[i].Iface)
	}

	// Role names must be unique too, since templates and modules
	// reference interfaces by name.
	names := map[string]bool{}
	for _, iface := range m.Interfaces() {
		if iface.Name == "" {
			continue
		}
		if names[iface.Name] {
			errs = append(errs, invalid("interfaces", "duplicate interface name %q", iface.Name))
		}
		names[iface.Name] = true
	}

	return errs
}

func (m *RouterConfig) validateAddressing() []error {
	var errs []error

	if m.Management != nil {
		switch m.Management.Mode {
		case "dhcp":
		case "static":
			if !ValidIPv4(m.Management.IPv4) {
				errs = append(errs, invalid("management.ipv4", "invalid IPv4 address %q", m.Management.IPv4))
			}
			if m.Management.IPv4Prefix < 0 || m.Management.IPv4Prefix > 32 {
				errs = append(errs, invalid("management.ipv4_prefix", "prefix length %d out of range 0-32", m.Management.IPv4Prefix))
			}
			if !ValidIPv4(m.Management.IPv4Gateway) {
				errs = append(errs, invalid("management.ipv4_gateway", "invalid IPv4 address %q", m.Management.IPv4Gateway))
			}
		default:
			errs = append(errs, invalid("management.mode", "must be dhcp or static, got %q", m.Management.Mode))
		}
	}

	validateIface := func(field string, iface *Interface, requireV4 bool) {
		if requireV4 && len(iface.IPv4) == 0 {
			errs = append(errs, invalid(field+".ipv4", "at least one IPv4 address is required"))
		}
		for i, addr := range iface.IPv4 {
			if !ValidIPv4(addr.Address) {
				errs = append(errs, invalid(fmt.Sprintf("%s.ipv4[%d]", field, i), "invalid IPv4 address %q", addr.Address))
			}
			if addr.Prefix < 0 || addr.Prefix > 32 {
				errs = append(errs, invalid(fmt.Sprintf("%s.ipv4[%d]", field, i), "prefix length %d out of range 0-32", addr.Prefix))
			}
		}
		for i, addr := range iface.IPv6 {
			if !ValidIPv6(addr.Address) {
				errs = append(errs, invalid(fmt.Sprintf("%s.ipv6[%d]", field, i), "invalid IPv6 address %q", addr.Address))
			}
			if addr.Prefix < 0 || addr.Prefix > 128 {
				errs = append(errs, invalid(fmt.Sprintf("%s.ipv6[%d]", field, i), "prefix length %d out of range 0-128", addr.Prefix))
			}
		}
	}

	if m.External.Iface != "" {
		validateIface("external", &m.External, true)
	}
	for i := range m.Internals {
		validateIface(fmt.Sprintf("internals[%d]", i), &m.Internals[i], false)
	}

	return errs
}

func (m *RouterConfig) validateRoutes() []error {
	var errs []error

	for i, route := range m.Routes {
		field := fmt.Sprintf("routes[%d]", i)

		dst, err := netip.ParsePrefix(route.Destination)
		if err != nil {
			errs = append(errs, invalid(field+".destination", "invalid CIDR %q", route.Destination))
			continue
		}
		via, err := netip.ParseAddr(route.Via)
		if err != nil {
			errs = append(errs, invalid(field+".via", "invalid next-hop %q", route.Via))
			continue
		}
		if dst.Addr().Is4() != via.Is4() {
			errs = append(errs, invalid(field, "destination %s and next-hop %s have different address families", route.Destination, route.Via))
		}
	}

	return errs
}

func (m *RouterConfig) validateBGP() []error {
	if !m.BGP.Enabled {
		return nil
	}

	var errs []error

	if m.BGP.ASN == 0 {
		errs = append(errs, invalid("bgp.asn", "local AS number is required"))
	}
	if !ValidIPv4(m.BGP.RouterID) {
		errs = append(errs, invalid("bgp.router_id", "invalid router ID %q", m.BGP.RouterID))
	}
	for i, peer := range m.BGP.Peers {
		field := fmt.Sprintf("bgp.peers[%d]", i)
		if peer.Name == "" {
			errs = append(errs, invalid(field+".name", "must not be empty"))
		}
		if !ValidIPv4(peer.PeerIP) && !ValidIPv6(peer.PeerIP) {
			errs = append(errs, invalid(field+".peer_ip", "invalid peer address %q", peer.PeerIP))
		}
		if peer.PeerASN == 0 {
			errs = append(errs, invalid(field+".peer_asn", "peer AS number is required"))
		}
	}

	return errs
}

func (m *RouterConfig) validateNAT() []error {
	var errs []error

	if m.NAT.BGPPrefix != "" && !ValidIPv4CIDR(m.NAT.BGPPrefix) {
		errs = append(errs, invalid("nat.bgp_prefix", "invalid IPv4 CIDR %q", m.NAT.BGPPrefix))
	}
	for i, mapping := range m.NAT.Mappings {
		field := fmt.Sprintf("nat.mappings[%d]", i)
		if !ValidIPv4CIDR(mapping.SourceNetwork) {
			errs = append(errs, invalid(field+".source_network", "invalid IPv4 CIDR %q", mapping.SourceNetwork))
		}
		if !ValidIPv4CIDR(mapping.NATPool) {
			errs = append(errs, invalid(field+".nat_pool", "invalid IPv4 CIDR %q", mapping.NATPool))
		}
	}
	for i, pair := range m.NAT.BypassPairs {
		field := fmt.Sprintf("nat.bypass_pairs[%d]", i)
		if !ValidIPv4CIDR(pair.Source) {
			errs = append(errs, invalid(field+".source", "invalid IPv4 CIDR %q", pair.Source))
		}
		if !ValidIPv4CIDR(pair.Destination) {
			errs = append(errs, invalid(field+".destination", "invalid IPv4 CIDR %q", pair.Destination))
		}
	}

	return errs
}

func (m *RouterConfig) validateContainer() []error {
	var errs []error

	if !ValidIPv4CIDR(m.Container.Network) {
		errs = append(errs, invalid("container.network", "invalid IPv4 CIDR %q", m.Container.Network))
	}
	if !ValidIPv4(m.Container.Gateway) {
		errs = append(errs, invalid("container.gateway", "invalid IPv4 address %q", m.Container.Gateway))
	}

	return errs
}

func (m *RouterConfig) validateModules() []error {
	var errs []error

	seen := map[string]bool{}
	for i, mod := range m.Modules {
		field := fmt.Sprintf("modules[%d]", i)
		if !moduleNameRe.MatchString(mod.Name) {
			errs = append(errs, invalid(field+".name", "invalid module name %q: must match %s", mod.Name, moduleNameRe))
			continue
		}
		if seen[mod.Name] {
			errs = append(errs, invalid(field+".name", "duplicate module %q", mod.Name))
		}
		seen[mod.Name] = true
	}

	return errs
}
