package ruleset

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imp-platform/imp/alloc"
	"github.com/imp-platform/imp/catalog"
	"github.com/imp-platform/imp/config"
)

func natDefinition() *catalog.Definition {
	return &catalog.Definition{
		Name: "nat",
		Topology: catalog.Topology{Connections: []catalog.Connection{
			{Name: "internal"},
			{Name: "external", CreateLCP: true},
		}},
		CPU: catalog.CPU{IdealCores: 2},
		ABF: &catalog.ABF{
			Source:      "internal_interfaces",
			Exclude:     []string{"container_network", "bypass_pairs"},
			PrefixField: "bgp_prefix",
		},
		Routing: &catalog.Routing{Advertise: []catalog.Advertise{
			{ConfigField: "bgp_prefix", ViaConnection: "external", AddressFamily: "ipv4"},
		}},
	}
}

func natConfig() *config.RouterConfig {
	cfg := config.DefaultConfig()
	cfg.External = config.Interface{
		Name:  "external",
		Iface: "eth0",
		IPv4:  []config.Addr{{Address: "203.0.113.1", Prefix: 30}},
	}
	cfg.Internals = []config.Interface{
		{Name: "internal1", Iface: "eth1", IPv4: []config.Addr{{Address: "192.168.20.1", Prefix: 24}}},
		{Name: "internal2", Iface: "eth2", IPv4: []config.Addr{{Address: "192.168.30.1", Prefix: 24}}},
	}
	cfg.NAT.BypassPairs = []config.BypassPair{
		{Source: "192.168.20.0/24", Destination: "192.168.30.0/24"},
	}
	cfg.CPU.ModulePool = "10-15"
	cfg.Modules = []config.ModuleInstance{{
		Name:    "nat",
		Enabled: true,
		Config:  map[string]any{"bgp_prefix": "203.0.113.4/30"},
	}}
	return cfg
}

func synthesize(t *testing.T, cfg *config.RouterConfig, cat *catalog.Catalog) *Rules {
	t.Helper()
	a, errs := alloc.Allocate(cfg, cat)
	require.Empty(t, errs)
	rules, errs := Synthesize(cfg, cat, a)
	require.Empty(t, errs)
	return rules
}

func TestSynthesizePolicies(t *testing.T) {
	cfg := natConfig()
	rules := synthesize(t, cfg, catalog.New(natDefinition()))

	// One policy per internal interface, IDs in declaration order.
	require.Len(t, rules.Policies, 2)
	require.Equal(t, 1, rules.Policies[0].ID)
	require.Equal(t, "internal1", rules.Policies[0].Interface)
	require.Equal(t, 2, rules.Policies[1].ID)
	require.Equal(t, "internal2", rules.Policies[1].Interface)

	p := rules.Policies[0]
	require.Equal(t, "nat", p.Module)
	require.Equal(t, "internal", p.Connection)
	require.Equal(t, netip.MustParseAddr("169.254.1.1"), p.NextHop)

	// Deny carve-outs precede the permit.
	require.Equal(t, []Rule{
		{Destination: cfg.Container.Network},
		{Source: "192.168.20.0/24", Destination: "192.168.30.0/24"},
		{Permit: true, Destination: "203.0.113.4/30"},
	}, p.Rules)
}

func TestSynthesizeAdvertisements(t *testing.T) {
	rules := synthesize(t, natConfig(), catalog.New(natDefinition()))

	require.Equal(t, []Advertisement{{
		Module:        "nat",
		Connection:    "external",
		Prefix:        "203.0.113.4/30",
		NextHop:       netip.MustParseAddr("169.254.1.3"),
		AddressFamily: "ipv4",
	}}, rules.Advertisements)
}

func TestSynthesizeUnsetPrefixFieldSteersNothing(t *testing.T) {
	cfg := natConfig()
	cfg.Modules[0].Config = map[string]any{}

	rules := synthesize(t, cfg, catalog.New(natDefinition()))
	require.Empty(t, rules.Policies)
	require.Empty(t, rules.Advertisements)
}

func TestSynthesizePrefixList(t *testing.T) {
	def := natDefinition()
	cfg := natConfig()
	cfg.Modules[0].Config = map[string]any{
		"bgp_prefix": []any{"203.0.113.4/30", "203.0.113.8/30"},
	}

	rules := synthesize(t, cfg, catalog.New(def))
	require.Len(t, rules.Advertisements, 2)
	// Two internal interfaces, one policy each, both permitting both
	// prefixes.
	require.Len(t, rules.Policies, 2)
	require.Equal(t, Rule{Permit: true, Destination: "203.0.113.4/30"}, rules.Policies[0].Rules[2])
	require.Equal(t, Rule{Permit: true, Destination: "203.0.113.8/30"}, rules.Policies[0].Rules[3])
}

func TestSynthesizeConnectionSource(t *testing.T) {
	def := natDefinition()
	def.ABF.Source = "external"
	def.ABF.Exclude = nil

	rules := synthesize(t, natConfig(), catalog.New(def))
	require.Len(t, rules.Policies, 1)
	require.Equal(t, "external", rules.Policies[0].SourceConnection)
	require.Empty(t, rules.Policies[0].Interface)
}

func TestSynthesizeBadPrefixValue(t *testing.T) {
	cfg := natConfig()
	cfg.Modules[0].Config = map[string]any{"bgp_prefix": 42}
	cat := catalog.New(natDefinition())

	a, errs := alloc.Allocate(cfg, cat)
	require.Empty(t, errs)

	rules, errs := Synthesize(cfg, cat, a)
	require.Nil(t, rules)
	require.Len(t, errs, 1)

	serr := &SynthesisError{}
	require.ErrorAs(t, errs[0], &serr)
	require.Equal(t, "nat", serr.Module)
}
