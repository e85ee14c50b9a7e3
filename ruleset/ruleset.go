// Package ruleset synthesizes traffic steering and routing rules from
// the declared configuration and the resource allocation: ACL-based
// forwarding policies that divert selected traffic into module
// dataplanes, and route advertisements for the prefixes the modules
// own.
package ruleset

import (
	"fmt"
	"net/netip"

	"github.com/imp-platform/imp/alloc"
	"github.com/imp-platform/imp/catalog"
	"github.com/imp-platform/imp/config"
)

// SynthesisError reports a module whose steering or routing
// declarations cannot be resolved.
type SynthesisError struct {
	Module string
	Msg    string
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("module %q: %s", e.Module, e.Msg)
}

func synthErr(module, format string, args ...any) *SynthesisError {
	return &SynthesisError{Module: module, Msg: fmt.Sprintf(format, args...)}
}

// Rule is a single ACL entry of a steering policy. Deny entries are
// carve-outs evaluated ahead of the permits.
type Rule struct {
	Permit bool
	// Source and Destination are CIDR prefixes; empty matches any.
	Source      string
	Destination string
}

// Policy diverts traffic matching its permit rules from one source
// interface into a module connection.
type Policy struct {
	ID     int
	Module string
	// Interface is the config interface the policy attaches to, empty
	// when the policy attaches to a module connection instead.
	Interface string
	// SourceConnection is set when traffic is taken from another
	// connection of the same module.
	SourceConnection string
	// Connection and NextHop identify the module ingress.
	Connection string
	NextHop    netip.Addr
	Rules      []Rule
}

// Advertisement is one prefix routed (and, with BGP enabled, announced)
// via a module connection.
type Advertisement struct {
	Module        string
	Connection    string
	Prefix        string
	NextHop       netip.Addr
	AddressFamily string
}

// Rules is the complete synthesized rule set.
type Rules struct {
	Policies       []Policy
	Advertisements []Advertisement
}

// Synthesize derives policies and advertisements for every enabled
// module. Errors stop the offending module but independent modules are
// still synthesized so all problems surface at once.
func Synthesize(cfg *config.RouterConfig, cat *catalog.Catalog, a *alloc.Allocation) (*Rules, []error) {
	var errs []error

	rules := &Rules{}
	policyID := 1
	for _, mod := range a.Modules {
		def, ok := cat.Get(mod.Name)
		if !ok {
			errs = append(errs, synthErr(mod.Name, "no definition for enabled module"))
			continue
		}
		inst := cfg.Module(mod.Name)
		if inst == nil {
			errs = append(errs, synthErr(mod.Name, "allocation references a module absent from config"))
			continue
		}

		policies, n, perr := steeringPolicies(cfg, def, &mod, inst, policyID)
		if perr != nil {
			errs = append(errs, perr)
			continue
		}
		policyID += n
		rules.Policies = append(rules.Policies, policies...)

		advs, aerr := advertisements(def, &mod, inst)
		if aerr != nil {
			errs = append(errs, aerr)
			continue
		}
		rules.Advertisements = append(rules.Advertisements, advs...)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return rules, nil
}

// steeringPolicies builds the ABF policies of one module. Policy IDs
// are handed out in source order so re-running over the same config
// yields the same IDs.
func steeringPolicies(cfg *config.RouterConfig, def *catalog.Definition, mod *alloc.Module, inst *config.ModuleInstance, nextID int) ([]Policy, int, error) {
	if def.ABF == nil {
		return nil, 0, nil
	}

	prefixes, err := fieldPrefixes(def.Name, def.ConfigWithDefaults(inst.Config), def.ABF.PrefixField)
	if err != nil {
		return nil, 0, err
	}
	if len(prefixes) == 0 {
		return nil, 0, nil
	}

	ingress := mod.Sockets[0]
	base := Policy{
		Module:     def.Name,
		Connection: ingress.Connection,
		NextHop:    ingress.ModuleAddr,
		Rules:      policyRules(cfg, def.ABF, prefixes),
	}

	var policies []Policy
	if def.ABF.Source == "internal_interfaces" {
		for _, iface := range cfg.Internals {
			p := base
			p.ID = nextID
			p.Interface = iface.Name
			policies = append(policies, p)
			nextID++
		}
		return policies, len(policies), nil
	}

	src := mod.Socket(def.ABF.Source)
	if src == nil {
		return nil, 0, synthErr(def.Name, "abf.source %q has no allocated connection", def.ABF.Source)
	}
	p := base
	p.ID = nextID
	p.SourceConnection = src.Connection
	return []Policy{p}, 1, nil
}

// policyRules expands the shared exclusion lists into deny entries and
// appends one permit per steered prefix.
func policyRules(cfg *config.RouterConfig, abf *catalog.ABF, prefixes []string) []Rule {
	var rules []Rule
	for _, exclude := range abf.Exclude {
		switch exclude {
		case "container_network":
			if cfg.Container.Network != "" {
				rules = append(rules, Rule{Destination: cfg.Container.Network})
			}
		case "bypass_pairs":
			for _, pair := range cfg.NAT.BypassPairs {
				rules = append(rules, Rule{Source: pair.Source, Destination: pair.Destination})
			}
		}
	}
	for _, prefix := range prefixes {
		rules = append(rules, Rule{Permit: true, Destination: prefix})
	}
	return rules
}

// advertisements resolves every routing.advertise entry against the
// instance config and the socket allocation.
func advertisements(def *catalog.Definition, mod *alloc.Module, inst *config.ModuleInstance) ([]Advertisement, error) {
	if def.Routing == nil {
		return nil, nil
	}

	var advs []Advertisement
	for _, adv := range def.Routing.Advertise {
		prefixes, err := fieldPrefixes(def.Name, def.ConfigWithDefaults(inst.Config), adv.ConfigField)
		if err != nil {
			return nil, err
		}

		via := mod.Socket(adv.ViaConnection)
		if via == nil {
			return nil, synthErr(def.Name, "via_connection %q has no allocated connection", adv.ViaConnection)
		}

		for _, prefix := range prefixes {
			advs = append(advs, Advertisement{
				Module:        def.Name,
				Connection:    via.Connection,
				Prefix:        prefix,
				NextHop:       via.ModuleAddr,
				AddressFamily: adv.AddressFamily,
			})
		}
	}

	return advs, nil
}

// fieldPrefixes reads a prefix-bearing config field: a single CIDR
// string or a list of them. An unset field steers nothing.
func fieldPrefixes(module string, cfg map[string]any, field string) ([]string, error) {
	if field == "" {
		return nil, nil
	}
	value, ok := cfg[field]
	if !ok || value == nil {
		return nil, nil
	}

	switch v := value.(type) {
	case string:
		if v == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, synthErr(module, "config field %q: prefix list items must be strings, got %T", field, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, synthErr(module, "config field %q: expected a prefix or prefix list, got %T", field, value)
	}
}
