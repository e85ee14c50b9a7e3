// Package catalog loads and validates module definitions: the
// declarative documents describing pluggable dataplane modules, their
// connection topology, resource requests, config schema and artifact
// template.
package catalog

import (
	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Connection is a shared-memory packet interface requested by a module.
// Each connection pairs the core dataplane with the module process.
type Connection struct {
	Name    string `yaml:"name"`
	Purpose string `yaml:"purpose"`
	// CreateLCP mirrors the connection into the Linux control plane so
	// the routing daemon can see it.
	CreateLCP bool `yaml:"create_lcp"`
}

// Topology declares the connections a module needs.
type Topology struct {
	Connections []Connection `yaml:"connections"`
}

// CPU is the module's core request. MinCores == 0 means the module may
// run on shared cores.
type CPU struct {
	MinCores   int `yaml:"min_cores"`
	IdealCores int `yaml:"ideal_cores"`
}

func (m *CPU) UnmarshalYAML(value *yaml.Node) error {
	type raw CPU
	out := raw{IdealCores: 2}
	if err := value.Decode(&out); err != nil {
		return err
	}
	*m = CPU(out)
	return nil
}

// FieldSchema is a single typed field of a module's config schema,
// resolved once at catalog load time.
type FieldSchema struct {
	// Type is one of string, array, integer, boolean, choice.
	Type string `yaml:"type"`
	// Format is an optional value validator: ipv4_cidr, ipv6_cidr,
	// ipv4, ipv6.
	Format      string `yaml:"format"`
	Description string `yaml:"description"`
	Default     any    `yaml:"default"`
	Required    bool   `yaml:"required"`
	// Choices enumerates the valid values for type "choice".
	Choices []string `yaml:"choices"`
	// ItemSchema types the object fields of array items.
	ItemSchema map[string]FieldSchema `yaml:"item_schema"`
}

func (m *FieldSchema) UnmarshalYAML(value *yaml.Node) error {
	type raw FieldSchema
	out := raw{Type: "string"}
	if err := value.Decode(&out); err != nil {
		return err
	}
	*m = FieldSchema(out)
	return nil
}

// ShowCommand is a read-only dataplane command exposed by the module.
type ShowCommand struct {
	Name        string `yaml:"name"`
	Command     string `yaml:"command"`
	Description string `yaml:"description"`
}

// ABF declares ACL-based forwarding: which traffic is diverted into the
// module and which pairs are excluded from diversion.
type ABF struct {
	// Source is "internal_interfaces" or a connection name.
	Source string `yaml:"source"`
	Match  string `yaml:"match"`
	// Exclude names shared exclusion lists: "container_network",
	// "bypass_pairs".
	Exclude []string `yaml:"exclude"`
	// PrefixField names the config field holding the match prefix(es).
	PrefixField string `yaml:"prefix_field"`
}

// Advertise is a single routing advertisement declaration: the prefixes
// in ConfigField are routed (and announced, when BGP runs) via the
// named connection.
type Advertise struct {
	ConfigField   string `yaml:"config_field"`
	ViaConnection string `yaml:"via_connection"`
	AddressFamily string `yaml:"address_family"`
}

func (m *Advertise) UnmarshalYAML(value *yaml.Node) error {
	type raw Advertise
	out := raw{AddressFamily: "ipv4"}
	if err := value.Decode(&out); err != nil {
		return err
	}
	*m = Advertise(out)
	return nil
}

// Routing groups the module's routing declarations.
type Routing struct {
	Advertise []Advertise `yaml:"advertise"`
}

// CommandParam is a single prompt-able parameter of a CLI command.
type CommandParam struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Prompt string `yaml:"prompt"`
	// Required defaults to true.
	Required bool     `yaml:"required"`
	Choices  []string `yaml:"choices"`
}

func (m *CommandParam) UnmarshalYAML(value *yaml.Node) error {
	type raw CommandParam
	out := raw{Type: "string", Required: true}
	if err := value.Decode(&out); err != nil {
		return err
	}
	*m = CommandParam(out)
	return nil
}

// StringList decodes a YAML scalar or sequence into a list of strings,
// so compound uniqueness keys can be written either way.
type StringList []string

func (m *StringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*m = StringList{s}
		return nil
	}

	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*m = StringList(list)
	return nil
}

// Command is a CLI command descriptor driving the staging layer.
type Command struct {
	// Path is the command location under the module menu, e.g.
	// "mappings/add".
	Path        string `yaml:"path"`
	Description string `yaml:"description"`
	// Action is one of array_append, array_remove, array_list,
	// set_value, show.
	Action string `yaml:"action"`
	// Target is the config field the action operates on.
	Target string `yaml:"target"`
	// Key holds the field(s) establishing uniqueness of array items.
	Key StringList `yaml:"key"`
	// Format is the display format for array_list.
	Format string         `yaml:"format"`
	Params []CommandParam `yaml:"params"`
}

// Definition is a complete module definition parsed from a catalog
// document.
type Definition struct {
	Name           string   `yaml:"name"`
	DisplayName    string   `yaml:"display_name"`
	Description    string   `yaml:"description"`
	Topology       Topology `yaml:"topology"`
	Plugins        []string `yaml:"plugins"`
	DisablePlugins []string `yaml:"disable_plugins"`
	CPU            CPU      `yaml:"cpu"`
	// Memory is the dataplane heap the module instance is started
	// with.
	Memory       datasize.ByteSize      `yaml:"memory"`
	ConfigSchema map[string]FieldSchema `yaml:"config_schema"`
	ShowCommands []ShowCommand          `yaml:"show_commands"`
	ABF          *ABF                   `yaml:"abf"`
	Routing      *Routing               `yaml:"routing"`
	Commands     []Command              `yaml:"commands"`
	// Template is the body of the module's runtime command artifact.
	Template string `yaml:"template"`
}

// ConnectionNames returns the declared connection names in order.
func (m *Definition) ConnectionNames() []string {
	out := make([]string, 0, len(m.Topology.Connections))
	for _, conn := range m.Topology.Connections {
		out = append(out, conn.Name)
	}
	return out
}

// ConfigWithDefaults returns the instance config with schema defaults
// filled in for unset fields. Declared fields without a default are
// seeded with their type's zero value, so templates can reference any
// schema field and rendering fails only on genuinely undeclared names.
// The instance config is not modified.
func (m *Definition) ConfigWithDefaults(cfg map[string]any) map[string]any {
	out := make(map[string]any, len(m.ConfigSchema))
	for name, field := range m.ConfigSchema {
		switch {
		case field.Default != nil:
			out[name] = field.Default
		case field.Type == "array":
			out[name] = []any{}
		case field.Type == "integer":
			out[name] = 0
		case field.Type == "boolean":
			out[name] = false
		default:
			out[name] = ""
		}
	}
	for name, value := range cfg {
		out[name] = value
	}
	return out
}

// Connection returns the named connection, or nil.
func (m *Definition) Connection(name string) *Connection {
	for i := range m.Topology.Connections {
		if m.Topology.Connections[i].Name == name {
			return &m.Topology.Connections[i]
		}
	}
	return nil
}
