package catalog

import (
	"fmt"
	"maps"
	"regexp"
	"slices"

	"github.com/imp-platform/imp/common/xtemplate"
	"github.com/imp-platform/imp/config"
)

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

var moduleNameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

var validFieldTypes = map[string]bool{
	"string":  true,
	"array":   true,
	"integer": true,
	"boolean": true,
	"choice":  true,
}

var validFormats = map[string]bool{
	"":          true,
	"ipv4_cidr": true,
	"ipv6_cidr": true,
	"ipv4":      true,
	"ipv6":      true,
}

var validActions = map[string]bool{
	"array_append": true,
	"array_remove": true,
	"array_list":   true,
	"set_value":    true,
	"show":         true,
}

var validParamTypes = map[string]bool{
	"ipv4_cidr": true,
	"ipv6_cidr": true,
	"ipv4":      true,
	"ipv6":      true,
	"string":    true,
	"integer":   true,
	"boolean":   true,
	"choice":    true,
}

// validateDefinition checks a parsed definition against the schema
// rules. All violations are collected; references are resolved here, at
// load time, never at render time.
func validateDefinition(def *Definition) []string {
	var errs []string

	// Required fields first: without them the rest cannot be checked
	// meaningfully.
	if def.Name == "" {
		errs = append(errs, "missing required field: name")
	}
	if len(def.Topology.Connections) == 0 {
		errs = append(errs, "missing required field: topology.connections")
	}
	if def.Template == "" {
		errs = append(errs, "missing required field: template")
	}
	if len(errs) > 0 {
		return errs
	}

	if !moduleNameRe.MatchString(def.Name) {
		errs = append(errs, fmt.Sprintf("invalid module name %q: must match %s", def.Name, moduleNameRe))
	}

	connNames := map[string]bool{}
	for i, conn := range def.Topology.Connections {
		if conn.Name == "" {
			errs = append(errs, fmt.Sprintf("topology.connections[%d]: missing name", i))
			continue
		}
		if connNames[conn.Name] {
			errs = append(errs, fmt.Sprintf("duplicate connection name %q", conn.Name))
		}
		connNames[conn.Name] = true
	}

	// A dedicated-core module must ask for at least its own floor,
	// otherwise allocation would grant fewer cores than min_cores
	// without noticing.
	if def.CPU.MinCores > 0 && def.CPU.IdealCores < def.CPU.MinCores {
		errs = append(errs, fmt.Sprintf("cpu: ideal_cores %d is below min_cores %d", def.CPU.IdealCores, def.CPU.MinCores))
	}

	for name, field := range def.ConfigSchema {
		if !validFieldTypes[field.Type] {
			errs = append(errs, fmt.Sprintf("config_schema.%s: invalid type %q", name, field.Type))
		}
		if !validFormats[field.Format] {
			errs = append(errs, fmt.Sprintf("config_schema.%s: invalid format %q", name, field.Format))
		}
		if field.Type == "choice" && len(field.Choices) == 0 {
			errs = append(errs, fmt.Sprintf("config_schema.%s: type choice requires choices", name))
		}
		for itemName, item := range field.ItemSchema {
			if !validFieldTypes[item.Type] {
				errs = append(errs, fmt.Sprintf("config_schema.%s.item_schema.%s: invalid type %q", name, itemName, item.Type))
			}
			if !validFormats[item.Format] {
				errs = append(errs, fmt.Sprintf("config_schema.%s.item_schema.%s: invalid format %q", name, itemName, item.Format))
			}
		}
	}

	if def.ABF != nil {
		if def.ABF.Source != "" && def.ABF.Source != "internal_interfaces" && !connNames[def.ABF.Source] {
			errs = append(errs, fmt.Sprintf("abf.source %q is not a connection name or internal_interfaces", def.ABF.Source))
		}
		if def.ABF.PrefixField != "" {
			if _, ok := def.ConfigSchema[def.ABF.PrefixField]; !ok {
				errs = append(errs, fmt.Sprintf("abf.prefix_field %q not found in config_schema", def.ABF.PrefixField))
			}
		}
	}

	if def.Routing != nil {
		for i, adv := range def.Routing.Advertise {
			if adv.ConfigField == "" {
				errs = append(errs, fmt.Sprintf("routing.advertise[%d]: missing config_field", i))
			} else if _, ok := def.ConfigSchema[adv.ConfigField]; !ok {
				errs = append(errs, fmt.Sprintf("routing.advertise[%d]: config_field %q not found in config_schema", i, adv.ConfigField))
			}
			if adv.ViaConnection == "" {
				errs = append(errs, fmt.Sprintf("routing.advertise[%d]: missing via_connection", i))
			} else if !connNames[adv.ViaConnection] {
				errs = append(errs, fmt.Sprintf("routing.advertise[%d]: via_connection %q not found in connections", i, adv.ViaConnection))
			}
			if adv.AddressFamily != "ipv4" && adv.AddressFamily != "ipv6" {
				errs = append(errs, fmt.Sprintf("routing.advertise[%d]: address_family must be ipv4 or ipv6, got %q", i, adv.AddressFamily))
			}
		}
	}

	for i, cmd := range def.Commands {
		if cmd.Path == "" {
			errs = append(errs, fmt.Sprintf("commands[%d]: missing path", i))
		}
		if cmd.Action == "" {
			errs = append(errs, fmt.Sprintf("commands[%d]: missing action", i))
		} else if !validActions[cmd.Action] {
			errs = append(errs, fmt.Sprintf("commands[%d]: invalid action %q", i, cmd.Action))
		}

		var target *FieldSchema
		if cmd.Target == "" {
			errs = append(errs, fmt.Sprintf("commands[%d]: missing target", i))
		} else if field, ok := def.ConfigSchema[cmd.Target]; !ok {
			errs = append(errs, fmt.Sprintf("commands[%d]: target %q not found in config_schema", i, cmd.Target))
		} else {
			target = &field
		}

		if target != nil && len(target.ItemSchema) > 0 {
			for _, key := range cmd.Key {
				if _, ok := target.ItemSchema[key]; !ok {
					errs = append(errs, fmt.Sprintf("commands[%d]: key %q not found in %s item_schema", i, key, cmd.Target))
				}
			}
		}

		for j, param := range cmd.Params {
			if param.Name == "" {
				errs = append(errs, fmt.Sprintf("commands[%d].params[%d]: missing name", i, j))
			}
			if !validParamTypes[param.Type] {
				errs = append(errs, fmt.Sprintf("commands[%d].params[%d]: invalid type %q", i, j, param.Type))
			}
			if param.Type == "choice" && len(param.Choices) == 0 {
				errs = append(errs, fmt.Sprintf("commands[%d].params[%d]: type choice requires choices", i, j))
			}
		}
	}

	for i, show := range def.ShowCommands {
		if show.Name == "" {
			errs = append(errs, fmt.Sprintf("show_commands[%d]: missing name", i))
		}
		if show.Command == "" {
			errs = append(errs, fmt.Sprintf("show_commands[%d]: missing command", i))
		}
	}

	// Syntax-check the template body; it is not executed here.
	if _, err := xtemplate.Parse(def.Name, def.Template); err != nil {
		errs = append(errs, fmt.Sprintf("template: %v", err))
	}

	return errs
}

// ConfigError reports a module instance config value that does not
// conform to the module's schema.
type ConfigError struct {
	Module string
	Field  string
	Msg    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("module %q: %s: %s", e.Module, e.Field, e.Msg)
}

func confErr(module, field, format string, args ...any) *ConfigError {
	return &ConfigError{Module: module, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// ValidateInstanceConfig checks a module instance config against the
// definition's schema. All violations are returned.
func (m *Definition) ValidateInstanceConfig(cfg map[string]any) []error {
	var errs []error

	for name := range cfg {
		if _, ok := m.ConfigSchema[name]; !ok {
			errs = append(errs, confErr(m.Name, name, "unknown config field"))
		}
	}

	for _, name := range sortedKeys(m.ConfigSchema) {
		field := m.ConfigSchema[name]
		value, ok := cfg[name]
		if !ok || value == nil {
			if field.Required {
				errs = append(errs, confErr(m.Name, name, "missing required config field"))
			}
			continue
		}
		errs = append(errs, checkValue(m.Name, name, field, value)...)
	}

	return errs
}

func checkValue(module, field string, schema FieldSchema, value any) []error {
	var errs []error

	switch schema.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return []error{confErr(module, field, "must be a string, got %T", value)}
		}
		if err := checkFormat(module, field, schema.Format, s); err != nil {
			errs = append(errs, err)
		}

	case "choice":
		s, ok := value.(string)
		if !ok {
			return []error{confErr(module, field, "must be a string, got %T", value)}
		}
		if !slices.Contains(schema.Choices, s) {
			errs = append(errs, confErr(module, field, "must be one of %v, got %q", schema.Choices, s))
		}

	case "integer":
		if !isInteger(value) {
			errs = append(errs, confErr(module, field, "must be an integer, got %T", value))
		}

	case "boolean":
		if _, ok := value.(bool); !ok {
			errs = append(errs, confErr(module, field, "must be a boolean, got %T", value))
		}

	case "array":
		items, ok := value.([]any)
		if !ok {
			return []error{confErr(module, field, "must be an array, got %T", value)}
		}
		for i, item := range items {
			itemField := fmt.Sprintf("%s[%d]", field, i)
			if len(schema.ItemSchema) == 0 {
				s, ok := item.(string)
				if !ok {
					errs = append(errs, confErr(module, itemField, "must be a string, got %T", item))
					continue
				}
				if err := checkFormat(module, itemField, schema.Format, s); err != nil {
					errs = append(errs, err)
				}
				continue
			}

			obj, ok := item.(map[string]any)
			if !ok {
				errs = append(errs, confErr(module, itemField, "must be an object, got %T", item))
				continue
			}
			for _, key := range sortedKeys(schema.ItemSchema) {
				sub := schema.ItemSchema[key]
				subValue, ok := obj[key]
				if !ok || subValue == nil {
					if sub.Required {
						errs = append(errs, confErr(module, itemField+"."+key, "missing required field"))
					}
					continue
				}
				errs = append(errs, checkValue(module, itemField+"."+key, sub, subValue)...)
			}
		}
	}

	return errs
}

func checkFormat(module, field, format, value string) error {
	switch format {
	case "ipv4":
		if !config.ValidIPv4(value) {
			return confErr(module, field, "must be a valid IPv4 address, got %q", value)
		}
	case "ipv6":
		if !config.ValidIPv6(value) {
			return confErr(module, field, "must be a valid IPv6 address, got %q", value)
		}
	case "ipv4_cidr":
		if !config.ValidIPv4CIDR(value) {
			return confErr(module, field, "must be a valid IPv4 CIDR, got %q", value)
		}
	case "ipv6_cidr":
		if !config.ValidIPv6CIDR(value) {
			return confErr(module, field, "must be a valid IPv6 CIDR, got %q", value)
		}
	}
	return nil
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int32, int64, uint, uint32, uint64:
		return true
	case float64:
		// JSON numbers decode as float64.
		return v == float64(int64(v))
	default:
		return false
	}
}
