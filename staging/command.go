package staging

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/imp-platform/imp/catalog"
	"github.com/imp-platform/imp/config"
)

// CommandError reports a module command that could not be executed.
type CommandError struct {
	Module  string
	Command string
	Msg     string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("module %q: command %s: %s", e.Module, e.Command, e.Msg)
}

func cmdErr(module, command, format string, args ...any) *CommandError {
	return &CommandError{Module: module, Command: command, Msg: fmt.Sprintf(format, args...)}
}

// Result is the output of a read-only command action.
type Result struct {
	Lines []string
}

// Execute runs a module command descriptor against the staged
// configuration. Mutating actions stage the change; list and show
// actions only read.
func (m *Session) Execute(def *catalog.Definition, path string, params map[string]any) (*Result, error) {
	var cmd *catalog.Command
	for i := range def.Commands {
		if def.Commands[i].Path == path {
			cmd = &def.Commands[i]
			break
		}
	}
	if cmd == nil {
		return nil, cmdErr(def.Name, path, "no such command")
	}

	values, err := resolveParams(def.Name, cmd, params)
	if err != nil {
		return nil, err
	}

	inst := m.current.Module(def.Name)
	if inst == nil || !inst.Enabled {
		return nil, cmdErr(def.Name, path, "module is not enabled")
	}

	switch cmd.Action {
	case "array_append":
		return nil, m.stageModuleEdit(def, func(cfg map[string]any) error {
			return arrayAppend(def, cmd, cfg, values)
		})
	case "array_remove":
		return nil, m.stageModuleEdit(def, func(cfg map[string]any) error {
			return arrayRemove(def, cmd, cfg, values)
		})
	case "set_value":
		return nil, m.stageModuleEdit(def, func(cfg map[string]any) error {
			return setValue(def.Name, cmd, cfg, values)
		})
	case "array_list":
		return arrayList(def.Name, cmd, inst.Config)
	case "show":
		return showValue(def.Name, cmd, inst.Config)
	default:
		return nil, cmdErr(def.Name, path, "invalid action %q", cmd.Action)
	}
}

// stageModuleEdit applies an edit to a copy of the module config,
// re-validates the instance against its schema and swaps the copy in
// only when it conforms. A rejected edit stages nothing.
func (m *Session) stageModuleEdit(def *catalog.Definition, edit func(cfg map[string]any) error) error {
	return m.Mutate(func(cfg *config.RouterConfig) error {
		next := cfg.Clone()
		inst := next.Module(def.Name)
		if inst.Config == nil {
			inst.Config = map[string]any{}
		}
		if err := edit(inst.Config); err != nil {
			return err
		}
		if errs := def.ValidateInstanceConfig(inst.Config); len(errs) > 0 {
			return errs[0]
		}

		*cfg = *next
		return nil
	})
}

func arrayAppend(def *catalog.Definition, cmd *catalog.Command, cfg map[string]any, values map[string]any) error {
	module := def.Name
	items, err := arrayField(module, cmd, cfg)
	if err != nil {
		return err
	}

	// Arrays without an item schema hold plain values.
	if field, ok := def.ConfigSchema[cmd.Target]; ok && len(field.ItemSchema) == 0 {
		if len(cmd.Params) != 1 {
			return cmdErr(module, cmd.Path, "append to a plain array takes exactly one parameter")
		}
		value := values[cmd.Params[0].Name]
		for _, existing := range items {
			if toString(existing) == toString(value) {
				return cmdErr(module, cmd.Path, "entry %s already exists", toString(value))
			}
		}
		cfg[cmd.Target] = append(items, value)
		return nil
	}

	item := map[string]any{}
	for _, param := range cmd.Params {
		if v, ok := values[param.Name]; ok {
			item[param.Name] = v
		}
	}

	// Items must be unique on the compound key.
	for _, existing := range items {
		obj, ok := existing.(map[string]any)
		if !ok {
			continue
		}
		if matchesKey(obj, item, cmd.Key) {
			return cmdErr(module, cmd.Path, "entry with %s already exists", keyString(item, cmd.Key))
		}
	}

	cfg[cmd.Target] = append(items, item)
	return nil
}

func arrayRemove(def *catalog.Definition, cmd *catalog.Command, cfg map[string]any, values map[string]any) error {
	module := def.Name
	items, err := arrayField(module, cmd, cfg)
	if err != nil {
		return err
	}

	var kept []any
	if field, ok := def.ConfigSchema[cmd.Target]; ok && len(field.ItemSchema) == 0 {
		if len(cmd.Params) != 1 {
			return cmdErr(module, cmd.Path, "remove from a plain array takes exactly one parameter")
		}
		value := values[cmd.Params[0].Name]
		kept = slices.DeleteFunc(slices.Clone(items), func(existing any) bool {
			return toString(existing) == toString(value)
		})
	} else {
		kept = slices.DeleteFunc(slices.Clone(items), func(existing any) bool {
			obj, ok := existing.(map[string]any)
			return ok && matchesKey(obj, values, cmd.Key)
		})
	}
	if len(kept) == len(items) {
		return cmdErr(module, cmd.Path, "no entry with %s", keyString(values, cmd.Key))
	}

	cfg[cmd.Target] = kept
	return nil
}

func setValue(module string, cmd *catalog.Command, cfg map[string]any, values map[string]any) error {
	if len(cmd.Params) != 1 {
		return cmdErr(module, cmd.Path, "set_value takes exactly one parameter")
	}
	value, ok := values[cmd.Params[0].Name]
	if !ok {
		return cmdErr(module, cmd.Path, "missing parameter %q", cmd.Params[0].Name)
	}

	cfg[cmd.Target] = value
	return nil
}

var formatFieldRe = regexp.MustCompile(`\{([a-z][a-z0-9_]*)\}`)

func arrayList(module string, cmd *catalog.Command, cfg map[string]any) (*Result, error) {
	items, err := arrayField(module, cmd, cfg)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			result.Lines = append(result.Lines, fmt.Sprint(item))
			continue
		}
		line := formatFieldRe.ReplaceAllStringFunc(cmd.Format, func(ref string) string {
			field := ref[1 : len(ref)-1]
			return toString(obj[field])
		})
		result.Lines = append(result.Lines, line)
	}
	return result, nil
}

func showValue(module string, cmd *catalog.Command, cfg map[string]any) (*Result, error) {
	value, ok := cfg[cmd.Target]
	if !ok || value == nil {
		return &Result{Lines: []string{cmd.Target + " is not set"}}, nil
	}
	return &Result{Lines: []string{fmt.Sprintf("%s = %s", cmd.Target, toString(value))}}, nil
}

func arrayField(module string, cmd *catalog.Command, cfg map[string]any) ([]any, error) {
	value, ok := cfg[cmd.Target]
	if !ok || value == nil {
		return nil, nil
	}
	items, ok := value.([]any)
	if !ok {
		return nil, cmdErr(module, cmd.Path, "field %q is not an array", cmd.Target)
	}
	return items, nil
}

func matchesKey(obj, want map[string]any, key []string) bool {
	if len(key) == 0 {
		return false
	}
	for _, field := range key {
		if toString(obj[field]) != toString(want[field]) {
			return false
		}
	}
	return true
}

func keyString(values map[string]any, key []string) string {
	parts := make([]string, 0, len(key))
	for _, field := range key {
		parts = append(parts, fmt.Sprintf("%s=%s", field, toString(values[field])))
	}
	return strings.Join(parts, " ")
}

func toString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// resolveParams validates command parameters against their declared
// types and normalizes the values.
func resolveParams(module string, cmd *catalog.Command, params map[string]any) (map[string]any, error) {
	values := map[string]any{}

	for _, param := range cmd.Params {
		raw, ok := params[param.Name]
		if !ok || raw == nil {
			if param.Required {
				return nil, cmdErr(module, cmd.Path, "missing required parameter %q", param.Name)
			}
			continue
		}

		value, err := coerceParam(param, raw)
		if err != nil {
			return nil, cmdErr(module, cmd.Path, "parameter %q: %v", param.Name, err)
		}
		values[param.Name] = value
	}

	for name := range params {
		known := slices.ContainsFunc(cmd.Params, func(p catalog.CommandParam) bool { return p.Name == name })
		if !known {
			return nil, cmdErr(module, cmd.Path, "unknown parameter %q", name)
		}
	}

	return values, nil
}

func coerceParam(param catalog.CommandParam, raw any) (any, error) {
	switch param.Type {
	case "string", "ipv4", "ipv6", "ipv4_cidr", "ipv6_cidr", "choice":
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("must be a string, got %T", raw)
		}
		switch param.Type {
		case "ipv4":
			if !config.ValidIPv4(s) {
				return nil, fmt.Errorf("invalid IPv4 address %q", s)
			}
		case "ipv6":
			if !config.ValidIPv6(s) {
				return nil, fmt.Errorf("invalid IPv6 address %q", s)
			}
		case "ipv4_cidr":
			if !config.ValidIPv4CIDR(s) {
				return nil, fmt.Errorf("invalid IPv4 CIDR %q", s)
			}
		case "ipv6_cidr":
			if !config.ValidIPv6CIDR(s) {
				return nil, fmt.Errorf("invalid IPv6 CIDR %q", s)
			}
		case "choice":
			if !slices.Contains(param.Choices, s) {
				return nil, fmt.Errorf("must be one of %v, got %q", param.Choices, s)
			}
		}
		return s, nil

	case "integer":
		switch v := raw.(type) {
		case int:
			return v, nil
		case float64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("must be an integer, got %v", v)
			}
			return int(v), nil
		case string:
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("must be an integer, got %q", v)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("must be an integer, got %T", raw)
		}

	case "boolean":
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("must be a boolean, got %q", v)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("must be a boolean, got %T", raw)
		}

	default:
		return nil, fmt.Errorf("unsupported parameter type %q", param.Type)
	}
}
