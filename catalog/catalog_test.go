package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"
)

const natDefinition = `
name: nat
display_name: Deterministic NAT
description: Deterministic NAT44 for internal networks.
topology:
  connections:
    - name: internal
      purpose: Receives internal traffic selected for translation.
    - name: external
      purpose: Carries translated traffic back to the core.
      create_lcp: true
plugins:
  - det44_plugin.so
cpu:
  min_cores: 0
  ideal_cores: 2
memory: 1g
config_schema:
  bgp_prefix:
    type: string
    format: ipv4_cidr
    description: Prefix advertised upstream for the NAT pool.
  mappings:
    type: array
    description: Deterministic source-to-pool mappings.
    item_schema:
      source_network:
        type: string
        format: ipv4_cidr
        required: true
      nat_pool:
        type: string
        format: ipv4_cidr
        required: true
abf:
  source: internal_interfaces
  match: destination_prefix
  exclude: [container_network, bypass_pairs]
  prefix_field: bgp_prefix
routing:
  advertise:
    - config_field: bgp_prefix
      via_connection: external
commands:
  - path: mappings/add
    description: Add a deterministic NAT mapping.
    action: array_append
    target: mappings
    key: [source_network, nat_pool]
    params:
      - name: source_network
        type: ipv4_cidr
        prompt: Internal source network
      - name: nat_pool
        type: ipv4_cidr
        prompt: Public NAT pool
  - path: set-prefix
    action: set_value
    target: bgp_prefix
    params:
      - name: bgp_prefix
        type: ipv4_cidr
        prompt: BGP prefix
show_commands:
  - name: sessions
    command: show det44 sessions
template: |
  {{- range .Module.Config.mappings }}
  det44 add in {{ .source_network }} out {{ .nat_pool }}
  {{- end }}
`

func writeDefinitions(t *testing.T, docs map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range docs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeDefinitions(t, map[string]string{"nat.yaml": natDefinition})

	cat, errs := Load(dir)
	require.Empty(t, errs)
	require.Equal(t, 1, cat.Len())

	def, ok := cat.Get("nat")
	require.True(t, ok)
	require.Equal(t, "Deterministic NAT", def.DisplayName)
	require.Equal(t, []string{"internal", "external"}, def.ConnectionNames())
	require.True(t, def.Connection("external").CreateLCP)
	require.Equal(t, 1*datasize.GB, def.Memory)
	require.Equal(t, 0, def.CPU.MinCores)
	require.Equal(t, 2, def.CPU.IdealCores)
	require.Equal(t, "bgp_prefix", def.Routing.Advertise[0].ConfigField)
	require.Equal(t, "ipv4", def.Routing.Advertise[0].AddressFamily)
	require.Equal(t, StringList{"source_network", "nat_pool"}, def.Commands[0].Key)
	require.True(t, def.Commands[0].Params[0].Required)
}

func TestLoadMissingDir(t *testing.T) {
	cat, errs := Load(filepath.Join(t.TempDir(), "missing"))
	require.Empty(t, errs)
	require.Equal(t, 0, cat.Len())
}

func TestLoadBrokenFileDoesNotBlockOthers(t *testing.T) {
	dir := writeDefinitions(t, map[string]string{
		"nat.yaml":    natDefinition,
		"broken.yaml": "name: broken\n", // no topology, no template
	})

	cat, errs := Load(dir)
	require.Len(t, errs, 2)
	require.Equal(t, 1, cat.Len())

	for _, err := range errs {
		lerr := &LoadError{}
		require.ErrorAs(t, err, &lerr)
		require.Equal(t, "broken.yaml", lerr.File)
	}
}

func TestLoadRejectsUnresolvedConnection(t *testing.T) {
	doc := `
name: badroute
topology:
  connections:
    - name: uplink
config_schema:
  prefix:
    type: string
    format: ipv4_cidr
routing:
  advertise:
    - config_field: prefix
      via_connection: downlink
template: "ok"
`
	dir := writeDefinitions(t, map[string]string{"badroute.yaml": doc})

	_, errs := Load(dir)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), `via_connection "downlink" not found in connections`)
}

func TestLoadRejectsBadCommand(t *testing.T) {
	doc := `
name: badcmd
topology:
  connections:
    - name: uplink
config_schema:
  mode:
    type: choice
    choices: [active, passive]
commands:
  - path: set-mode
    action: replace_value
    target: mode
  - path: set-missing
    action: set_value
    target: nope
template: "ok"
`
	dir := writeDefinitions(t, map[string]string{"badcmd.yaml": doc})

	_, errs := Load(dir)
	require.Len(t, errs, 2)
	require.Contains(t, errs[0].Error(), `invalid action "replace_value"`)
	require.Contains(t, errs[1].Error(), `target "nope" not found in config_schema`)
}

func TestLoadRejectsCPUBelowMinimum(t *testing.T) {
	doc := `
name: badcpu
topology:
  connections:
    - name: uplink
cpu:
  min_cores: 4
  ideal_cores: 2
template: "ok"
`
	dir := writeDefinitions(t, map[string]string{"badcpu.yaml": doc})

	_, errs := Load(dir)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), "ideal_cores 2 is below min_cores 4")
}

func TestLoadRejectsBadTemplate(t *testing.T) {
	doc := `
name: badtmpl
topology:
  connections:
    - name: uplink
template: "{{ .Module.Config.x"
`
	dir := writeDefinitions(t, map[string]string{"badtmpl.yaml": doc})

	_, errs := Load(dir)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), "template:")
}

func TestLoadDuplicateNames(t *testing.T) {
	minimal := `
name: dup
topology:
  connections:
    - name: uplink
template: "ok"
`
	dir := writeDefinitions(t, map[string]string{
		"a.yaml": minimal,
		"b.yaml": minimal,
	})

	cat, errs := Load(dir)
	require.Equal(t, 1, cat.Len())
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), `duplicate module name "dup"`)
}

func TestValidateInstanceConfig(t *testing.T) {
	dir := writeDefinitions(t, map[string]string{"nat.yaml": natDefinition})
	cat, errs := Load(dir)
	require.Empty(t, errs)
	def, _ := cat.Get("nat")

	good := map[string]any{
		"bgp_prefix": "203.0.113.4/30",
		"mappings": []any{
			map[string]any{"source_network": "192.168.20.0/24", "nat_pool": "203.0.113.4/30"},
		},
	}
	require.Empty(t, def.ValidateInstanceConfig(good))

	bad := map[string]any{
		"bgp_prefix": "not-a-cidr",
		"mappings": []any{
			map[string]any{"source_network": "192.168.20.0/24"},
		},
		"bogus": true,
	}
	errs2 := def.ValidateInstanceConfig(bad)
	require.Len(t, errs2, 3)

	var msgs []string
	for _, err := range errs2 {
		msgs = append(msgs, err.Error())
	}
	require.Contains(t, msgs[0], "unknown config field")
	require.Contains(t, msgs[1], "must be a valid IPv4 CIDR")
	require.Contains(t, msgs[2], "missing required field")
}

func TestConfigWithDefaults(t *testing.T) {
	def := &Definition{
		Name: "nat64",
		ConfigSchema: map[string]FieldSchema{
			"nat64_prefix": {Type: "string", Default: "64:ff9b::/96"},
			"pool":         {Type: "array"},
			"bgp_prefix":   {Type: "string", Format: "ipv4_cidr"},
			"sessions":     {Type: "integer"},
			"logging":      {Type: "boolean"},
		},
	}

	// Declared fields without a default are seeded with zero values, so
	// a freshly enabled module renders without any user input.
	merged := def.ConfigWithDefaults(nil)
	require.Equal(t, "64:ff9b::/96", merged["nat64_prefix"])
	require.Equal(t, []any{}, merged["pool"])
	require.Equal(t, "", merged["bgp_prefix"])
	require.Equal(t, 0, merged["sessions"])
	require.Equal(t, false, merged["logging"])

	// Instance values win and the input map is left alone.
	cfg := map[string]any{"bgp_prefix": "203.0.113.4/30"}
	merged = def.ConfigWithDefaults(cfg)
	require.Equal(t, "203.0.113.4/30", merged["bgp_prefix"])
	require.Equal(t, "64:ff9b::/96", merged["nat64_prefix"])
	require.Len(t, cfg, 1)
}

func TestInstallExample(t *testing.T) {
	examples := writeDefinitions(t, map[string]string{"nat.yaml": natDefinition})
	active := filepath.Join(t.TempDir(), "modules")

	require.NoError(t, InstallExample("nat", examples, active))
	require.Error(t, InstallExample("nat", examples, active), "already installed")
	require.Error(t, InstallExample("missing", examples, active))

	cat, errs := Load(active)
	require.Empty(t, errs)
	require.Equal(t, 1, cat.Len())
}
